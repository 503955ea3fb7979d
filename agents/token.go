package agents

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

// DefaultTokenTTL is how long minted tokens stay valid.
const DefaultTokenTTL = 6 * time.Hour

// RoomToken mints a token that lets identity join room.
func RoomToken(apiKey, apiSecret, room, identity string, validFor time.Duration) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", errors.New("LiveKit API key and secret are required to mint tokens")
	}
	if room == "" {
		return "", errors.New("room name is required")
	}
	at := auth.NewAccessToken(apiKey, apiSecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(validFor)
	return at.ToJWT()
}

// WorkerToken mints the token the worker presents to the dispatcher.
func WorkerToken(apiKey, apiSecret, agentName string, validFor time.Duration) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", errors.New("LiveKit API key and secret are required to mint tokens")
	}
	at := auth.NewAccessToken(apiKey, apiSecret)
	at.AddGrant(&auth.VideoGrant{RoomList: true, RoomAdmin: true}).
		SetIdentity(agentName).
		SetValidFor(validFor)
	return at.ToJWT()
}
