package job

import (
	"time"

	"github.com/livekit/protocol/livekit"
)

// EventType represents the type of room event.
type EventType string

const (
	EventParticipantConnected    EventType = "participant_connected"
	EventParticipantDisconnected EventType = "participant_disconnected"
	EventTrackSubscribed         EventType = "track_subscribed"
	EventTrackUnsubscribed       EventType = "track_unsubscribed"
	EventTrackPublished          EventType = "track_published"
	EventDataReceived            EventType = "data_received"
	EventRoomMetadataChanged     EventType = "room_metadata_changed"

	// EventDisconnected is the last event before Events is closed by the
	// server side going away.
	EventDisconnected EventType = "disconnected"
)

// Event represents a room event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// Participant associated with the event (if applicable)
	Participant *Participant

	// Track associated with the event (if applicable)
	Track *livekit.TrackInfo

	Data     []byte
	Metadata string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// WithParticipant adds participant information to the event.
func (e *Event) WithParticipant(p Participant) *Event {
	e.Participant = &p
	return e
}

// WithTrack adds track information to the event.
func (e *Event) WithTrack(track *livekit.TrackInfo) *Event {
	e.Track = track
	return e
}

// WithData adds data payload to the event.
func (e *Event) WithData(data []byte) *Event {
	e.Data = data
	return e
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(metadata string) *Event {
	e.Metadata = metadata
	return e
}
