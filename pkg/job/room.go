package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pion/webrtc/v3"
)

// Room wraps the LiveKit room connection and provides event handling,
// participant tracking and audio I/O.
type Room struct {
	// Events carries room events. It is closed by Disconnect.
	Events chan *Event

	cfg    RoomConfig
	room   *lksdk.Room
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu           sync.RWMutex
	connected    bool
	eventsClosed bool
	subscribe    AutoSubscribe
	participants map[string]Participant
	order        []string // identities in join order
	changed      chan struct{}
	output       *AudioTrack

	// subscribed audio tracks and open readers, keyed by identity
	tracks cmap.ConcurrentMap[string, *webrtc.TrackRemote]
	inputs cmap.ConcurrentMap[string, struct{}]
}

// RoomConfig contains configuration for connecting to a room.
type RoomConfig struct {
	URL      string
	Token    string
	RoomName string

	// Buffer size for events channel
	EventBufferSize int

	// TrackName is the name of the published agent audio track.
	TrackName string

	Logger *slog.Logger
}

// NewRoom creates a new Room wrapper with the given configuration.
func NewRoom(ctx context.Context, config RoomConfig) (*Room, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if config.RoomName == "" {
		return nil, fmt.Errorf("room name is required")
	}

	bufferSize := config.EventBufferSize
	if bufferSize == 0 {
		bufferSize = 100
	}
	if config.TrackName == "" {
		config.TrackName = "agent-voice"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	roomCtx, cancel := context.WithCancel(ctx)

	return &Room{
		Events:       make(chan *Event, bufferSize),
		cfg:          config,
		ctx:          roomCtx,
		cancel:       cancel,
		logger:       logger.With("component", "room", "room_name", config.RoomName),
		participants: make(map[string]Participant),
		changed:      make(chan struct{}),
		tracks:       cmap.New[*webrtc.TrackRemote](),
		inputs:       cmap.New[struct{}](),
	}, nil
}

// Connect establishes connection to the LiveKit room. Server-side
// auto-subscribe is disabled; publications are subscribed according to sub,
// including those of participants already in the room.
func (r *Room) Connect(sub AutoSubscribe) error {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	r.subscribe = sub
	r.mu.Unlock()

	callback := &lksdk.RoomCallback{
		OnDisconnected:            r.onDisconnected,
		OnParticipantConnected:    r.onParticipantConnected,
		OnParticipantDisconnected: r.onParticipantDisconnected,
		OnRoomMetadataChanged:     r.onRoomMetadataChanged,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   r.onTrackSubscribed,
			OnTrackUnsubscribed: r.onTrackUnsubscribed,
			OnTrackPublished:    r.onTrackPublished,
			OnDataReceived:      r.onDataReceived,
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(r.cfg.URL, r.cfg.Token, callback, lksdk.WithAutoSubscribe(false))
	if err != nil {
		return fmt.Errorf("failed to connect to room: %w", err)
	}

	r.mu.Lock()
	r.room = room
	r.connected = true
	r.mu.Unlock()

	r.logger.Info("Connected to LiveKit room",
		slog.String("url", r.cfg.URL),
		slog.String("auto_subscribe", sub.String()))

	for _, rp := range room.GetParticipants() {
		r.addParticipant(participantOf(rp))
		for _, pub := range rp.Tracks() {
			if remote, ok := pub.(*lksdk.RemoteTrackPublication); ok {
				r.maybeSubscribe(remote, rp)
			}
		}
	}

	return nil
}

// Disconnect closes the room connection and cleans up resources.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancel()

	if r.connected {
		r.connected = false
		if r.room != nil {
			r.room.Disconnect()
		}
		r.logger.Info("Disconnected from LiveKit room")
	}

	if !r.eventsClosed {
		close(r.Events)
		r.eventsClosed = true
	}

	return nil
}

// IsConnected returns true if the room is currently connected.
func (r *Room) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Done is closed when the connection is lost or Disconnect is called.
func (r *Room) Done() <-chan struct{} {
	return r.ctx.Done()
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.cfg.RoomName
}

// LocalParticipant returns the local participant.
func (r *Room) LocalParticipant() *lksdk.LocalParticipant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.room == nil {
		return nil
	}
	return r.room.LocalParticipant
}

// GetParticipants returns a copy of all remote participants keyed by identity.
func (r *Room) GetParticipants() map[string]Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Participant, len(r.participants))
	for k, v := range r.participants {
		result[k] = v
	}
	return result
}

// WaitForParticipant returns the first remote participant in the room,
// blocking until one joins. A timeout of zero waits until ctx is done.
func (r *Room) WaitForParticipant(ctx context.Context, timeout time.Duration) (Participant, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		r.mu.RLock()
		var (
			p     Participant
			found bool
		)
		if len(r.order) > 0 {
			p, found = r.participants[r.order[0]], true
		}
		changed := r.changed
		r.mu.RUnlock()

		if found {
			return p, nil
		}

		select {
		case <-changed:
		case <-deadline:
			return Participant{}, fmt.Errorf("%w after %s", ErrParticipantTimeout, timeout)
		case <-r.ctx.Done():
			return Participant{}, ErrRoomDisconnected
		case <-ctx.Done():
			return Participant{}, ctx.Err()
		}
	}
}

// notifyLocked wakes every waiter. r.mu must be held for writing.
func (r *Room) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Room) addParticipant(p Participant) {
	r.mu.Lock()
	if _, exists := r.participants[p.Identity]; !exists {
		r.order = append(r.order, p.Identity)
	}
	r.participants[p.Identity] = p
	r.notifyLocked()
	r.mu.Unlock()
}

func (r *Room) removeParticipant(identity string) {
	r.mu.Lock()
	delete(r.participants, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.notifyLocked()
	r.mu.Unlock()
	r.tracks.Remove(identity)
}

func (r *Room) wants(kind lksdk.TrackKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch r.subscribe {
	case SubscribeAll:
		return true
	case AudioOnly:
		return kind == lksdk.TrackKindAudio
	case VideoOnly:
		return kind == lksdk.TrackKindVideo
	}
	return false
}

func (r *Room) maybeSubscribe(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if !r.wants(pub.Kind()) || pub.IsSubscribed() {
		return
	}
	if err := pub.SetSubscribed(true); err != nil {
		r.logger.Error("Failed to subscribe to track",
			slog.String("participant", rp.Identity()),
			slog.String("track_sid", pub.SID()),
			slog.String("error", err.Error()))
		return
	}
	r.logger.Debug("Subscribing to track",
		slog.String("participant", rp.Identity()),
		slog.String("track_sid", pub.SID()),
		slog.String("track_type", pub.Kind().String()))
}

func participantOf(rp *lksdk.RemoteParticipant) Participant {
	return Participant{SID: rp.SID(), Identity: rp.Identity(), Name: rp.Name()}
}

func trackInfoOf(pub *lksdk.RemoteTrackPublication) *livekit.TrackInfo {
	return &livekit.TrackInfo{
		Sid:    pub.SID(),
		Name:   pub.Name(),
		Type:   pub.Kind().ProtoType(),
		Source: pub.Source(),
	}
}

// Event handlers

func (r *Room) onDisconnected() {
	r.logger.Warn("Room connection lost")
	r.sendEvent(NewEvent(EventDisconnected))

	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
	r.cancel()
}

func (r *Room) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	p := participantOf(rp)
	r.addParticipant(p)
	r.sendEvent(NewEvent(EventParticipantConnected).WithParticipant(p))

	r.logger.Info("Participant connected",
		slog.String("identity", p.Identity),
		slog.String("sid", p.SID))
}

func (r *Room) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	p := participantOf(rp)
	r.removeParticipant(p.Identity)
	r.sendEvent(NewEvent(EventParticipantDisconnected).WithParticipant(p))

	r.logger.Info("Participant disconnected",
		slog.String("identity", p.Identity),
		slog.String("sid", p.SID))
}

func (r *Room) onTrackPublished(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	r.sendEvent(NewEvent(EventTrackPublished).
		WithParticipant(participantOf(rp)).
		WithTrack(trackInfoOf(pub)))
	r.maybeSubscribe(pub, rp)
}

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		r.tracks.Set(rp.Identity(), track)
		r.mu.Lock()
		r.notifyLocked()
		r.mu.Unlock()
	}

	r.sendEvent(NewEvent(EventTrackSubscribed).
		WithParticipant(participantOf(rp)).
		WithTrack(trackInfoOf(pub)))

	r.logger.Info("Track subscribed",
		slog.String("participant", rp.Identity()),
		slog.String("track_sid", pub.SID()),
		slog.String("track_type", pub.Kind().String()))
}

func (r *Room) onTrackUnsubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if cur, ok := r.tracks.Get(rp.Identity()); ok && cur == track {
		r.tracks.Remove(rp.Identity())
	}
	r.sendEvent(NewEvent(EventTrackUnsubscribed).
		WithParticipant(participantOf(rp)).
		WithTrack(trackInfoOf(pub)))
}

func (r *Room) onDataReceived(data []byte, rp *lksdk.RemoteParticipant) {
	r.sendEvent(NewEvent(EventDataReceived).
		WithParticipant(participantOf(rp)).
		WithData(data))
}

func (r *Room) onRoomMetadataChanged(metadata string) {
	r.sendEvent(NewEvent(EventRoomMetadataChanged).WithMetadata(metadata))
}

// sendEvent delivers event without blocking. Events are dropped when the
// channel is full or the room is closed.
func (r *Room) sendEvent(event *Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.eventsClosed {
		return
	}

	select {
	case r.Events <- event:
	default:
		r.logger.Warn("Events channel is full, dropping event",
			slog.String("event_type", string(event.Type)))
	}
}
