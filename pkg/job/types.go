package job

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrParticipantTimeout is returned when no remote participant joins in time.
	ErrParticipantTimeout = errors.New("timed out waiting for participant")

	// ErrRoomDisconnected is returned by blocking calls when the room goes away.
	ErrRoomDisconnected = errors.New("room disconnected")

	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("room is not connected")

	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("room is already connected")
)

// Job represents a single agent job execution context.
// It contains the job metadata and manages the lifecycle of agent work.
type Job struct {
	// ID is the unique identifier for this job
	ID string

	// RoomName is the LiveKit room this job is assigned to
	RoomName string

	// URL and Token are the credentials the agent joins the room with.
	URL   string
	Token string

	// Metadata is passed through from the dispatcher untouched.
	Metadata string

	// Context provides lifecycle management and shutdown coordination
	Context *JobContext
}

// JobContext manages the lifecycle and cleanup of a job.
type JobContext struct {
	// Ctx is the context that gets cancelled when the job ends
	Ctx context.Context

	cancel        context.CancelFunc
	mu            sync.Mutex
	shutdownHooks []func(string)
	shutdown      bool
}

// ShutdownInfo contains information about why a job shutdown occurred.
type ShutdownInfo struct {
	Reason    string
	Timestamp time.Time
	Graceful  bool
}

// Config contains configuration options for creating a new Job.
type Config struct {
	// ID for the job (if empty, one will be generated)
	ID string

	RoomName string
	URL      string
	Token    string
	Metadata string

	// Timeout for the overall job execution, zero means none.
	Timeout time.Duration
}

// Participant identifies a remote participant in the room.
type Participant struct {
	SID      string
	Identity string
	Name     string
}

// AutoSubscribe selects which remote tracks the room subscribes to.
type AutoSubscribe int

const (
	SubscribeAll AutoSubscribe = iota
	SubscribeNone
	AudioOnly
	VideoOnly
)

func (a AutoSubscribe) String() string {
	switch a {
	case SubscribeAll:
		return "subscribe_all"
	case SubscribeNone:
		return "subscribe_none"
	case AudioOnly:
		return "audio_only"
	case VideoOnly:
		return "video_only"
	}
	return "unknown"
}

const (
	// AssignmentTimeout is how long the worker waits to accept a job.
	AssignmentTimeout = 7500 * time.Millisecond

	// DefaultParticipantTimeout bounds WaitForParticipant.
	DefaultParticipantTimeout = 2 * time.Minute

	// ShutdownHookTimeout bounds how long Shutdown waits for hooks.
	ShutdownHookTimeout = 5 * time.Second
)
