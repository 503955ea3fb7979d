package agents

import (
	"errors"

	"github.com/chriscow/french-tutor-agent/pkg/job"
)

var (
	// ErrInvalidOptions is returned by RunApp for unusable WorkerOptions.
	ErrInvalidOptions = errors.New("invalid worker options")

	// ErrNotConnected is returned by WaitForParticipant before Connect.
	ErrNotConnected = errors.New("job room is not connected")

	// ErrParticipantTimeout is returned when nobody joins within the
	// participant timeout.
	ErrParticipantTimeout = job.ErrParticipantTimeout

	// ErrRoomDisconnected is returned when the room goes away while waiting.
	ErrRoomDisconnected = job.ErrRoomDisconnected

	// ErrNoDispatcher is returned by start when no dispatcher URL is set.
	ErrNoDispatcher = errors.New("DISPATCHER_URL is required")
)
