package session

import (
	"errors"
	"fmt"
)

// ErrDrainTimeout marks a stop whose drain budget ran out before every
// in-flight transcription finished. The session meta carries the
// Incomplete caveat when this happens.
var ErrDrainTimeout = errors.New("drain budget exhausted before all work finished")

// AlreadyConnectedError is returned by Connect when the guild already has a
// voice presence.
type AlreadyConnectedError struct {
	GuildID   string
	ChannelID string
}

func (e *AlreadyConnectedError) Error() string {
	return fmt.Sprintf("already connected to a voice channel in guild %s (channel %s)", e.GuildID, e.ChannelID)
}

// InvalidStateError is returned when an operation is attempted in a guild
// state that does not allow it. The guild's state is left untouched.
type InvalidStateError struct {
	GuildID string
	State   State
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in guild %s: state is %s", e.Op, e.GuildID, e.State)
}
