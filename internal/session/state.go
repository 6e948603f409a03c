package session

// State is a guild's position in the voice-session lifecycle. A guild with
// no registry entry is Idle. The Session object itself only moves
// Recording -> Stopping -> Stopped; once Stopped it stays readable while
// the guild entry returns to Connected.
type State string

const (
	StateIdle      State = "idle"
	StateConnected State = "connected"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)
