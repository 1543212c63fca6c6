// oreon/appshell · watchthelight <wtl>

package lifecycle

// State is the shell's lifecycle state.
type State int

const (
	StateStarting State = iota
	StateReady
	StateRunning
	StateExitPending
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateExitPending:
		return "exit_pending"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Decision is the router's answer to a close or exit request.
type Decision int

const (
	// Prevent tells the host to cancel the request and do nothing else.
	Prevent Decision = iota
	// Hide tells the host to cancel the close; the router already hid.
	Hide
	// Allow lets the host proceed.
	Allow
)

func (d Decision) String() string {
	switch d {
	case Prevent:
		return "prevent"
	case Hide:
		return "hide"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// Exit codes used by the shell itself.
const (
	// ExitQuit is the code carried by the tray's quit action.
	ExitQuit = 0
	// ExitRestart asks the launcher to start the process again after exit.
	ExitRestart = 75
	// ExitKilled is used when the run context is cancelled.
	ExitKilled = 1
)
