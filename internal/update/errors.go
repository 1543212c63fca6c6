// oreon/appshell · watchthelight <wtl>

package update

import (
	"errors"

	"github.com/oreonproject/appshell/pkg/ipc"
)

var (
	// ErrPrecondition is returned when an operation runs out of order, e.g.
	// download before a check reported an update. State is left untouched.
	ErrPrecondition = errors.New("update precondition failed")
	// ErrNoSession is returned for a session ID that is not the current one.
	ErrNoSession = errors.New("update session not found")
	// ErrNetwork covers an unreachable endpoint or a transfer cut short.
	ErrNetwork = errors.New("update network error")
	// ErrIntegrity is returned when a downloaded artifact fails validation.
	ErrIntegrity = errors.New("update artifact failed validation")
	// ErrInstall is returned when applying a downloaded update fails.
	ErrInstall = errors.New("update install failed")
)

// Code maps an orchestrator error onto the control-socket error code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPrecondition):
		return ipc.CodePrecondition
	case errors.Is(err, ErrNoSession):
		return ipc.CodeNotFound
	case errors.Is(err, ErrNetwork):
		return ipc.CodeNetwork
	case errors.Is(err, ErrIntegrity):
		return ipc.CodeIntegrity
	case errors.Is(err, ErrInstall):
		return ipc.CodeInstall
	default:
		return ipc.CodeInternal
	}
}
