// oreon/appshell · watchthelight <wtl>

// Package instance keeps the shell single-instance. The first launch binds
// the control socket; later launches find it alive, tell the running shell
// about themselves and exit.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oreonproject/appshell/pkg/events"
	"github.com/oreonproject/appshell/pkg/ipc"
)

// ErrAlreadyRunning is returned by Acquire when another instance owns the socket.
var ErrAlreadyRunning = errors.New("another instance is already running")

const pingTimeout = 2 * time.Second

// Guard claims the control socket for this process.
type Guard struct {
	socketPath string
	logger     *slog.Logger
	emitter    *events.Emitter
}

// NewGuard creates a guard for socketPath.
func NewGuard(socketPath string, logger *slog.Logger, emitter *events.Emitter) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Guard{socketPath: socketPath, logger: logger, emitter: emitter}
}

// SocketPath returns the guarded socket path.
func (g *Guard) SocketPath() string {
	return g.socketPath
}

// Acquire binds the socket and returns its listener. If a live instance
// already holds it, Acquire sends it hello and returns ErrAlreadyRunning;
// failing to deliver hello does not change that outcome.
func (g *Guard) Acquire(ctx context.Context, hello ipc.SecondInstanceArgs) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(g.socketPath), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	ln, err := g.listen()
	if err == nil {
		return ln, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, err
	}

	if g.alive(ctx) {
		g.signal(ctx, hello)
		return nil, ErrAlreadyRunning
	}

	// Nobody answered: the socket file is left over from a crashed run.
	g.logger.Debug("removing stale socket", "socket", g.socketPath)
	if err := os.Remove(g.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err = g.listen()
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			// Lost a race with a concurrent launch.
			g.signal(ctx, hello)
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}
	return ln, nil
}

func (g *Guard) listen() (net.Listener, error) {
	ln, err := net.Listen("unix", g.socketPath)
	if err != nil {
		return nil, err
	}
	// Owner only: the socket controls the user's session.
	if err := os.Chmod(g.socketPath, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	g.logger.Info("control socket listening", "socket", g.socketPath)
	return ln, nil
}

func (g *Guard) alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	client := ipc.NewClient(g.socketPath)
	defer client.Close()
	_, err := client.Call(ctx, ipc.CmdPing, nil)
	return err == nil
}

func (g *Guard) signal(ctx context.Context, hello ipc.SecondInstanceArgs) {
	evt := events.StartInstanceSignal(hello.PID)
	defer func() { g.emitter.Emit(evt.End()) }()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	client := ipc.NewClient(g.socketPath)
	defer client.Close()
	if _, err := client.Call(ctx, ipc.CmdSecondInstance, hello); err != nil {
		g.logger.Warn("failed to signal running instance", "error", err)
		evt.SetError(err)
		evt.Notified(false)
		return
	}
	evt.Notified(true)
}

// Hello describes the current process for a second-instance signal.
func Hello() ipc.SecondInstanceArgs {
	cwd, _ := os.Getwd()
	return ipc.SecondInstanceArgs{PID: os.Getpid(), Args: os.Args[1:], Cwd: cwd}
}
