// oreon/appshell · watchthelight <wtl>

// Package lifecycle routes platform events through the shell's state machine:
// Starting → Ready → Running → ExitPending → Terminated. Every close request
// becomes a hide, and an exit request only goes through when it carries an
// explicit code, so the process lives in the tray until the user quits.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oreonproject/appshell/internal/platform"
	"github.com/oreonproject/appshell/pkg/events"
)

type eventKind int

const (
	evReady eventKind = iota
	evCloseRequested
	evExitRequested
	evShowMain
	evKill
)

func (k eventKind) String() string {
	switch k {
	case evReady:
		return "ready"
	case evCloseRequested:
		return "close_requested"
	case evExitRequested:
		return "exit_requested"
	case evShowMain:
		return "show_main"
	case evKill:
		return "kill"
	default:
		return "unknown"
	}
}

type event struct {
	kind   eventKind
	window string
	code   *int
	source string
	reply  chan Decision
}

// Router is the single event loop of the shell.
type Router struct {
	shell   platform.Shell
	emitter *events.Emitter
	logger  *slog.Logger
	events   chan event
	stopping chan struct{}
	done     chan struct{}

	mu        sync.RWMutex
	state     State
	exitCode  int
	observers []func(old, new State)
	onReady   []func()
	onExit    []func(ctx context.Context)
}

// Option configures a Router.
type Option func(*Router)

// WithEmitter sets the wide-event emitter.
func WithEmitter(e *events.Emitter) Option {
	return func(r *Router) { r.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a router in StateStarting.
func New(shell platform.Shell, opts ...Option) *Router {
	r := &Router{
		shell:    shell,
		events:   make(chan event, 64),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateStarting,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.emitter == nil {
		r.emitter = events.NewEmitter()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// State returns the current state.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// ExitCode returns the code the router terminated with.
func (r *Router) ExitCode() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exitCode
}

// OnStateChange registers fn to run after every transition, on the loop.
func (r *Router) OnStateChange(fn func(old, new State)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// OnReady registers fn to run when the platform signals readiness.
func (r *Router) OnReady(fn func()) {
	r.mu.Lock()
	r.onReady = append(r.onReady, fn)
	r.mu.Unlock()
}

// OnShutdown registers fn to run during ExitPending, in registration order.
// The context is never cancelled; hooks finish what they must.
func (r *Router) OnShutdown(fn func(ctx context.Context)) {
	r.mu.Lock()
	r.onExit = append(r.onExit, fn)
	r.mu.Unlock()
}

// Done is closed once the router reaches StateTerminated.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Ready signals that the platform finished starting.
func (r *Router) Ready() {
	r.post(event{kind: evReady, source: "platform"})
}

// CloseRequested handles a close request on the named window and returns
// what the host must do with it. It blocks until the loop has decided.
func (r *Router) CloseRequested(window string) Decision {
	return r.ask(event{kind: evCloseRequested, window: window, source: "platform"})
}

// ExitRequested handles an application exit request. A nil code is always
// prevented while the shell is alive.
func (r *Router) ExitRequested(code *int) Decision {
	return r.ask(event{kind: evExitRequested, code: code, source: "platform"})
}

// Quit requests a real exit with code, bypassing the hide-on-close policy.
// It does not wait for termination; use Done for that.
func (r *Router) Quit(code int, source string) {
	r.post(event{kind: evExitRequested, code: &code, source: source})
}

// ShowMain reveals the main window.
func (r *Router) ShowMain(source string) {
	r.post(event{kind: evShowMain, source: source})
}

// Kill terminates the router as an OS-forced kill would, skipping policy.
func (r *Router) Kill(code int) {
	r.post(event{kind: evKill, code: &code, source: "os"})
}

// post queues evt. Once ExitPending has begun the loop takes no more
// events, so evt is dropped.
func (r *Router) post(evt event) {
	select {
	case <-r.stopping:
		return
	default:
	}
	select {
	case r.events <- evt:
	case <-r.stopping:
	}
}

// ask queues evt and waits for the loop's decision. Requests still pending
// when ExitPending begins are allowed: shutdown hooks may be waiting on the
// caller, and the loop never reads them.
func (r *Router) ask(evt event) Decision {
	evt.reply = make(chan Decision, 1)
	select {
	case <-r.stopping:
		return Allow
	default:
	}
	select {
	case r.events <- evt:
	case <-r.stopping:
		return Allow
	}
	select {
	case d := <-evt.reply:
		return d
	case <-r.stopping:
		select {
		case d := <-evt.reply:
			return d
		default:
			return Allow
		}
	}
}

// Run processes events until the router terminates and returns the exit
// code. Cancelling ctx is treated as a forced kill with ExitKilled.
func (r *Router) Run(ctx context.Context) int {
	for {
		select {
		case evt := <-r.events:
			d := r.handle(ctx, evt)
			if evt.reply != nil {
				evt.reply <- d
			}
		case <-ctx.Done():
			r.terminate(ctx, ExitKilled, "context cancelled")
		}
		if r.State() == StateTerminated {
			return r.ExitCode()
		}
	}
}

func (r *Router) handle(ctx context.Context, evt event) Decision {
	switch evt.kind {
	case evReady:
		if r.State() != StateStarting {
			return Allow
		}
		r.transition(StateReady, "ready")
		r.mu.RLock()
		hooks := append([]func(){}, r.onReady...)
		r.mu.RUnlock()
		for _, fn := range hooks {
			fn()
		}
		r.transition(StateRunning, "ready")
		return Allow

	case evCloseRequested:
		return r.handleClose(evt.window)

	case evExitRequested:
		b := events.StartWindowAction("", "exit_requested")
		b.Set(events.FieldReason, evt.source)
		d, code := r.decideExit(evt.code)
		b.Decision(d.String())
		r.emitter.Emit(b.End())
		if d == Allow && r.State() < StateExitPending {
			r.terminate(ctx, code, evt.source)
		}
		return d

	case evShowMain:
		if r.State() >= StateExitPending {
			return Prevent
		}
		if err := r.shell.Reveal(); err != nil {
			r.logger.Debug("reveal main window failed", "source", evt.source, "error", err)
		}
		return Allow

	case evKill:
		if r.State() < StateExitPending {
			r.terminate(ctx, *evt.code, "killed")
		}
		return Allow
	}
	return Prevent
}

// handleClose applies the close-to-tray policy.
func (r *Router) handleClose(label string) Decision {
	b := events.StartWindowAction(label, "close_requested")
	defer func() { r.emitter.Emit(b.End()) }()

	if r.State() >= StateExitPending || !r.shell.InterceptsClose() {
		b.Decision(Allow.String())
		return Allow
	}
	if err := r.shell.HideOnClose(label); err != nil {
		// Still prevent the close: a failed hide must not end the process.
		r.logger.Debug("hide on close failed", "window", label, "error", err)
	}
	b.Decision(Hide.String())
	return Hide
}

// decideExit implements the exit policy and returns the code to exit with.
// Without an explicit code the request is suppressed for as long as the shell
// is alive; targets that do not intercept closes let the OS decide.
// TODO(product): decide whether OS-initiated logout without a code should be honored.
func (r *Router) decideExit(code *int) (Decision, int) {
	if r.State() >= StateExitPending {
		return Allow, r.ExitCode()
	}
	if code != nil {
		return Allow, *code
	}
	if r.shell.InterceptsClose() {
		return Prevent, 0
	}
	return Allow, ExitQuit
}

func (r *Router) terminate(ctx context.Context, code int, reason string) {
	r.mu.Lock()
	r.exitCode = code
	r.mu.Unlock()

	r.transition(StateExitPending, reason)
	close(r.stopping)

	r.mu.RLock()
	hooks := append([]func(context.Context){}, r.onExit...)
	r.mu.RUnlock()
	hookCtx := context.WithoutCancel(ctx)
	for _, fn := range hooks {
		fn(hookCtx)
	}

	r.transition(StateTerminated, reason)
	close(r.done)
}

func (r *Router) transition(to State, reason string) {
	r.mu.Lock()
	from := r.state
	r.state = to
	observers := append([]func(old, new State){}, r.observers...)
	code := r.exitCode
	r.mu.Unlock()

	b := events.StartTransition(from.String(), to.String()).Reason(reason)
	if to >= StateExitPending {
		b.ExitCode(code)
	}
	r.emitter.Emit(b.End())
	r.logger.Info("lifecycle transition", "from", from.String(), "to", to.String(), "reason", reason)

	for _, fn := range observers {
		fn(from, to)
	}
}
