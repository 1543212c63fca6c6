// oreon/appshell · watchthelight <wtl>

// Package update drives the self-update pipeline as four separately invoked
// steps: check, download, install and cache clear. Each step enforces its own
// precondition against the current session; errors are returned verbatim and
// never retried here.
package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/oreonproject/appshell/pkg/events"
)

// Operation names used in events and the journal.
const (
	OpCheck      = "check"
	OpDownload   = "download"
	OpInstall    = "install"
	OpClearCache = "clear_cache"
)

const chunkSize = 32 * 1024

// Options configures an Orchestrator.
type Options struct {
	CurrentVersion string
	Source         Source
	CacheDir       string
	Installer      Installer
	// Scanner, when set, must pass every artifact before it is accepted.
	Scanner Scanner
	// Restart is called after a successful install to schedule the relaunch.
	Restart func()
	Journal *Journal
	Emitter *events.Emitter
	Logger  *slog.Logger
}

// Orchestrator owns the current update session.
type Orchestrator struct {
	current   string
	source    Source
	cache     *Cache
	installer Installer
	scanner   Scanner
	restart   func()
	journal   *Journal
	emitter   *events.Emitter
	logger    *slog.Logger

	mu             sync.Mutex
	session        *Session
	cancelDownload context.CancelFunc

	// installMu is held for the whole install so Quiesce can wait on it.
	installMu sync.Mutex
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		current:   opts.CurrentVersion,
		source:    opts.Source,
		cache:     NewCache(opts.CacheDir),
		installer: opts.Installer,
		scanner:   opts.Scanner,
		restart:   opts.Restart,
		journal:   opts.Journal,
		emitter:   opts.Emitter,
		logger:    opts.Logger,
	}
	if o.emitter == nil {
		o.emitter = events.NewEmitter()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.restart == nil {
		o.restart = func() {}
	}
	return o
}

// Current returns a snapshot of the current session.
func (o *Orchestrator) Current() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return Session{}, false
	}
	return *o.session, true
}

// Check asks the source for a newer release and makes the result the current
// session. A check supersedes an in-flight download.
func (o *Orchestrator) Check(ctx context.Context) (Session, error) {
	evt := events.StartUpdate(OpCheck, "")
	var result Session
	var err error
	defer func() { o.finish(evt.Builder, OpCheck, result, err) }()

	o.mu.Lock()
	if o.session != nil && o.session.Phase == PhaseInstalling {
		o.mu.Unlock()
		err = fmt.Errorf("%w: install in progress", ErrPrecondition)
		return Session{}, err
	}
	o.mu.Unlock()

	rel, err := o.source.Latest(ctx)
	if err != nil {
		if !errors.Is(err, ErrNetwork) {
			err = fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return Session{}, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		CheckedAt: time.Now(),
		Phase:     PhaseUpToDate,
	}
	if rel != nil {
		newer, verr := o.isNewer(rel.Version)
		if verr != nil {
			err = verr
			return Session{}, err
		}
		if newer {
			s.Available = true
			s.Release = rel
			s.Phase = PhaseAvailable
			s.Total = rel.Size
		}
	}

	o.mu.Lock()
	o.replaceLocked(s)
	result = *s
	o.mu.Unlock()

	evt.Session(s.ID).Available(s.Available).Version(s.Version())
	return result, nil
}

func (o *Orchestrator) isNewer(version string) (bool, error) {
	remote := canonical(version)
	if !semver.IsValid(remote) {
		return false, fmt.Errorf("%w: release version %q is not semver", ErrNetwork, version)
	}
	local := canonical(o.current)
	if !semver.IsValid(local) {
		// An unversioned build always accepts a valid release.
		return true, nil
	}
	return semver.Compare(remote, local) > 0, nil
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// replaceLocked swaps in s as the current session, cancelling and discarding
// whatever the previous one had in flight or staged.
func (o *Orchestrator) replaceLocked(s *Session) {
	if o.cancelDownload != nil {
		o.cancelDownload()
		o.cancelDownload = nil
	}
	if o.session != nil {
		o.cache.Discard(o.session.ID)
	}
	o.session = s
}

// resolveLocked returns the session an operation targets. An empty id means
// the current session.
func (o *Orchestrator) resolveLocked(id string) (*Session, error) {
	if o.session == nil {
		return nil, fmt.Errorf("%w: no update session, check for updates first", ErrPrecondition)
	}
	if id != "" && id != o.session.ID {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return o.session, nil
}

// Download streams the artifact for the session, calling fn with
// non-decreasing progress. It blocks until the transfer ends; callers keep it
// off the event loop. Cancelling ctx abandons the transfer: the partial
// artifact is discarded and the session returns to its pre-download phase,
// exactly as after any other failure.
func (o *Orchestrator) Download(ctx context.Context, sessionID string, fn ProgressFunc) (Session, error) {
	evt := events.StartUpdate(OpDownload, sessionID)
	var result Session
	var err error
	defer func() { o.finish(evt.Builder, OpDownload, result, err) }()

	o.mu.Lock()
	s, err := o.resolveLocked(sessionID)
	if err != nil {
		o.mu.Unlock()
		return Session{}, err
	}
	if s.Phase != PhaseAvailable {
		o.mu.Unlock()
		err = fmt.Errorf("%w: session is %s, want available", ErrPrecondition, s.Phase)
		return Session{}, err
	}
	s.Phase = PhaseDownloading
	s.Downloaded = 0
	dctx, cancel := context.WithCancel(ctx)
	o.cancelDownload = cancel
	rel := *s.Release
	id := s.ID
	o.mu.Unlock()
	defer cancel()

	evt.Session(id).Version(rel.Version)

	path, n, total, err := o.transfer(dctx, s, &rel, fn)
	evt.Bytes(n, total)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelDownload = nil

	if o.session != s {
		// Superseded by a check or cleared while streaming.
		o.cache.Discard(id)
		if err == nil || errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %s was invalidated during download", ErrNoSession, id)
		}
		return Session{}, err
	}
	if err != nil {
		o.cache.Discard(id)
		s.Phase = PhaseAvailable
		s.Downloaded = 0
		result = *s
		return result, err
	}

	s.Phase = PhaseDownloaded
	s.Downloaded = n
	s.Total = total
	s.artifact = path
	result = *s
	return result, nil
}

func (o *Orchestrator) transfer(ctx context.Context, s *Session, rel *Release, fn ProgressFunc) (string, int64, int64, error) {
	id := s.ID
	body, total, err := o.source.Open(ctx, rel)
	if err != nil {
		if !errors.Is(err, ErrNetwork) {
			err = fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return "", 0, 0, err
	}
	defer body.Close()

	f, err := o.cache.Create(id)
	if err != nil {
		return "", 0, total, err
	}

	h := sha256.New()
	w := io.MultiWriter(f, h)
	report := func(n int64) {
		o.mu.Lock()
		if o.session == s {
			s.Downloaded = n
		}
		o.mu.Unlock()
		if fn != nil {
			fn(Progress{SessionID: id, Downloaded: n, Total: total})
		}
	}

	var n int64
	report(0)
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return "", n, total, err
		}
		nr, rerr := body.Read(buf)
		if nr > 0 {
			if _, werr := w.Write(buf[:nr]); werr != nil {
				f.Close()
				return "", n, total, fmt.Errorf("write artifact: %w", werr)
			}
			n += int64(nr)
			report(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			if cerr := ctx.Err(); cerr != nil {
				return "", n, total, cerr
			}
			return "", n, total, fmt.Errorf("%w: read artifact: %v", ErrNetwork, rerr)
		}
	}
	if err := f.Close(); err != nil {
		return "", n, total, fmt.Errorf("flush artifact: %w", err)
	}

	if total >= 0 && n != total {
		return "", n, total, fmt.Errorf("%w: got %d bytes, want %d", ErrIntegrity, n, total)
	}
	if want := normalizeChecksum(rel.SHA256); want != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return "", n, total, fmt.Errorf("%w: sha256 %s, want %s", ErrIntegrity, got, want)
		}
	}
	if o.scanner != nil {
		if err := o.scanner.Scan(ctx, f.Name()); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return "", n, total, cerr
			}
			return "", n, total, fmt.Errorf("%w: scan artifact: %v", ErrIntegrity, err)
		}
	}
	if total < 0 {
		total = n
	}

	path, err := o.cache.Commit(id)
	if err != nil {
		return "", n, total, err
	}
	return path, n, total, nil
}

func normalizeChecksum(sum string) string {
	sum = strings.ToLower(strings.TrimSpace(sum))
	return strings.TrimPrefix(sum, "sha256:")
}

// Cancel abandons the in-flight download, if any.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelDownload == nil {
		return false
	}
	o.cancelDownload()
	return true
}

// Install applies the downloaded artifact and schedules a restart. On
// failure the session stays downloaded so the caller may retry.
func (o *Orchestrator) Install(ctx context.Context, sessionID string) (Session, error) {
	evt := events.StartUpdate(OpInstall, sessionID)
	var result Session
	var err error
	defer func() { o.finish(evt.Builder, OpInstall, result, err) }()

	o.installMu.Lock()
	defer o.installMu.Unlock()

	o.mu.Lock()
	s, err := o.resolveLocked(sessionID)
	if err != nil {
		o.mu.Unlock()
		return Session{}, err
	}
	if s.Phase != PhaseDownloaded {
		o.mu.Unlock()
		err = fmt.Errorf("%w: session is %s, want downloaded", ErrPrecondition, s.Phase)
		return Session{}, err
	}
	s.Phase = PhaseInstalling
	rel := *s.Release
	artifact := s.artifact
	o.mu.Unlock()

	evt.Session(s.ID).Version(rel.Version)

	// The install runs to completion even if ctx is cancelled mid-way.
	ierr := o.installer.Install(context.WithoutCancel(ctx), artifact, &rel)

	o.mu.Lock()
	if ierr != nil {
		s.Phase = PhaseDownloaded
		result = *s
		o.mu.Unlock()
		err = fmt.Errorf("%w: %v", ErrInstall, ierr)
		return result, err
	}
	s.Phase = PhaseInstalled
	result = *s
	o.mu.Unlock()

	o.restart()
	return result, nil
}

// ClearCache removes staged artifacts and invalidates the current session,
// abandoning any in-flight download. It is idempotent.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	evt := events.StartUpdate(OpClearCache, "")
	var err error
	defer func() { o.finish(evt.Builder, OpClearCache, Session{}, err) }()

	o.installMu.Lock()
	defer o.installMu.Unlock()

	o.mu.Lock()
	if o.session != nil {
		evt.Session(o.session.ID)
	}
	o.replaceLocked(nil)
	o.mu.Unlock()

	err = o.cache.Clear()
	return err
}

// Quiesce waits for an in-flight install to finish. Downloads are not waited
// for; they are abandoned by the caller's context.
func (o *Orchestrator) Quiesce(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.installMu.Lock()
		o.installMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) finish(b *events.Builder, op string, s Session, err error) {
	b.SetError(err)
	o.emitter.Emit(b.End())

	if o.journal == nil {
		return
	}
	entry := Entry{
		SessionID: s.ID,
		Op:        op,
		Version:   s.Version(),
		Success:   err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if jerr := o.journal.Record(context.Background(), entry); jerr != nil {
		o.logger.Warn("failed to record update journal entry", "op", op, "error", jerr)
	}
}
