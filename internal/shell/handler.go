// oreon/appshell · watchthelight <wtl>

package shell

import (
	"context"
	"errors"
	"os"

	"github.com/samber/lo"

	"github.com/oreonproject/appshell/internal/instance"
	"github.com/oreonproject/appshell/internal/lifecycle"
	"github.com/oreonproject/appshell/internal/update"
	"github.com/oreonproject/appshell/internal/window"
	"github.com/oreonproject/appshell/pkg/ipc"
)

var _ instance.Handler = (*App)(nil)

// Status reports the running shell for the status command.
func (a *App) Status(ctx context.Context) ipc.StatusResponse {
	status := ipc.StatusResponse{
		State:       a.router.State().String(),
		Version:     a.cfg.App.Version,
		PID:         os.Getpid(),
		MainVisible: a.registry.Visible(window.Main),
		Windows:     lo.Filter(a.registry.Names(), a.visibleWindow),
	}
	if s, ok := a.updates.Current(); ok {
		status.Session = s.Info()
	}
	if a.journal != nil {
		if entry, err := a.journal.Last(ctx); err == nil {
			status.LastJournal = entry.String()
		} else if !update.IsEmpty(err) {
			a.logger.Debug("read update journal failed", "error", err)
		}
	}
	return status
}

func (a *App) visibleWindow(name string, _ int) bool {
	return a.registry.Visible(name)
}

// SecondInstance is called when a later launch finds this one running.
// The notification is best-effort.
func (a *App) SecondInstance(args ipc.SecondInstanceArgs) {
	a.logger.Info("second instance launched", "pid", args.PID, "args", args.Args, "cwd", args.Cwd)
	if err := a.notifier.Notify(AlreadyRunningTitle, AlreadyRunningBody); err != nil {
		a.logger.Debug("already-running notification failed", "error", err)
	}
}

func (a *App) ShowMain() {
	a.router.ShowMain("ipc")
}

func (a *App) Quit() {
	a.router.Quit(lifecycle.ExitQuit, "ipc")
}

func (a *App) CloseSplashscreen() {
	a.registry.CloseSplashscreenAndShowMain()
}

// CloseWindow feeds a close request for label through the lifecycle policy.
func (a *App) CloseWindow(label string) (string, error) {
	if err := a.registry.With(label, func(window.Handle) error { return nil }); err != nil {
		return "", err
	}
	return a.router.CloseRequested(label).String(), nil
}

func (a *App) CheckForUpdates(ctx context.Context) (ipc.CheckResponse, error) {
	s, err := a.updates.Check(ctx)
	if err != nil {
		return ipc.CheckResponse{}, err
	}
	return ipc.CheckResponse{Available: s.Available, Version: s.Version(), SessionID: s.ID}, nil
}

func (a *App) DownloadUpdate(ctx context.Context, sessionID string, progress func(ipc.ProgressEvent)) (*ipc.SessionInfo, error) {
	s, err := a.updates.Download(ctx, sessionID, func(p update.Progress) {
		progress(ipc.ProgressEvent{
			SessionID:  p.SessionID,
			Downloaded: p.Downloaded,
			Total:      p.Total,
			Percent:    p.Percent(),
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Info(), nil
}

func (a *App) CancelDownload() bool {
	return a.updates.Cancel()
}

func (a *App) InstallUpdate(ctx context.Context, sessionID string) (*ipc.SessionInfo, error) {
	s, err := a.updates.Install(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Info(), nil
}

func (a *App) ClearUpdateCache(ctx context.Context) error {
	return a.updates.ClearCache(ctx)
}

// ErrorCode maps errors from the update and window layers onto ipc codes.
func (a *App) ErrorCode(err error) string {
	switch {
	case errors.Is(err, window.ErrNotFound), errors.Is(err, window.ErrClosed):
		return ipc.CodeNotFound
	default:
		return update.Code(err)
	}
}
