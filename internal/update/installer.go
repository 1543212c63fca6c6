// oreon/appshell · watchthelight <wtl>

package update

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	goupdate "github.com/inconshreveable/go-update"
)

// Installer applies a downloaded artifact.
type Installer interface {
	Install(ctx context.Context, artifactPath string, rel *Release) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, artifactPath string, rel *Release) error

func (f InstallerFunc) Install(ctx context.Context, artifactPath string, rel *Release) error {
	return f(ctx, artifactPath, rel)
}

// BinaryInstaller replaces the running executable with the artifact. The old
// binary is kept until the swap succeeds and restored if it fails.
type BinaryInstaller struct {
	// TargetPath defaults to the running executable.
	TargetPath string
	Logger     *slog.Logger
}

func (b *BinaryInstaller) Install(ctx context.Context, artifactPath string, rel *Release) error {
	f, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	if err := goupdate.Apply(f, goupdate.Options{TargetPath: b.TargetPath}); err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			logger := b.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("rollback after failed update left binary in unknown state",
				"version", rel.Version, "error", rerr)
		}
		return fmt.Errorf("apply %s: %w", rel.Version, err)
	}
	return nil
}
