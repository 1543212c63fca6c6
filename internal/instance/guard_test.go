// oreon/appshell · watchthelight <wtl>

package instance

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oreonproject/appshell/pkg/ipc"
)

func TestGuard_FirstAcquireOwnsSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "run", "appshell.sock")
	g := NewGuard(sock, nil, nil)

	ln, err := g.Acquire(context.Background(), Hello())
	require.NoError(t, err)
	defer ln.Close()

	info, err := os.Stat(sock)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGuard_SecondAcquireSignalsOnce(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "appshell.sock")
	h := &fakeHandler{}

	ln, err := NewGuard(sock, nil, nil).Acquire(context.Background(), Hello())
	require.NoError(t, err)
	server := NewServer(sock, ln, h, nil)
	go server.Serve()
	defer server.Close()

	hello := ipc.SecondInstanceArgs{PID: 4242, Args: []string{"open"}, Cwd: "/home"}
	_, err = NewGuard(sock, nil, nil).Acquire(context.Background(), hello)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.seconds, 1)
	assert.Equal(t, 4242, h.seconds[0].PID)
	assert.Equal(t, []string{"open"}, h.seconds[0].Args)
}

func TestGuard_ReclaimsStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "appshell.sock")

	// A listener closed without unlinking leaves a dead socket file behind.
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	_, err = os.Stat(sock)
	require.NoError(t, err, "stale socket should still exist")

	ln, err = NewGuard(sock, nil, nil).Acquire(context.Background(), Hello())
	require.NoError(t, err)
	defer ln.Close()
}

func TestGuard_UnusablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := NewGuard(filepath.Join(blocker, "appshell.sock"), nil, nil).Acquire(context.Background(), Hello())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyRunning))
}
