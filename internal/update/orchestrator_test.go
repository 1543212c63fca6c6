// oreon/appshell · watchthelight <wtl>

package update

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader hands out at most chunk bytes per Read.
type chunkReader struct {
	data  []byte
	chunk int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

type fakeSource struct {
	mu       sync.Mutex
	release  *Release
	checkErr error
	openErr  error
	payload  []byte
	chunk    int
	checks   int
	opens    int
}

func (f *fakeSource) Latest(ctx context.Context) (*Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	if f.release == nil {
		return nil, nil
	}
	rel := *f.release
	return &rel, nil
}

func (f *fakeSource) Open(ctx context.Context, rel *Release) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, 0, f.openErr
	}
	return io.NopCloser(&chunkReader{data: bytes.Clone(f.payload), chunk: f.chunk}), int64(len(f.payload)), nil
}

type fakeInstaller struct {
	mu        sync.Mutex
	err       error
	installed []string
}

func (f *fakeInstaller) Install(ctx context.Context, artifactPath string, rel *Release) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(artifactPath); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.installed = append(f.installed, rel.Version)
	return nil
}

func sum(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

type harness struct {
	orch      *Orchestrator
	source    *fakeSource
	installer *fakeInstaller
	cacheDir  string
	restarts  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	payload := bytes.Repeat([]byte{0xAB}, 100)
	h := &harness{
		source: &fakeSource{
			release: &Release{Version: "2.0.0", URL: "https://example.invalid/app", SHA256: sum(payload)},
			payload: payload,
			chunk:   50,
		},
		installer: &fakeInstaller{},
		cacheDir:  filepath.Join(t.TempDir(), "updates"),
	}
	h.orch = New(Options{
		CurrentVersion: "1.0.0",
		Source:         h.source,
		CacheDir:       h.cacheDir,
		Installer:      h.installer,
		Restart:        func() { h.restarts++ },
	})
	return h
}

func percents(t *testing.T, got *[]int) ProgressFunc {
	t.Helper()
	return func(p Progress) { *got = append(*got, p.Percent()) }
}

func TestFullPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.orch.Check(ctx)
	require.NoError(t, err)
	assert.True(t, s.Available)
	assert.Equal(t, "2.0.0", s.Version())
	assert.Equal(t, PhaseAvailable, s.Phase)

	var progress []int
	s, err = h.orch.Download(ctx, s.ID, percents(t, &progress))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 50, 100}, progress)
	assert.Equal(t, PhaseDownloaded, s.Phase)
	assert.EqualValues(t, 100, s.Downloaded)

	s, err = h.orch.Install(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseInstalled, s.Phase)
	assert.Equal(t, 1, h.restarts)
	assert.Equal(t, []string{"2.0.0"}, h.installer.installed)

	require.NoError(t, h.orch.ClearCache(ctx))
	_, err = h.orch.Install(ctx, "")
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 1, h.restarts)
}

func TestDownload_WithoutCheck(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Download(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Zero(t, h.source.opens, "no network activity expected")
}

func TestDownload_WhenUpToDate(t *testing.T) {
	h := newHarness(t)
	h.source.release.Version = "1.0.0"

	s, err := h.orch.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Available)

	_, err = h.orch.Download(context.Background(), s.ID, nil)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Zero(t, h.source.opens)
}

func TestCheck_NoRelease(t *testing.T) {
	h := newHarness(t)
	h.source.release = nil

	s, err := h.orch.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Available)
	assert.Equal(t, PhaseUpToDate, s.Phase)
}

func TestCheck_InvalidVersion(t *testing.T) {
	h := newHarness(t)
	h.source.release.Version = "latest"

	_, err := h.orch.Check(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestInstall_WithoutDownload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before, err := h.orch.Check(ctx)
	require.NoError(t, err)

	_, err = h.orch.Install(ctx, before.ID)
	assert.ErrorIs(t, err, ErrPrecondition)

	after, ok := h.orch.Current()
	require.True(t, ok)
	assert.Equal(t, before.Phase, after.Phase)
	assert.Zero(t, h.restarts)
	assert.Empty(t, h.installer.installed)
}

func TestCheck_NetworkErrorSurfaced(t *testing.T) {
	h := newHarness(t)
	h.source.checkErr = errors.New("dial tcp: connection refused")

	_, err := h.orch.Check(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 1, h.source.checks, "no automatic retry")

	_, ok := h.orch.Current()
	assert.False(t, ok)
}

func TestDownload_IntegrityFailureAllowsRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	good := h.source.release.SHA256
	h.source.release.SHA256 = "sha256:" + sum([]byte("something else"))

	s, err := h.orch.Check(ctx)
	require.NoError(t, err)

	_, err = h.orch.Download(ctx, s.ID, nil)
	assert.ErrorIs(t, err, ErrIntegrity)

	cur, _ := h.orch.Current()
	assert.Equal(t, PhaseAvailable, cur.Phase)
	assertNoArtifacts(t, h.cacheDir)

	// Fix the manifest and re-check; the new session downloads cleanly.
	h.source.release.SHA256 = good
	s, err = h.orch.Check(ctx)
	require.NoError(t, err)
	_, err = h.orch.Download(ctx, s.ID, nil)
	require.NoError(t, err)
}

func TestDownload_NetworkErrorKeepsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.orch.Check(ctx)
	require.NoError(t, err)

	h.source.openErr = errors.New("connection reset")
	_, err = h.orch.Download(ctx, s.ID, nil)
	assert.ErrorIs(t, err, ErrNetwork)

	h.source.openErr = nil
	_, err = h.orch.Download(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, h.source.opens)
}

func TestDownload_CancelRevertsSession(t *testing.T) {
	h := newHarness(t)
	s, err := h.orch.Check(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var progress []int
	_, err = h.orch.Download(ctx, s.ID, func(p Progress) {
		progress = append(progress, p.Percent())
		if p.Downloaded == 50 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0, 50}, progress)

	cur, ok := h.orch.Current()
	require.True(t, ok)
	assert.Equal(t, PhaseAvailable, cur.Phase)
	assert.Zero(t, cur.Downloaded)
	assertNoArtifacts(t, h.cacheDir)
}

func TestDownload_ClearCacheDuringTransfer(t *testing.T) {
	h := newHarness(t)
	s, err := h.orch.Check(context.Background())
	require.NoError(t, err)

	_, err = h.orch.Download(context.Background(), s.ID, func(p Progress) {
		if p.Downloaded == 50 {
			require.NoError(t, h.orch.ClearCache(context.Background()))
		}
	})
	assert.ErrorIs(t, err, ErrNoSession)

	_, ok := h.orch.Current()
	assert.False(t, ok)
	assertNoArtifacts(t, h.cacheDir)
}

func TestDownload_TwiceRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.orch.Check(ctx)
	require.NoError(t, err)
	_, err = h.orch.Download(ctx, s.ID, nil)
	require.NoError(t, err)

	_, err = h.orch.Download(ctx, s.ID, nil)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 1, h.source.opens)
}

func TestInstall_FailureKeepsDownloaded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.installer.err = errors.New("permission denied")

	s, err := h.orch.Check(ctx)
	require.NoError(t, err)
	_, err = h.orch.Download(ctx, s.ID, nil)
	require.NoError(t, err)

	s, err = h.orch.Install(ctx, s.ID)
	assert.ErrorIs(t, err, ErrInstall)
	assert.Equal(t, PhaseDownloaded, s.Phase)
	assert.Zero(t, h.restarts)

	h.installer.err = nil
	_, err = h.orch.Install(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.restarts)
}

func TestStaleSessionID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old, err := h.orch.Check(ctx)
	require.NoError(t, err)
	_, err = h.orch.Check(ctx)
	require.NoError(t, err)

	_, err = h.orch.Download(ctx, old.ID, nil)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, h.source.opens)
}

func TestClearCache_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orch.ClearCache(ctx))
	require.NoError(t, h.orch.ClearCache(ctx))
}

func TestClearCache_KeepsForeignFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.orch.Check(ctx)
	require.NoError(t, err)
	_, err = h.orch.Download(ctx, s.ID, nil)
	require.NoError(t, err)

	notes := filepath.Join(h.cacheDir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("keep me"), 0o600))
	leftover := filepath.Join(h.cacheDir, "old-session.part")
	require.NoError(t, os.WriteFile(leftover, []byte("partial"), 0o600))

	require.NoError(t, h.orch.ClearCache(ctx))

	assertNoArtifacts(t, h.cacheDir)
	assert.FileExists(t, notes)
	assert.NoFileExists(t, leftover)
}

func TestQuiesce_NoInstall(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.orch.Quiesce(context.Background()))
}

func TestJournal_RecordsOperations(t *testing.T) {
	h := newHarness(t)
	j, err := OpenJournal(":memory:")
	require.NoError(t, err)
	defer j.Close()
	h.orch.journal = j
	ctx := context.Background()

	_, err = h.orch.Download(ctx, "", nil)
	require.Error(t, err)
	_, err = h.orch.Check(ctx)
	require.NoError(t, err)

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OpCheck, entries[0].Op)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "2.0.0", entries[0].Version)
	assert.Equal(t, OpDownload, entries[1].Op)
	assert.False(t, entries[1].Success)
}

func TestJournal_CheckAfterClose(t *testing.T) {
	h := newHarness(t)
	j, err := OpenJournal(":memory:")
	require.NoError(t, err)
	h.orch.journal = j
	ctx := context.Background()

	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	s, err := h.orch.Check(ctx)
	require.NoError(t, err)
	assert.True(t, s.Available)

	assert.ErrorIs(t, j.Record(ctx, Entry{Op: OpCheck}), ErrJournalClosed)
	_, err = j.Recent(ctx, 1)
	assert.ErrorIs(t, err, ErrJournalClosed)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "precondition", Code(ErrPrecondition))
	assert.Equal(t, "not_found", Code(ErrNoSession))
	assert.Equal(t, "network", Code(ErrNetwork))
	assert.Equal(t, "integrity", Code(ErrIntegrity))
	assert.Equal(t, "install", Code(ErrInstall))
	assert.Equal(t, "internal", Code(errors.New("x")))
	assert.Equal(t, "", Code(nil))
}

func assertNoArtifacts(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), partialSuffix) || strings.HasSuffix(e.Name(), artifactSuffix) {
			t.Errorf("staged artifact left behind: %s", e.Name())
		}
	}
}

type fakeScanner struct {
	err     error
	scanned []string
}

func (f *fakeScanner) Scan(ctx context.Context, path string) error {
	f.scanned = append(f.scanned, path)
	return f.err
}

func TestDownload_ScannerRejects(t *testing.T) {
	h := newHarness(t)
	scanner := &fakeScanner{err: fmt.Errorf("%w: Eicar-Test-Signature", ErrThreatFound)}
	h.orch.scanner = scanner
	ctx := context.Background()

	s, err := h.orch.Check(ctx)
	require.NoError(t, err)

	_, err = h.orch.Download(ctx, s.ID, nil)
	require.ErrorIs(t, err, ErrIntegrity)
	assert.Contains(t, err.Error(), "Eicar-Test-Signature")
	require.Len(t, scanner.scanned, 1)

	cur, ok := h.orch.Current()
	require.True(t, ok)
	assert.Equal(t, PhaseAvailable, cur.Phase)
	entries, _ := os.ReadDir(h.cacheDir)
	assert.Empty(t, entries, "rejected artifact must be discarded")

	scanner.err = nil
	s, err = h.orch.Download(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseDownloaded, s.Phase)
}
