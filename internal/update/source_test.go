// oreon/appshell · watchthelight <wtl>

package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReleaseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/latest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	})
	mux.HandleFunc("/artifact", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		io.WriteString(w, "hello")
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSource_Latest(t *testing.T) {
	body := `{"version":"2.0.0","notes":"bug fixes","platforms":{"test-arch":{"url":"https://dl.example.org/app","sha256":"abc","size":42}}}`
	srv := newReleaseServer(t, http.StatusOK, body)

	rel, err := NewHTTPSource(srv.URL+"/latest.json", "appshell-test").WithTarget("test-arch").Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "2.0.0", rel.Version)
	assert.Equal(t, "bug fixes", rel.Notes)
	assert.Equal(t, "https://dl.example.org/app", rel.URL)
	assert.EqualValues(t, 42, rel.Size)
}

func TestHTTPSource_LatestOtherTarget(t *testing.T) {
	body := `{"version":"2.0.0","platforms":{"plan9-mips":{"url":"https://dl.example.org/app"}}}`
	srv := newReleaseServer(t, http.StatusOK, body)

	rel, err := NewHTTPSource(srv.URL+"/latest.json", "t").WithTarget("test-arch").Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestHTTPSource_SendsChannel(t *testing.T) {
	var channels []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channels = append(channels, r.URL.Query().Get("channel"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL+"/latest.json", "t").WithChannel("beta").Latest(context.Background())
	require.NoError(t, err)
	_, err = NewHTTPSource(srv.URL+"/latest.json", "t").Latest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"beta", ""}, channels)
}

func TestHTTPSource_NoContent(t *testing.T) {
	srv := newReleaseServer(t, http.StatusNoContent, "")

	rel, err := NewHTTPSource(srv.URL+"/latest.json", "t").Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestHTTPSource_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "oops"},
		{"bad json", http.StatusOK, "{not json"},
		{"no version", http.StatusOK, `{"platforms":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newReleaseServer(t, tt.status, tt.body)
			_, err := NewHTTPSource(srv.URL+"/latest.json", "t").Latest(context.Background())
			assert.ErrorIs(t, err, ErrNetwork)
		})
	}
}

func TestHTTPSource_Unreachable(t *testing.T) {
	srv := newReleaseServer(t, http.StatusOK, "{}")
	url := srv.URL + "/latest.json"
	srv.Close()

	_, err := NewHTTPSource(url, "t").Latest(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestHTTPSource_NoEndpoint(t *testing.T) {
	_, err := NewHTTPSource("", "t").Latest(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestHTTPSource_Open(t *testing.T) {
	srv := newReleaseServer(t, http.StatusOK, "{}")
	src := NewHTTPSource(srv.URL+"/latest.json", "t")

	body, size, err := src.Open(context.Background(), &Release{URL: srv.URL + "/artifact"})
	require.NoError(t, err)
	defer body.Close()
	assert.EqualValues(t, 5, size)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, _, err = src.Open(context.Background(), &Release{URL: srv.URL + "/missing"})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestHTTPSource_EndToEnd(t *testing.T) {
	payload := []byte("new binary contents")
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/latest.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":"3.1.0","platforms":{"%s":{"url":"%s/bin","sha256":"%s"}}}`, Target(), srvURL, sum(payload))
	})
	mux.HandleFunc("/bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	var installed string
	orch := New(Options{
		CurrentVersion: "3.0.9",
		Source:         NewHTTPSource(srv.URL+"/latest.json", "t"),
		CacheDir:       t.TempDir(),
		Installer: InstallerFunc(func(ctx context.Context, path string, rel *Release) error {
			installed = rel.Version
			return nil
		}),
	})

	ctx := context.Background()
	s, err := orch.Check(ctx)
	require.NoError(t, err)
	require.True(t, s.Available)
	s, err = orch.Download(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), s.Downloaded)
	_, err = orch.Install(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "3.1.0", installed)
}
