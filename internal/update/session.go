// oreon/appshell · watchthelight <wtl>

package update

import (
	"time"

	"github.com/oreonproject/appshell/pkg/ipc"
)

// Phase is where a session stands in the check → download → install pipeline.
type Phase int

const (
	PhaseUpToDate Phase = iota
	PhaseAvailable
	PhaseDownloading
	PhaseDownloaded
	PhaseInstalling
	PhaseInstalled
)

func (p Phase) String() string {
	switch p {
	case PhaseUpToDate:
		return "up_to_date"
	case PhaseAvailable:
		return "available"
	case PhaseDownloading:
		return "downloading"
	case PhaseDownloaded:
		return "downloaded"
	case PhaseInstalling:
		return "installing"
	case PhaseInstalled:
		return "installed"
	default:
		return "unknown"
	}
}

// Session is one check/download/install attempt. Values handed out by the
// Orchestrator are snapshots.
type Session struct {
	ID        string
	CheckedAt time.Time
	Available bool
	Release   *Release
	Phase     Phase

	Downloaded int64
	Total      int64

	artifact string
}

// Version returns the offered release version, or "" when up to date.
func (s Session) Version() string {
	if s.Release == nil {
		return ""
	}
	return s.Release.Version
}

// Info converts the session for the control socket.
func (s Session) Info() *ipc.SessionInfo {
	info := &ipc.SessionInfo{
		ID:         s.ID,
		Available:  s.Available,
		Version:    s.Version(),
		Phase:      s.Phase.String(),
		Downloaded: s.Downloaded,
		Total:      s.Total,
	}
	if s.Release != nil {
		info.Notes = s.Release.Notes
	}
	return info
}

// Progress is reported while an artifact streams in. Downloaded never
// decreases within one download.
type Progress struct {
	SessionID  string
	Downloaded int64
	Total      int64
}

// Percent returns completion in 0-100, or -1 when the size is unknown.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return -1
	}
	pct := int(p.Downloaded * 100 / p.Total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProgressFunc receives download progress on the downloading goroutine.
type ProgressFunc func(Progress)
