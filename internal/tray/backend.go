// oreon/appshell · watchthelight <wtl>

package tray

import "sync"

// Backend is the OS tray primitive. Run blocks the calling goroutine, which
// on macOS must be the main thread, until Quit is called.
type Backend interface {
	Run(onReady, onExit func())
	Quit()
	SetIcon(icon []byte)
	SetTooltip(tooltip string)
	AddMenuItem(title, tooltip string, onClick func())
	AddSeparator()
	// SetOnActivate registers the handler for a primary click or
	// double click on the icon itself.
	SetOnActivate(fn func())
}

// Headless is a Backend with no visible icon. It is used when the shell
// runs without a desktop session.
type Headless struct {
	quit     chan struct{}
	quitOnce sync.Once
}

// NewHeadless creates a headless backend.
func NewHeadless() *Headless {
	return &Headless{quit: make(chan struct{})}
}

func (h *Headless) Run(onReady, onExit func()) {
	if onReady != nil {
		onReady()
	}
	<-h.quit
	if onExit != nil {
		onExit()
	}
}

func (h *Headless) Quit() {
	h.quitOnce.Do(func() { close(h.quit) })
}

func (h *Headless) SetIcon([]byte)                     {}
func (h *Headless) SetTooltip(string)                  {}
func (h *Headless) AddMenuItem(string, string, func()) {}
func (h *Headless) AddSeparator()                      {}
func (h *Headless) SetOnActivate(func())               {}
