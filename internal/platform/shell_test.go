// oreon/appshell · watchthelight <wtl>

package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oreonproject/appshell/internal/window"
)

type failingApp struct{}

func (failingApp) Hide() error { return errors.New("no display") }
func (failingApp) Show() error { return errors.New("no display") }

func newRegistry(t *testing.T) (*window.Registry, *HeadlessWindow, *HeadlessWindow) {
	t.Helper()
	reg := window.NewRegistry(nil)
	splash := NewHeadlessWindow(window.Splashscreen, true, nil)
	main := NewHeadlessWindow(window.Main, true, nil)
	require.NoError(t, reg.Register(window.Splashscreen, splash, true))
	require.NoError(t, reg.Register(window.Main, main, true))
	return reg, splash, main
}

func TestSelect(t *testing.T) {
	reg, _, _ := newRegistry(t)
	app := &HeadlessApp{}

	tests := []struct {
		policy string
		want   string
	}{
		{PolicyApp, PolicyApp},
		{PolicyWindow, PolicyWindow},
		{PolicyNone, PolicyNone},
		{PolicyAuto, defaultPolicy},
		{"", defaultPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			s, err := Select(tt.policy, app, reg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
		})
	}

	_, err := Select("minimize", app, reg)
	assert.Error(t, err)

	_, err = Select(PolicyApp, nil, reg)
	assert.Error(t, err)
}

func TestWindowHider_HidesOnlyOriginatingWindow(t *testing.T) {
	reg, splash, main := newRegistry(t)
	s, err := Select(PolicyWindow, nil, reg)
	require.NoError(t, err)

	require.NoError(t, s.HideOnClose(window.Main))
	assert.False(t, main.Visible())
	assert.True(t, splash.Visible())

	require.NoError(t, s.Reveal())
	assert.True(t, main.Visible())
}

func TestAppHider_HidesApplication(t *testing.T) {
	reg, splash, main := newRegistry(t)
	app := &HeadlessApp{}
	s, err := Select(PolicyApp, app, reg)
	require.NoError(t, err)

	require.NoError(t, s.HideOnClose(window.Splashscreen))
	assert.True(t, app.Hidden())
	// Individual windows are left alone; the app hides as a whole.
	assert.True(t, splash.Visible())
	assert.True(t, main.Visible())
	// The registry reports what the user sees.
	assert.False(t, reg.Visible(window.Main))
	assert.False(t, reg.Visible(window.Splashscreen))

	require.NoError(t, s.Reveal())
	assert.False(t, app.Hidden())
	assert.True(t, reg.Visible(window.Main))
	assert.True(t, reg.Visible(window.Splashscreen))
}

func TestAppHider_WrapsPlatformError(t *testing.T) {
	reg, _, _ := newRegistry(t)
	s, err := Select(PolicyApp, failingApp{}, reg)
	require.NoError(t, err)

	assert.ErrorIs(t, s.HideOnClose(window.Main), ErrPlatform)
	assert.ErrorIs(t, s.Reveal(), ErrPlatform)
}

func TestMobile(t *testing.T) {
	var s Shell = Mobile{}
	assert.False(t, s.InterceptsClose())
	assert.False(t, s.HasTray())
	assert.NoError(t, s.HideOnClose(window.Main))
}

func TestHeadlessWindow_CloseTwice(t *testing.T) {
	w := NewHeadlessWindow("x", true, nil)
	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
	assert.Error(t, w.Show())
	assert.False(t, w.Visible())
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, LogNotifier{}.Notify("hello", "world"))
}
