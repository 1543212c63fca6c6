// oreon/appshell · watchthelight <wtl>

package tray

import "github.com/energye/systray"

// Systray is the desktop Backend backed by energye/systray.
type Systray struct{}

// NewSystray returns the desktop tray backend.
func NewSystray() Systray {
	return Systray{}
}

func (Systray) Run(onReady, onExit func()) {
	systray.Run(onReady, onExit)
}

func (Systray) Quit() {
	systray.Quit()
}

func (Systray) SetIcon(icon []byte) {
	systray.SetIcon(icon)
}

func (Systray) SetTooltip(tooltip string) {
	systray.SetTooltip(tooltip)
}

func (Systray) AddMenuItem(title, tooltip string, onClick func()) {
	item := systray.AddMenuItem(title, tooltip)
	item.Click(onClick)
}

func (Systray) AddSeparator() {
	systray.AddSeparator()
}

func (Systray) SetOnActivate(fn func()) {
	systray.SetOnClick(func(menu systray.IMenu) { fn() })
	systray.SetOnDClick(func(menu systray.IMenu) { fn() })
	// With a click handler installed the menu only opens on right click.
	systray.SetOnRClick(func(menu systray.IMenu) {
		if menu != nil {
			menu.ShowMenu()
		}
	})
}
