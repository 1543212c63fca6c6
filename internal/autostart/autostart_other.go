// oreon/appshell · watchthelight <wtl>

//go:build !linux && !darwin

package autostart

func newPlatform(App) (Manager, error) {
	return nil, ErrUnsupported
}
