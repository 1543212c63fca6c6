// oreon/appshell · watchthelight <wtl>

package platform

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/esiqveland/notify"
	"github.com/godbus/dbus/v5"
)

// Notifier delivers a desktop notification.
type Notifier interface {
	Notify(summary, body string) error
}

// DBusNotifier sends notifications through org.freedesktop.Notifications on
// the session bus. The bus connection is opened on first use and reused.
type DBusNotifier struct {
	appName string
	icon    string

	mu   sync.Mutex
	conn *dbus.Conn
}

// NewDBusNotifier creates a notifier that labels notifications with appName.
func NewDBusNotifier(appName, icon string) *DBusNotifier {
	return &DBusNotifier{appName: appName, icon: icon}
}

// Notify sends one notification. Errors wrap ErrPlatform.
func (n *DBusNotifier) Notify(summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return fmt.Errorf("%w: connect session bus: %v", ErrPlatform, err)
		}
		n.conn = conn
	}

	_, err := notify.SendNotification(n.conn, notify.Notification{
		AppName: n.appName,
		AppIcon: n.icon,
		Summary: summary,
		Body:    body,
	})
	if err != nil {
		// Drop the connection so the next call redials.
		n.conn.Close()
		n.conn = nil
		return fmt.Errorf("%w: send notification: %v", ErrPlatform, err)
	}
	return nil
}

// Close releases the bus connection.
func (n *DBusNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

// LogNotifier writes notifications to the log. It is the fallback on hosts
// without a notification daemon.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(summary, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "summary", summary, "body", body)
	return nil
}
