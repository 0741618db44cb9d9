// Package commsutil provides COMMS (NATS) connection helpers, subjects and payload codecs.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

const (
	connectTimeout = 10 * time.Second
	reconnectWait  = 2 * time.Second
	maxReconnects  = 60
)

// connectOptions names the connection and logs its lifecycle. A bridge keeps
// retrying for about two minutes before the connection is closed for good.
func connectOptions(name string) []comms.Option {
	return []comms.Option{
		comms.Name(name),
		comms.Timeout(connectTimeout),
		comms.ReconnectWait(reconnectWait),
		comms.MaxReconnects(maxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - %s disconnected: %v", logPrefix, name, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s reconnected to %s", logPrefix, name, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(*comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s connection closed", logPrefix, name))
		}),
		comms.ErrorHandler(func(_ *comms.Conn, sub *comms.Subscription, err error) {
			if sub == nil {
				slog.Error(fmt.Sprintf("%s - async error: %v", logPrefix, err))
				return
			}
			slog.Error(fmt.Sprintf("%s - async error on %q: %v", logPrefix, sub.Subject, err))
		}),
	}
}

// Connect dials the COMMS server at url. name identifies the bridge in the
// server's connection list.
func Connect(url, name string) (*comms.Conn, error) {
	nc, err := comms.Connect(url, connectOptions(name)...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS at %s: %w", logPrefix, url, err)
	}
	slog.Info(fmt.Sprintf("%s - %s connected to COMMS at %s", logPrefix, name, nc.ConnectedUrl()))
	return nc, nil
}
