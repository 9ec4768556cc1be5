package broadcast

import (
	"time"

	"github.com/okian/amep/pkg/logger"
)

// Option configures a Hub.
type Option func(*Hub)

// WithSubscriberBuffer sets how many notifications a slow subscriber may lag
// behind before notifications to it are dropped.
func WithSubscriberBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.subscriberBuffer = n
		}
	}
}

// WithPingInterval sets the WebSocket keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}
