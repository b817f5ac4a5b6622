// Package natsbus spreads deliveries across gateway processes over a NATS subject.
// Every process publishes each delivery once and applies every delivery it
// receives to its local hub, so a channel's members may live on any node.
package natsbus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/chat"
	"github.com/omochice/socket-feed/internal/fanout"
	"github.com/omochice/socket-feed/internal/logger"
)

const (
	headerChannel    = "Feed-Channel"
	headerExceptConn = "Feed-Except-Conn"
	headerExceptUser = "Feed-Except-User"
)

// Config describes the NATS connection.
type Config struct {
	URL           string
	Subject       string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Bus publishes deliveries to NATS and feeds received ones into a hub.
type Bus struct {
	nc      *nats.Conn
	subject string
	hub     *chat.Hub
	ownConn bool

	mu  sync.Mutex
	sub *nats.Subscription
}

var _ fanout.Bus = (*Bus)(nil)

// Connect dials NATS and returns a Bus that owns the connection.
func Connect(cfg Config, hub *chat.Hub) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %s", cfg.URL)
	}
	b := New(nc, cfg.Subject, hub)
	b.ownConn = true
	return b, nil
}

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn, subject string, hub *chat.Hub) *Bus {
	if subject == "" {
		subject = "feedgate.deliveries"
	}
	return &Bus{nc: nc, subject: subject, hub: hub}
}

// Deliver publishes d. Core NATS gives at-most-once delivery, matching the
// best-effort contract of the hub.
func (b *Bus) Deliver(_ context.Context, d chat.Delivery) error {
	if err := b.nc.PublishMsg(toMsg(b.subject, d)); err != nil {
		return errors.Wrapf(err, "nats publish %s", d.Channel)
	}
	return nil
}

// Start subscribes to the delivery subject.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		d, ok := fromMsg(m)
		if !ok {
			logger.Warn("nats delivery without channel", zap.String("subject", m.Subject))
			return
		}
		b.hub.Deliver(d)
	})
	if err != nil {
		return errors.Wrapf(err, "nats subscribe %s", b.subject)
	}
	b.sub = sub
	return nil
}

// Close drains the subscription and, if owned, the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		if err := sub.Drain(); err != nil {
			return errors.Wrap(err, "nats drain subscription")
		}
	}
	if b.ownConn {
		return b.nc.Drain()
	}
	return nil
}

func toMsg(subject string, d chat.Delivery) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(headerChannel, d.Channel)
	if d.ExceptConn != "" {
		msg.Header.Set(headerExceptConn, d.ExceptConn)
	}
	if d.ExceptUser != "" {
		msg.Header.Set(headerExceptUser, d.ExceptUser)
	}
	msg.Data = d.Frame
	return msg
}

func fromMsg(m *nats.Msg) (chat.Delivery, bool) {
	channel := strings.TrimSpace(m.Header.Get(headerChannel))
	if channel == "" {
		return chat.Delivery{}, false
	}
	return chat.Delivery{
		Channel:    channel,
		Frame:      m.Data,
		ExceptConn: m.Header.Get(headerExceptConn),
		ExceptUser: m.Header.Get(headerExceptUser),
	}, true
}
