package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/config"
)

const (
	cloudEventSpecVersion = "1.0"
	eventSource           = "graylogic/xbox"
	eventTypePrefix       = "io.graylogic.xbox."
	defaultSubjectPrefix  = "graylogic.xbox"

	defaultReconnectWait = 2 * time.Second
	flushTimeout         = 2 * time.Second
)

// CloudEvent is the envelope every published event travels in.
type CloudEvent struct {
	SpecVersion     string     `json:"specversion"`
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Type            string     `json:"type"`
	DataContentType string     `json:"datacontenttype,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	Time            *time.Time `json:"time,omitempty"`
	Data            any        `json:"data,omitempty"`
}

// Logger is the structured logger used by the publisher.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
	IsConnected() bool
}

// Publisher publishes console events to NATS as CloudEvents.
//
// Subjects are {prefix}.{console_id}.{event_type}, so a consumer can
// follow one console with "graylogic.xbox.living-room.>" or every state
// change with "graylogic.xbox.*.state_changed".
//
// Thread Safety: all methods are safe for concurrent use.
type Publisher struct {
	nc     conn
	prefix string
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	logger Logger
}

// Connect dials NATS and returns a publisher.
//
// Parameters:
//   - ctx: Cancels the dial (nats.Connect itself is bounded by its own timeout)
//   - cfg: NATS configuration from config.yaml
//   - logger: Optional; receives connection lifecycle messages
//
// Returns:
//   - *Publisher: Ready to publish
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the cause
func Connect(ctx context.Context, cfg config.NATSConfig, logger Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	nc, err := nats.Connect(cfg.URL, buildOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newPublisher(nc, cfg.SubjectPrefix)
	p.logger = logger
	p.logInfo("connected to NATS", "url", nc.ConnectedUrl())
	return p, nil
}

func buildOptions(cfg config.NATSConfig, logger Logger) []nats.Option {
	wait := defaultReconnectWait
	if cfg.ReconnectWait > 0 {
		wait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "graylogic-xbox"
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if logger != nil && err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if logger != nil {
				logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			if logger != nil {
				logger.Error("NATS async error", "error", err)
			}
		}),
	}
	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}
	return opts
}

func newPublisher(nc conn, prefix string) *Publisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &Publisher{
		nc:     nc,
		prefix: prefix,
		now:    time.Now,
	}
}

// Subject returns the subject events of eventType for a console go to.
func (p *Publisher) Subject(consoleID, eventType string) string {
	return p.prefix + "." + subjectToken(consoleID) + "." + subjectToken(eventType)
}

// Publish wraps data in a CloudEvent and publishes it.
//
// Parameters:
//   - consoleID: Console the event is about
//   - eventType: Event name such as "state_changed" or "disconnected"
//   - at: Event time; zero means now
//   - data: JSON-encodable payload
func (p *Publisher) Publish(consoleID, eventType string, at time.Time, data any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrNotConnected
	}

	if at.IsZero() {
		at = p.now()
	}
	subject := p.Subject(consoleID, eventType)
	event := CloudEvent{
		SpecVersion:     cloudEventSpecVersion,
		ID:              uuid.New().String(),
		Source:          eventSource + "/" + consoleID,
		Type:            eventTypePrefix + eventType,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &at,
		Data:            data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: marshal %s event: %w", ErrPublishFailed, eventType, err)
	}
	if err := p.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, subject, err)
	}
	return nil
}

// IsConnected reports whether the connection is up. Nil-safe.
func (p *Publisher) IsConnected() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.nc.IsConnected()
}

// HealthCheck flushes the connection, proving a round trip to the server.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if err := p.nc.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("nats health check failed: %w", err)
	}
	return nil
}

// Close drains pending publishes and closes the connection. Nil-safe and
// idempotent.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.nc.Drain(); err != nil {
		return fmt.Errorf("draining NATS connection: %w", err)
	}
	return nil
}

func (p *Publisher) logInfo(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Info(msg, keysAndValues...)
	}
}

// subjectToken makes s safe as a single subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
