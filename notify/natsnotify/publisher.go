// Package natsnotify publishes toolscope events to NATS subjects.
//
// Subjects have the form <prefix>.<user_id>.<event_type>, so a consumer can subscribe to one
// user (toolscope.events.alice.>) or one event type across users (toolscope.events.*.tool_completed).
package natsnotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"

	"github.com/skosovsky/toolscope"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultSubjectPrefix is used when Options.SubjectPrefix is empty.
	DefaultSubjectPrefix = "toolscope.events"
	// DefaultFlushTimeout bounds a flush when the caller's context has no deadline.
	DefaultFlushTimeout = 2 * time.Second
)

var errNilConn = errors.New("nats connection must not be nil")

// Options configures a Publisher. Nil or zero values use defaults.
type Options struct {
	SubjectPrefix string
	// FlushOnEmit waits for the server to acknowledge each publish (slower, useful in tests).
	FlushOnEmit bool
	// FlushTimeout applies when the Emit context carries no deadline (nats requires one).
	FlushTimeout time.Duration
	Logger       *slog.Logger
}

// Publisher implements toolscope.Emitter over a shared *nats.Conn. It does not own the connection.
type Publisher struct {
	nc           *nats.Conn
	prefix       string
	flush        bool
	flushTimeout time.Duration
	logger       *slog.Logger
}

// NewPublisher creates a Publisher. Pass nil for opts to use defaults.
func NewPublisher(nc *nats.Conn, opts *Options) (*Publisher, error) {
	if nc == nil {
		return nil, errNilConn
	}
	p := &Publisher{nc: nc, prefix: DefaultSubjectPrefix, flushTimeout: DefaultFlushTimeout, logger: slog.Default()}
	if opts != nil {
		if opts.SubjectPrefix != "" {
			p.prefix = strings.TrimSuffix(opts.SubjectPrefix, ".")
		}
		p.flush = opts.FlushOnEmit
		if opts.FlushTimeout > 0 {
			p.flushTimeout = opts.FlushTimeout
		}
		if opts.Logger != nil {
			p.logger = opts.Logger
		}
	}
	return p, nil
}

// Subject returns the subject an event for userID and typ is published on.
func (p *Publisher) Subject(userID string, typ toolscope.EventType) string {
	return p.prefix + "." + subjectToken(userID) + "." + subjectToken(string(typ))
}

// Emit publishes ev as JSON.
func (p *Publisher) Emit(ctx context.Context, ev toolscope.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := p.Subject(ev.UserID, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("nats publish failed", "subject", subject, "error", err)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if p.flush {
		if err := p.flushWithin(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", subject, err)
		}
	}
	p.logger.Debug("event published", "subject", subject, "run_id", ev.RunID)
	return nil
}

func (p *Publisher) flushWithin(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.flushTimeout)
		defer cancel()
	}
	return p.nc.FlushWithContext(ctx)
}

// subjectToken makes s usable as one subject token: separators and wildcards become '_'.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

var _ toolscope.Emitter = (*Publisher)(nil)
