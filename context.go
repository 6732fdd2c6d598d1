package toolscope

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// placeholderIDs are values that show up when an id was never filled in by the caller.
var placeholderIDs = map[string]struct{}{
	"none":        {},
	"null":        {},
	"nil":         {},
	"undefined":   {},
	"placeholder": {},
	"default":     {},
	"registry":    {},
	"test":        {},
}

// RequestContext is the immutable identity of one inbound request. It is a value type;
// copies are independent and none of its accessors mutate it.
type RequestContext struct {
	userID    string
	threadID  string
	runID     string
	requestID string
	createdAt time.Time
	metadata  map[string]string
}

// ContextOption configures a RequestContext at construction time.
type ContextOption func(*RequestContext)

// WithRequestID overrides the generated request id.
func WithRequestID(id string) ContextOption {
	return func(c *RequestContext) {
		c.requestID = id
	}
}

// WithMetadata attaches a read-only key/value to the context.
func WithMetadata(key, value string) ContextOption {
	return func(c *RequestContext) {
		if c.metadata == nil {
			c.metadata = make(map[string]string)
		}
		c.metadata[key] = value
	}
}

// NewRequestContext builds a RequestContext. An empty runID is replaced by a fresh UUID;
// the request id is always generated unless WithRequestID is given.
// The result is verified with VerifyIsolation before it is returned.
func NewRequestContext(userID, threadID, runID string, opts ...ContextOption) (RequestContext, error) {
	if runID == "" {
		runID = "run_" + uuid.NewString()
	}
	c := RequestContext{
		userID:    userID,
		threadID:  threadID,
		runID:     runID,
		requestID: uuid.NewString(),
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.VerifyIsolation(); err != nil {
		return RequestContext{}, err
	}
	return c, nil
}

func (c RequestContext) UserID() string       { return c.userID }
func (c RequestContext) ThreadID() string     { return c.threadID }
func (c RequestContext) RunID() string        { return c.runID }
func (c RequestContext) RequestID() string    { return c.requestID }
func (c RequestContext) CreatedAt() time.Time { return c.createdAt }

// Metadata returns the value stored with WithMetadata.
func (c RequestContext) Metadata(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// MetadataMap returns a copy of all metadata.
func (c RequestContext) MetadataMap() map[string]string {
	return maps.Clone(c.metadata)
}

// CorrelationID ties log lines and events of one request together.
func (c RequestContext) CorrelationID() string {
	req := c.requestID
	if len(req) > 8 {
		req = req[:8]
	}
	return fmt.Sprintf("%s:%s:%s:%s", c.userID, c.threadID, c.runID, req)
}

// VerifyIsolation fails with ErrIsolation when an id is empty or a known placeholder.
func (c RequestContext) VerifyIsolation() error {
	fields := []struct{ name, value string }{
		{"user_id", c.userID},
		{"thread_id", c.threadID},
		{"run_id", c.runID},
		{"request_id", c.requestID},
	}
	for _, f := range fields {
		v := strings.TrimSpace(f.value)
		if v == "" {
			return fmt.Errorf("%w: %s is empty", ErrIsolation, f.name)
		}
		if _, bad := placeholderIDs[strings.ToLower(v)]; bad {
			return fmt.Errorf("%w: %s has placeholder value %q", ErrIsolation, f.name, f.value)
		}
	}
	return nil
}

func (c RequestContext) String() string { return c.CorrelationID() }

type requestKey struct{}

// ContextWithRequest stores rc in ctx so tools can read the identity of the caller.
func ContextWithRequest(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestKey{}, rc)
}

// RequestFromContext returns the RequestContext stored by the dispatcher, if any.
func RequestFromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestKey{}).(RequestContext)
	return rc, ok
}
