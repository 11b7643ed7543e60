package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/wserr"
	"github.com/go-playground/validator/v10"
)

// HandlerFunc receives the decoded payload (the value Payload() returned,
// filled and validated) and returns the ack body or a wserr error.
type HandlerFunc func(ctx context.Context, c *Client, payload any) (any, error)

type RateLimit struct {
	Limit  int
	Window time.Duration
}

// Handler pairs an event handler with its declarative pipeline
// configuration. The whole table is built by explicit Register calls at
// startup.
type Handler struct {
	Name      string
	NeedAuth  bool
	Payload   func() any // prototype factory; nil means raw payload
	RateLimit *RateLimit
	Dedup     bool
	Fn        HandlerFunc
}

func (h *Hub) Register(handler Handler) {
	h.handlersMutex.Lock()
	defer h.handlersMutex.Unlock()

	if _, exists := h.handlers[handler.Name]; exists {
		h.sugar.Fatalf("Event [%s] registered twice", handler.Name)
	}
	h.handlers[handler.Name] = &handler
}

type inboundFrame struct {
	Event string          `json:"event"`
	Nonce string          `json:"nonce,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type ackFrame struct {
	Event string       `json:"event"`
	Nonce string       `json:"nonce,omitempty"`
	Ok    bool         `json:"ok"`
	Data  any          `json:"data,omitempty"`
	Error *wserr.Error `json:"error,omitempty"`
}

type pushFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// dispatch runs one inbound frame through the pipeline: resolve, auth gate,
// decode+validate, rate limit, dedup, invoke. Every failure is acked back to
// the requesting connection only; nothing escapes into the read loop.
func (h *Hub) dispatch(ctx context.Context, c *Client, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.sugar.Debugf("Session ID [%d] sent an unparseable frame", c.SessionID)
		return
	}

	h.handlersMutex.RLock()
	handler, exists := h.handlers[frame.Event]
	h.handlersMutex.RUnlock()

	if !exists {
		// only answer when the client is waiting on a nonce
		if frame.Nonce != "" {
			c.ack(frame, nil, wserr.NotFound(fmt.Sprintf("unknown event %q", frame.Event)))
		}
		h.sugar.Debugf("Session ID [%d] sent unknown event [%s]", c.SessionID, frame.Event)
		return
	}

	if handler.NeedAuth && c.Identity.UserID == 0 {
		c.ack(frame, nil, wserr.Unauthorized("authentication required"))
		return
	}

	var payload any = frame.Data
	if handler.Payload != nil {
		decoded := handler.Payload()
		if err := json.Unmarshal(frame.Data, decoded); err != nil {
			c.ack(frame, nil, wserr.ValidationFailed(map[string]string{"data": "malformed payload"}))
			return
		}
		if err := h.validate.Struct(decoded); err != nil {
			c.ack(frame, nil, validationError(err))
			return
		}
		payload = decoded
	}

	if handler.RateLimit != nil {
		if !h.limiter.allow(c.Identity.UserID, frame.Event, handler.RateLimit) {
			c.ack(frame, nil, wserr.RateLimited(fmt.Sprintf("too many %s events", frame.Event)))
			return
		}
	}

	if handler.Dedup {
		if h.dedup.seen(c.Identity.UserID, frame.Event, frame.Data) {
			c.ack(frame, nil, wserr.Conflict("duplicate event suppressed"))
			return
		}
	}

	result, err := handler.Fn(ctx, c, payload)
	if err != nil {
		typed, wasTyped := wserr.From(err)
		if !wasTyped {
			h.sugar.Errorw("Handler failed",
				"event", frame.Event,
				"userID", c.Identity.UserID,
				"error", err,
			)
		}
		c.ack(frame, nil, typed)
		return
	}

	c.ack(frame, result, nil)
}

func validationError(err error) *wserr.Error {
	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return wserr.ValidationFailed(nil)
	}

	fields := make(map[string]string, len(validateErrs))
	for _, e := range validateErrs {
		fields[e.Field()] = e.Tag()
	}
	return wserr.ValidationFailed(fields)
}

// ack replies to the originating connection. Fire-and-forget events carry no
// nonce and expect no reply on success.
func (c *Client) ack(frame inboundFrame, result any, ackErr *wserr.Error) {
	if frame.Nonce == "" && ackErr == nil {
		return
	}

	bytes, err := json.Marshal(ackFrame{
		Event: "ack",
		Nonce: frame.Nonce,
		Ok:    ackErr == nil,
		Data:  result,
		Error: ackErr,
	})
	if err != nil {
		c.hub.sugar.Error(err)
		return
	}
	c.enqueue(bytes)
}

// fixed-window rate limiting keyed by user+event; windows and thresholds are
// per-handler configuration
type rateLimiter struct {
	mutex   sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{windows: make(map[string]*window)}
}

func (rl *rateLimiter) allow(userID int64, event string, limit *RateLimit) bool {
	key := fmt.Sprintf("%d:%s", userID, event)
	now := time.Now()

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	w, exists := rl.windows[key]
	if !exists || now.Sub(w.start) >= limit.Window {
		rl.windows[key] = &window{start: now, count: 1}
		return true
	}

	if w.count >= limit.Limit {
		return false
	}
	w.count++
	return true
}

// dedupCache suppresses handler invocation for byte-identical payloads seen
// recently for the same user+event, catching double-submits from network
// retries.
type dedupCache struct {
	window time.Duration

	mutex sync.Mutex
	seenA map[string]time.Time
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{window: window, seenA: make(map[string]time.Time)}
}

func (d *dedupCache) seen(userID int64, event string, payload []byte) bool {
	digest := sha256.Sum256(payload)
	key := fmt.Sprintf("%d:%s:%s", userID, event, hex.EncodeToString(digest[:]))
	now := time.Now()

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if last, exists := d.seenA[key]; exists && now.Sub(last) < d.window {
		return true
	}
	d.seenA[key] = now

	// lazy prune, the cache only ever holds entries from the recent window
	if len(d.seenA) > 4096 {
		for k, at := range d.seenA {
			if now.Sub(at) >= d.window {
				delete(d.seenA, k)
			}
		}
	}
	return false
}
