// Package transport implements the per-identity coordination transport
// (§4.3): direct send, broadcast, inbox/room cursors, and the dual
// subscribe/poll blocking wait.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/bus"
	"github.com/leapmux/leapmux/internal/coordination/compress"
	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
	"github.com/leapmux/leapmux/internal/coordination/protocol"
	"github.com/leapmux/leapmux/internal/metrics"
)

// pollInterval is how often wait_for_messages re-checks the bus in poll
// mode, per §4.3.
const pollInterval = 500 * time.Millisecond

// ReceivedMessage is a decoded inbox or room message along with its
// envelope metadata.
type ReceivedMessage struct {
	Message    protocol.Message
	FromID     string
	MID        string
	IsRoom     bool
}

// Context is the per-identity coordination transport. One Context is
// constructed per worker or coordinator identity.
type Context struct {
	Bus            bus.Bus
	NsID           string
	NsSecret       string // empty for non-privileged identities
	IdentityID     string
	IdentitySecret string
	RoomID         string // optional
	CoordinatorID  string // optional

	CompressionThreshold int
	RetryPolicy          RetryPolicy

	mu          sync.Mutex
	lastInboxMID string
	lastRoomMID  string
}

// New constructs a Context with the defaults from §4.1/§4.3.
func New(b bus.Bus, nsID, identityID, identitySecret string) *Context {
	return &Context{
		Bus:                  b,
		NsID:                 nsID,
		IdentityID:           identityID,
		IdentitySecret:       identitySecret,
		CompressionThreshold: compress.DefaultThreshold,
		RetryPolicy:          DefaultRetryPolicy(),
	}
}

func (c *Context) contentType(method compress.Method) string {
	if method == compress.MethodGzip {
		return protocol.ContentType + "; compression=gzip"
	}
	return protocol.ContentType
}

func (c *Context) encode(m protocol.Message) ([]byte, string, error) {
	body, err := protocol.Serialize(m)
	if err != nil {
		return nil, "", err
	}
	compressed, method, err := compress.Compress(body, c.CompressionThreshold)
	if err != nil {
		return nil, "", err
	}
	return compressed, c.contentType(method), nil
}

func (c *Context) retryPolicy(retry bool) RetryPolicy {
	if retry {
		return c.RetryPolicy
	}
	return NoRetry()
}

// Send posts msg directly to toID's inbox.
func (c *Context) Send(ctx context.Context, toID string, msg protocol.Message, retry bool) error {
	body, contentType, err := c.encode(msg)
	if err != nil {
		return err
	}
	_, err = Retry(ctx, "send_message", c.retryPolicy(retry), func() (string, error) {
		return c.Bus.SendMessage(ctx, c.NsID, c.IdentitySecret, toID, body, contentType)
	})
	if err == nil {
		metrics.MessagesSentTotal.WithLabelValues(msg.Type()).Inc()
	}
	return err
}

// Broadcast posts msg to the context's room. Fails coorderrs.NoRoom if unset.
func (c *Context) Broadcast(ctx context.Context, msg protocol.Message, retry bool) error {
	if c.RoomID == "" {
		return &coorderrs.NoRoom{}
	}
	body, contentType, err := c.encode(msg)
	if err != nil {
		return err
	}
	_, err = Retry(ctx, "send_room_message", c.retryPolicy(retry), func() (string, error) {
		return c.Bus.SendRoomMessage(ctx, c.NsID, c.RoomID, c.IdentitySecret, body, contentType)
	})
	if err == nil {
		metrics.MessagesSentTotal.WithLabelValues(msg.Type()).Inc()
	}
	return err
}

// SendToCoordinator posts msg to the configured coordinator's inbox.
// Fails coorderrs.NoCoordinator if unset.
func (c *Context) SendToCoordinator(ctx context.Context, msg protocol.Message, retry bool) error {
	if c.CoordinatorID == "" {
		return &coorderrs.NoCoordinator{}
	}
	return c.Send(ctx, c.CoordinatorID, msg, retry)
}

// parseEnvelope decodes a bus envelope into a coordination message.
// Parse failures are reported but never propagated as an error from
// Receive -- the cursor still advances past them so a single malformed
// message can never livelock the consumer (§7).
func parseEnvelope(e bus.Envelope, isRoom bool) (*ReceivedMessage, error) {
	var method compress.Method
	contentType := e.ContentType
	if idx := indexSemicolon(contentType); idx >= 0 {
		param := contentType[idx+1:]
		contentType = contentType[:idx]
		if v, ok := compressionParam(param); ok {
			method = compress.Method(v)
		}
	}
	if contentType != protocol.ContentType {
		return nil, &coorderrs.ParseError{Reason: "unexpected content-type: " + e.ContentType}
	}
	body, err := compress.Decompress(e.Body, method)
	if err != nil {
		return nil, &coorderrs.ParseError{Reason: "decompress", Err: err}
	}
	msg, err := protocol.Deserialize(body)
	if err != nil {
		return nil, err
	}
	return &ReceivedMessage{Message: msg, FromID: e.FromID, MID: e.MID, IsRoom: isRoom}, nil
}

func indexSemicolon(s string) int {
	for i, r := range s {
		if r == ';' {
			return i
		}
	}
	return -1
}

func compressionParam(param string) (string, bool) {
	const prefix = "compression="
	param = trimSpace(param)
	if len(param) >= len(prefix) && param[:len(prefix)] == prefix {
		return param[len(prefix):], true
	}
	return "", false
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && s[start] == ' ' {
		start++
	}
	end := len(s)
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}

// Receive fetches inbox-since-cursor and, if includeRoom, room-since-cursor
// messages. It returns newest-first. Parse errors skip-and-advance; an
// exhausted retry on the transport call itself holds the cursor back so
// the next call retries the same range.
func (c *Context) Receive(ctx context.Context, includeRoom bool, retry bool) ([]ReceivedMessage, error) {
	c.mu.Lock()
	afterInbox := c.lastInboxMID
	afterRoom := c.lastRoomMID
	roomID := c.RoomID
	c.mu.Unlock()

	policy := c.retryPolicy(retry)

	inboxEnvs, err := Retry(ctx, "get_inbox", policy, func() ([]bus.Envelope, error) {
		return c.Bus.GetInbox(ctx, c.NsID, c.IdentityID, c.IdentitySecret, afterInbox)
	})
	if err != nil {
		return nil, err
	}

	var roomEnvs []bus.Envelope
	if includeRoom && roomID != "" {
		roomEnvs, err = Retry(ctx, "get_room_messages", policy, func() ([]bus.Envelope, error) {
			return c.Bus.GetRoomMessages(ctx, c.NsID, roomID, c.IdentitySecret, afterRoom)
		})
		if err != nil {
			return nil, err
		}
	}

	var out []ReceivedMessage
	if len(inboxEnvs) > 0 {
		for _, e := range inboxEnvs {
			rm, perr := parseEnvelope(e, false)
			if perr != nil {
				slog.Warn("coordination: skipping unparseable inbox message", "mid", e.MID, "error", perr)
				metrics.MessageParseErrorsTotal.Inc()
				continue
			}
			metrics.MessagesReceivedTotal.WithLabelValues(rm.Message.Type()).Inc()
			out = append(out, *rm)
		}
		c.mu.Lock()
		c.lastInboxMID = inboxEnvs[len(inboxEnvs)-1].MID
		c.mu.Unlock()
	}
	if len(roomEnvs) > 0 {
		for _, e := range roomEnvs {
			rm, perr := parseEnvelope(e, true)
			if perr != nil {
				slog.Warn("coordination: skipping unparseable room message", "mid", e.MID, "error", perr)
				metrics.MessageParseErrorsTotal.Inc()
				continue
			}
			metrics.MessagesReceivedTotal.WithLabelValues(rm.Message.Type()).Inc()
			out = append(out, *rm)
		}
		c.mu.Lock()
		c.lastRoomMID = roomEnvs[len(roomEnvs)-1].MID
		c.mu.Unlock()
	}

	// newest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Poll is the non-blocking form of Receive.
func (c *Context) Poll(ctx context.Context, includeRoom bool) ([]ReceivedMessage, error) {
	return c.Receive(ctx, includeRoom, true)
}

// WaitForMessages blocks until a message arrives or timeout elapses,
// choosing subscribe mode (server push) when the backend supports it,
// and poll mode (fixed-interval Receive) otherwise.
func (c *Context) WaitForMessages(ctx context.Context, timeout time.Duration, includeRoom bool) ([]ReceivedMessage, error) {
	if pusher, ok := c.Bus.(bus.SupportsPush); ok && pusher.SupportsPush() {
		return c.waitSubscribe(ctx, timeout, includeRoom)
	}
	return c.waitPoll(ctx, timeout, includeRoom)
}

func (c *Context) waitSubscribe(ctx context.Context, timeout time.Duration, includeRoom bool) ([]ReceivedMessage, error) {
	c.mu.Lock()
	topics := map[string]string{"inbox:" + c.IdentityID: c.lastInboxMID}
	if includeRoom && c.RoomID != "" {
		topics["room:"+c.RoomID] = c.lastRoomMID
	}
	c.mu.Unlock()

	result, err := c.Bus.Subscribe(ctx, c.NsID, c.IdentitySecret, topics, timeout)
	if err != nil {
		// Subscribe itself failed: fall back to an immediate fetch rather
		// than propagate, matching the original client's fallback behavior.
		return c.Receive(ctx, includeRoom, true)
	}
	if result.Timeout {
		return nil, nil
	}
	return c.Receive(ctx, includeRoom, true)
}

func (c *Context) waitPoll(ctx context.Context, timeout time.Duration, includeRoom bool) ([]ReceivedMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		msgs, err := c.Receive(ctx, includeRoom, true)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
