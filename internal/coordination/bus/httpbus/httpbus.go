// Package httpbus is a thin JSON-over-HTTP client for a remote bus
// backend, sufficient to exercise the "https://" invite-URL branch of
// worker bootstrap (§4.5). The bus service itself is an external
// collaborator out of scope for this module (§1); this client only
// needs to speak whatever wire shape that service exposes for the
// operations in bus.Bus, so it uses net/http directly rather than a
// generated RPC client -- there is no .proto/openapi schema in this
// module's domain to generate one from.
package httpbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/bus"
)

// Bus talks to a remote deaddrop-compatible bus server over HTTP.
type Bus struct {
	BaseURL string
	Client  *http.Client
}

// New constructs an httpbus client. If client is nil, http.DefaultClient is used.
func New(baseURL string, client *http.Client) *Bus {
	if client == nil {
		client = http.DefaultClient
	}
	return &Bus{BaseURL: baseURL, Client: client}
}

// SupportsPush reports true: a remote bus is expected to implement a
// genuine long-poll or server-push Subscribe, unlike localbus.
func (b *Bus) SupportsPush() bool { return true }

func (b *Bus) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("httpbus: %s %s: %s: %s", method, path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *Bus) CreateNamespace(ctx context.Context, displayName string) (bus.Namespace, error) {
	var out bus.Namespace
	err := b.do(ctx, http.MethodPost, "/namespaces", map[string]string{"display_name": displayName}, &out)
	return out, err
}

func (b *Bus) CreateIdentity(ctx context.Context, nsID, displayName, nsSecret string) (bus.Identity, error) {
	var out bus.Identity
	err := b.do(ctx, http.MethodPost, "/namespaces/"+url.PathEscape(nsID)+"/identities",
		map[string]string{"display_name": displayName, "ns_secret": nsSecret}, &out)
	return out, err
}

func (b *Bus) CreateRoom(ctx context.Context, nsID, creatorSecret, displayName string) (string, error) {
	var out struct {
		RoomID string `json:"room_id"`
	}
	err := b.do(ctx, http.MethodPost, "/namespaces/"+url.PathEscape(nsID)+"/rooms",
		map[string]string{"creator_secret": creatorSecret, "display_name": displayName}, &out)
	return out.RoomID, err
}

func (b *Bus) AddRoomMember(ctx context.Context, nsID, roomID, identityID, secret string) error {
	return b.do(ctx, http.MethodPost,
		fmt.Sprintf("/namespaces/%s/rooms/%s/members", url.PathEscape(nsID), url.PathEscape(roomID)),
		map[string]string{"identity_id": identityID, "secret": secret}, nil)
}

func (b *Bus) CreateInvite(ctx context.Context, nsID, identityID, identitySecret, nsSecret, roomID, coordinatorID, displayName string) (string, error) {
	var out struct {
		InviteURL string `json:"invite_url"`
	}
	err := b.do(ctx, http.MethodPost, "/namespaces/"+url.PathEscape(nsID)+"/invites", map[string]string{
		"identity_id": identityID, "identity_secret": identitySecret,
		"ns_secret": nsSecret, "room_id": roomID, "coordinator_id": coordinatorID,
		"display_name": displayName,
	}, &out)
	return out.InviteURL, err
}

func (b *Bus) ClaimInvite(ctx context.Context, inviteURL string) (bus.ClaimResult, error) {
	var out bus.ClaimResult
	err := b.do(ctx, http.MethodPost, "/invites/claim", map[string]string{"invite_url": inviteURL}, &out)
	return out, err
}

func (b *Bus) SendMessage(ctx context.Context, nsID, fromSecret, toID string, body []byte, contentType string) (string, error) {
	var out struct {
		MID string `json:"mid"`
	}
	err := b.do(ctx, http.MethodPost, fmt.Sprintf("/namespaces/%s/inbox/%s", url.PathEscape(nsID), url.PathEscape(toID)),
		map[string]any{"from_secret": fromSecret, "body": body, "content_type": contentType}, &out)
	return out.MID, err
}

func (b *Bus) SendRoomMessage(ctx context.Context, nsID, roomID, secret string, body []byte, contentType string) (string, error) {
	var out struct {
		MID string `json:"mid"`
	}
	err := b.do(ctx, http.MethodPost, fmt.Sprintf("/namespaces/%s/rooms/%s/messages", url.PathEscape(nsID), url.PathEscape(roomID)),
		map[string]any{"secret": secret, "body": body, "content_type": contentType}, &out)
	return out.MID, err
}

func (b *Bus) GetInbox(ctx context.Context, nsID, identityID, secret, afterMID string) ([]bus.Envelope, error) {
	var out []bus.Envelope
	q := url.Values{"secret": {secret}, "after_mid": {afterMID}}
	err := b.do(ctx, http.MethodGet,
		fmt.Sprintf("/namespaces/%s/inbox/%s?%s", url.PathEscape(nsID), url.PathEscape(identityID), q.Encode()), nil, &out)
	return out, err
}

func (b *Bus) GetRoomMessages(ctx context.Context, nsID, roomID, secret, afterMID string) ([]bus.Envelope, error) {
	var out []bus.Envelope
	q := url.Values{"secret": {secret}, "after_mid": {afterMID}}
	err := b.do(ctx, http.MethodGet,
		fmt.Sprintf("/namespaces/%s/rooms/%s/messages?%s", url.PathEscape(nsID), url.PathEscape(roomID), q.Encode()), nil, &out)
	return out, err
}

func (b *Bus) Subscribe(ctx context.Context, nsID, secret string, topics map[string]string, timeout time.Duration) (bus.SubscribeResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	var out bus.SubscribeResult
	err := b.do(reqCtx, http.MethodPost, "/namespaces/"+url.PathEscape(nsID)+"/subscribe", map[string]any{
		"secret": secret, "topics": topics, "timeout_ms": timeout.Milliseconds(),
	}, &out)
	return out, err
}
