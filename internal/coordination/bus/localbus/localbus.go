// Package localbus is an in-process reference implementation of
// bus.Bus, backing the "local://" invite scheme and the test suite.
// It keeps all state in mutex-guarded maps and never pushes events
// across goroutines beyond a single best-effort wakeup channel:
// Subscribe returns early when any write fires that channel, otherwise
// when its timeout elapses. SupportsPush reports false, so a transport
// context over this bus uses what §4.3 calls poll mode.
package localbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/bus"
	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
	"github.com/leapmux/leapmux/internal/idgen"
)

type room struct {
	creatorSecret string
	messages      []bus.Envelope
	members       map[string]bool
}

type namespace struct {
	secret     string
	identities map[string]*bus.Identity // id -> identity (secret included)
	inboxes    map[string][]bus.Envelope
	rooms      map[string]*room
	invites    map[string]inviteRecord
}

type inviteRecord struct {
	claim bus.ClaimResult
}

// Bus is an in-memory implementation of bus.Bus. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	wake chan struct{} // best-effort broadcast notify, closed+replaced on every write
	ns   map[string]*namespace
}

// New returns an empty local bus.
func New() *Bus {
	return &Bus{
		ns:   make(map[string]*namespace),
		wake: make(chan struct{}),
	}
}

// SupportsPush always reports false: localbus has no cross-goroutine
// wakeup precise enough to treat as a real push primitive, so
// CoordinationContext must poll.
func (b *Bus) SupportsPush() bool { return false }

func (b *Bus) notify() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *Bus) CreateNamespace(ctx context.Context, displayName string) (bus.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nsID := idgen.Generate()
	nsSecret := idgen.Generate()
	b.ns[nsID] = &namespace{
		secret:     nsSecret,
		identities: make(map[string]*bus.Identity),
		inboxes:    make(map[string][]bus.Envelope),
		rooms:      make(map[string]*room),
		invites:    make(map[string]inviteRecord),
	}
	return bus.Namespace{NsID: nsID, NsSecret: nsSecret}, nil
}

func (b *Bus) CreateIdentity(ctx context.Context, nsID, displayName, nsSecret string) (bus.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.namespace(nsID, nsSecret)
	if err != nil {
		return bus.Identity{}, err
	}
	ident := bus.Identity{ID: idgen.Generate(), Secret: idgen.Generate(), Display: displayName}
	n.identities[ident.ID] = &ident
	return ident, nil
}

func (b *Bus) CreateRoom(ctx context.Context, nsID, creatorSecret, displayName string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.ns[nsID]
	if !ok {
		return "", fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	roomID := idgen.Generate()
	n.rooms[roomID] = &room{creatorSecret: creatorSecret, members: make(map[string]bool)}
	return roomID, nil
}

func (b *Bus) AddRoomMember(ctx context.Context, nsID, roomID, identityID, secret string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.ns[nsID]
	if !ok {
		return fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	r, ok := n.rooms[roomID]
	if !ok {
		return fmt.Errorf("localbus: unknown room %s", roomID)
	}
	r.members[identityID] = true
	return nil
}

func (b *Bus) CreateInvite(ctx context.Context, nsID, identityID, identitySecret, nsSecret, roomID, coordinatorID, displayName string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.ns[nsID]
	if !ok {
		return "", fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	token := idgen.Generate()
	n.invites[token] = inviteRecord{claim: bus.ClaimResult{
		IdentityID:     identityID,
		IdentitySecret: identitySecret,
		NsID:           nsID,
		NsSecret:       nsSecret,
		RoomID:         roomID,
		CoordinatorID:  coordinatorID,
		Display:        displayName,
	}}
	return "local://" + nsID + "/join/" + token, nil
}

func (b *Bus) ClaimInvite(ctx context.Context, inviteURL string) (bus.ClaimResult, error) {
	nsID, token, err := parseLocalInvite(inviteURL)
	if err != nil {
		return bus.ClaimResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.ns[nsID]
	if !ok {
		return bus.ClaimResult{}, fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	rec, ok := n.invites[token]
	if !ok {
		return bus.ClaimResult{}, fmt.Errorf("localbus: unknown invite token %s", token)
	}
	return rec.claim, nil
}

func (b *Bus) SendMessage(ctx context.Context, nsID, fromSecret, toID string, body []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.ns[nsID]
	if !ok {
		return "", fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	fromID, err := resolveIdentity(n, nsID, fromSecret)
	if err != nil {
		return "", err
	}
	mid := idgen.Generate()
	n.inboxes[toID] = append(n.inboxes[toID], bus.Envelope{
		MID: mid, FromID: fromID, ContentType: contentType, Body: body, CreatedAt: time.Now().UTC(),
	})
	b.notify()
	return mid, nil
}

func (b *Bus) SendRoomMessage(ctx context.Context, nsID, roomID, secret string, body []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.ns[nsID]
	if !ok {
		return "", fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	fromID, err := resolveIdentity(n, nsID, secret)
	if err != nil {
		return "", err
	}
	r, ok := n.rooms[roomID]
	if !ok {
		return "", fmt.Errorf("localbus: unknown room %s", roomID)
	}
	mid := idgen.Generate()
	r.messages = append(r.messages, bus.Envelope{
		MID: mid, FromID: fromID, ContentType: contentType, Body: body, CreatedAt: time.Now().UTC(),
	})
	b.notify()
	return mid, nil
}

// resolveIdentity looks up the public identity ID owning secret within
// n, so a sender's secret never leaks into an Envelope.FromID (§4.2).
func resolveIdentity(n *namespace, nsID, secret string) (string, error) {
	for id, ident := range n.identities {
		if ident.Secret == secret {
			return id, nil
		}
	}
	return "", &coorderrs.AuthError{NsID: nsID}
}

func (b *Bus) GetInbox(ctx context.Context, nsID, identityID, secret, afterMID string) ([]bus.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.ns[nsID]
	if !ok {
		return nil, fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	return sinceMID(n.inboxes[identityID], afterMID), nil
}

func (b *Bus) GetRoomMessages(ctx context.Context, nsID, roomID, secret, afterMID string) ([]bus.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.ns[nsID]
	if !ok {
		return nil, fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	r, ok := n.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("localbus: unknown room %s", roomID)
	}
	return sinceMID(r.messages, afterMID), nil
}

func (b *Bus) Subscribe(ctx context.Context, nsID, secret string, topics map[string]string, timeout time.Duration) (bus.SubscribeResult, error) {
	b.mu.Lock()
	wake := b.wake
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return bus.SubscribeResult{}, ctx.Err()
	case <-wake:
		return bus.SubscribeResult{Timeout: false}, nil
	case <-time.After(timeout):
		return bus.SubscribeResult{Timeout: true}, nil
	}
}

func (b *Bus) namespace(nsID, nsSecret string) (*namespace, error) {
	n, ok := b.ns[nsID]
	if !ok {
		return nil, fmt.Errorf("localbus: unknown namespace %s", nsID)
	}
	if n.secret != nsSecret {
		return nil, fmt.Errorf("localbus: bad namespace secret")
	}
	return n, nil
}

func sinceMID(envs []bus.Envelope, afterMID string) []bus.Envelope {
	if afterMID == "" {
		out := make([]bus.Envelope, len(envs))
		copy(out, envs)
		return out
	}
	for i, e := range envs {
		if e.MID == afterMID {
			out := make([]bus.Envelope, len(envs)-i-1)
			copy(out, envs[i+1:])
			return out
		}
	}
	out := make([]bus.Envelope, len(envs))
	copy(out, envs)
	return out
}
