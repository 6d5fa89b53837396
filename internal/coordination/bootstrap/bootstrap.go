// Package bootstrap implements worker bootstrap (§4.5): parsing an
// invite URL of one of three schemes, claiming an identity, and
// constructing a ready-to-use coordination context.
package bootstrap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/leapmux/leapmux/internal/coordination/bus"
	"github.com/leapmux/leapmux/internal/coordination/bus/httpbus"
	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
	"github.com/leapmux/leapmux/internal/coordination/transport"
)

// Result is the outcome of a successful bootstrap (§4.5).
type Result struct {
	Context       *transport.Context
	AgentID       string
	DisplayName   string
	NsID          string
	RoomID        string
	CoordinatorID string
}

// LocalBusOpener resolves a "local://<path>/..." invite's backing path
// to an already-open bus.Bus. Callers that embed a worker and
// coordinator in a single process supply this; a standalone worker
// process has no way to open another process's in-memory bus and
// should treat that case as UnsupportedLocalInvite.
type LocalBusOpener func(path string) (bus.Bus, error)

// Claim resolves inviteURL to a bus, a claimed identity, and resolved
// room/coordinator ids, dispatching on URL scheme per §4.5:
//   - http(s)://   remote bus, serverURLOverride may replace the host
//   - local://     file-backed local bus, opened via openLocal
//   - data:...     self-contained invite, no bus call needed
func Claim(ctx context.Context, inviteURL, serverURLOverride string, openLocal LocalBusOpener) (bus.Bus, bus.ClaimResult, error) {
	switch {
	case strings.HasPrefix(inviteURL, "http://") || strings.HasPrefix(inviteURL, "https://"):
		return claimRemote(ctx, inviteURL, serverURLOverride)
	case strings.HasPrefix(inviteURL, "local://"):
		return claimLocal(ctx, inviteURL, openLocal)
	case strings.HasPrefix(inviteURL, "data:"):
		return claimData(inviteURL)
	default:
		u, err := url.Parse(inviteURL)
		scheme := ""
		if err == nil {
			scheme = u.Scheme
		}
		return nil, bus.ClaimResult{}, &coorderrs.UnsupportedInvite{Scheme: scheme}
	}
}

func claimRemote(ctx context.Context, inviteURL, serverURLOverride string) (bus.Bus, bus.ClaimResult, error) {
	base := serverURLOverride
	if base == "" {
		u, err := url.Parse(inviteURL)
		if err != nil {
			return nil, bus.ClaimResult{}, &coorderrs.UnsupportedInvite{Scheme: "https"}
		}
		base = u.Scheme + "://" + u.Host
	}
	b := httpbus.New(base, nil)
	claim, err := b.ClaimInvite(ctx, inviteURL)
	if err != nil {
		return nil, bus.ClaimResult{}, err
	}
	return b, claim, nil
}

func claimLocal(ctx context.Context, inviteURL string, openLocal LocalBusOpener) (bus.Bus, bus.ClaimResult, error) {
	path, err := localBackingPath(inviteURL)
	if err != nil {
		return nil, bus.ClaimResult{}, err
	}
	if openLocal == nil {
		return nil, bus.ClaimResult{}, &coorderrs.UnsupportedLocalInvite{URL: inviteURL}
	}
	b, err := openLocal(path)
	if err != nil {
		return nil, bus.ClaimResult{}, &coorderrs.UnsupportedLocalInvite{URL: inviteURL}
	}
	claim, err := b.ClaimInvite(ctx, inviteURL)
	if err != nil {
		return nil, bus.ClaimResult{}, err
	}
	return b, claim, nil
}

// localBackingPath extracts <path> from "local://<path>/...". Paths
// that cannot be extracted, and the literal ":memory:" path (no
// meaningful backing store to share across processes), fail with
// UnsupportedLocalInvite.
func localBackingPath(inviteURL string) (string, error) {
	const prefix = "local://"
	rest := strings.TrimPrefix(inviteURL, prefix)
	if rest == "" {
		return "", &coorderrs.UnsupportedLocalInvite{URL: inviteURL}
	}
	idx := strings.Index(rest, "/")
	var path string
	if idx < 0 {
		path = rest
	} else {
		path = rest[:idx]
	}
	if path == "" || path == ":memory:" {
		return "", &coorderrs.UnsupportedLocalInvite{URL: inviteURL}
	}
	return path, nil
}

type dataInvitePayload struct {
	NsID           string `json:"ns_id"`
	NsSecret       string `json:"ns_secret"`
	IdentityID     string `json:"identity_id"`
	IdentitySecret string `json:"identity_secret"`
	RoomID         string `json:"room_id"`
	CoordinatorID  string `json:"coordinator_id"`
	DisplayName    string `json:"display_name"`
}

// claimData decodes a self-contained "data:application/json;base64,..."
// invite. No bus call is needed to claim it.
func claimData(inviteURL string) (bus.Bus, bus.ClaimResult, error) {
	const prefix = "data:application/json;base64,"
	if !strings.HasPrefix(inviteURL, prefix) {
		return nil, bus.ClaimResult{}, &coorderrs.UnsupportedInvite{Scheme: "data"}
	}
	payload := strings.TrimPrefix(inviteURL, prefix)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, bus.ClaimResult{}, fmt.Errorf("decode data: invite: %w", err)
	}
	var p dataInvitePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bus.ClaimResult{}, fmt.Errorf("parse data: invite: %w", err)
	}
	return nil, bus.ClaimResult{
		IdentityID:     p.IdentityID,
		IdentitySecret: p.IdentitySecret,
		NsID:           p.NsID,
		NsSecret:       p.NsSecret,
		RoomID:         p.RoomID,
		CoordinatorID:  p.CoordinatorID,
		Display:        p.DisplayName,
	}, nil
}

// Bootstrap claims inviteURL and constructs a ready coordination
// context. agentID defaults to "worker-<first8-of-identity-id>" when
// empty, per §4.5.
func Bootstrap(ctx context.Context, inviteURL, serverURLOverride, agentID string, openLocal LocalBusOpener) (*Result, error) {
	b, claim, err := Claim(ctx, inviteURL, serverURLOverride, openLocal)
	if err != nil {
		return nil, err
	}
	if b == nil {
		// data: invites are self-contained and carry no bus call; the
		// caller is expected to supply one (e.g. openLocal("") resolving
		// to a shared in-process bus) if it wants to actually transport
		// messages, but claiming itself never requires one.
		if openLocal != nil {
			if opened, oerr := openLocal(""); oerr == nil {
				b = opened
			}
		}
	}

	tc := transport.New(b, claim.NsID, claim.IdentityID, claim.IdentitySecret)
	tc.RoomID = claim.RoomID
	tc.CoordinatorID = claim.CoordinatorID

	if agentID == "" {
		agentID = defaultAgentID(claim.IdentityID)
	}

	return &Result{
		Context:       tc,
		AgentID:       agentID,
		DisplayName:   claim.Display,
		NsID:          claim.NsID,
		RoomID:        claim.RoomID,
		CoordinatorID: claim.CoordinatorID,
	}, nil
}

func defaultAgentID(identityID string) string {
	n := 8
	if len(identityID) < n {
		n = len(identityID)
	}
	return "worker-" + identityID[:n]
}
