package localbus

import (
	"fmt"
	"strings"
)

// parseLocalInvite extracts the namespace id and invite token from a
// "local://<ns_id>/join/<token>" URL produced by CreateInvite. Real
// local:// invites (per §4.5) carry a filesystem backing path instead of
// a namespace id; this in-process bus has no backing file, so it uses
// the namespace id as the path segment directly.
func parseLocalInvite(inviteURL string) (nsID, token string, err error) {
	const prefix = "local://"
	if !strings.HasPrefix(inviteURL, prefix) {
		return "", "", fmt.Errorf("localbus: not a local:// invite: %s", inviteURL)
	}
	rest := strings.TrimPrefix(inviteURL, prefix)
	parts := strings.SplitN(rest, "/join/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("localbus: malformed local:// invite: %s", inviteURL)
	}
	token = parts[1]
	if i := strings.IndexAny(token, "?#"); i >= 0 {
		token = token[:i]
	}
	return parts[0], token, nil
}
