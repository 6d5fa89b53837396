package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/leapmux/internal/coordination/bus/localbus"
	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
	"github.com/leapmux/leapmux/internal/coordination/protocol"
	"github.com/leapmux/leapmux/internal/coordination/transport"
	"github.com/leapmux/leapmux/internal/util/testutil"
)

func TestSend_DeliversToRecipientInbox(t *testing.T) {
	b := localbus.New()
	ctx := context.Background()
	ns, err := b.CreateNamespace(ctx, "test-ns")
	require.NoError(t, err)
	sender, err := b.CreateIdentity(ctx, ns.NsID, "sender", ns.NsSecret)
	require.NoError(t, err)
	recipient, err := b.CreateIdentity(ctx, ns.NsID, "recipient", ns.NsSecret)
	require.NoError(t, err)

	from := transport.New(b, ns.NsID, sender.ID, sender.Secret)
	to := transport.New(b, ns.NsID, recipient.ID, recipient.Secret)

	require.NoError(t, from.Send(ctx, recipient.ID, &protocol.TaskAssign{TaskID: "t1", Description: "do thing"}, false))

	received, err := to.Poll(ctx, false)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assign, ok := received[0].Message.(*protocol.TaskAssign)
	require.True(t, ok)
	assert.Equal(t, "t1", assign.TaskID)
}

func TestBroadcast_WithoutRoomFailsWithNoRoom(t *testing.T) {
	b := localbus.New()
	ctx := context.Background()
	ns, err := b.CreateNamespace(ctx, "test-ns")
	require.NoError(t, err)
	sender, err := b.CreateIdentity(ctx, ns.NsID, "sender", ns.NsSecret)
	require.NoError(t, err)

	c := transport.New(b, ns.NsID, sender.ID, sender.Secret)
	err = c.Broadcast(ctx, &protocol.Progress{TaskID: "t1", Message: "working"}, false)
	var noRoom *coorderrs.NoRoom
	assert.ErrorAs(t, err, &noRoom)
}

// TestWaitForMessages_PollModeWakesOnDelivery exercises the poll-mode
// branch of WaitForMessages (localbus never supports push) by sending
// from a second goroutine and asserting the waiter observes it well
// inside the configured timeout.
func TestWaitForMessages_PollModeWakesOnDelivery(t *testing.T) {
	b := localbus.New()
	ctx := context.Background()
	ns, err := b.CreateNamespace(ctx, "test-ns")
	require.NoError(t, err)
	sender, err := b.CreateIdentity(ctx, ns.NsID, "sender", ns.NsSecret)
	require.NoError(t, err)
	recipient, err := b.CreateIdentity(ctx, ns.NsID, "recipient", ns.NsSecret)
	require.NoError(t, err)

	from := transport.New(b, ns.NsID, sender.ID, sender.Secret)
	to := transport.New(b, ns.NsID, recipient.ID, recipient.Secret)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = from.Send(ctx, recipient.ID, &protocol.TaskAssign{TaskID: "t2"}, false)
	}()

	var delivered []transport.ReceivedMessage
	testutil.RequireEventually(t, func() bool {
		msgs, err := to.WaitForMessages(ctx, 50*time.Millisecond, false)
		if err != nil || len(msgs) == 0 {
			return false
		}
		delivered = msgs
		return true
	}, "expected the background send to be observed before the overall poll deadline")

	require.Len(t, delivered, 1)
	assign, ok := delivered[0].Message.(*protocol.TaskAssign)
	require.True(t, ok)
	assert.Equal(t, "t2", assign.TaskID)
}
