package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/events/bus"
	"github.com/relaydesk/relaydesk/pkg/protocol"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(logger.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func registerClient(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	c := NewClient(id, nil, h, nil, logger.Default())
	h.Register(c)
	require.Eventually(t, func() bool {
		return h.ClientCount() > 0
	}, time.Second, 5*time.Millisecond)
	return c
}

// readFrame pops one queued frame off the client's send buffer.
func readFrame(t *testing.T, c *Client) *protocol.Frame {
	t.Helper()
	select {
	case data := <-c.send:
		var frame protocol.Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		return &frame
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame queued: %s", data)
	default:
	}
}

func TestBroadcastToSessionReachesRoomOnly(t *testing.T) {
	h := startHub(t)
	visitor := registerClient(t, h, "c-visitor")
	agent := registerClient(t, h, "c-agent")
	outsider := registerClient(t, h, "c-outside")

	h.JoinSession(visitor, "s-1")
	h.JoinSession(agent, "s-1")
	h.JoinSession(outsider, "s-2")

	assert.True(t, h.InSession(visitor, "s-1"))
	assert.False(t, h.InSession(outsider, "s-1"))

	h.BroadcastToSession("s-1", protocol.MustFrame(protocol.EventBotMessage, protocol.BotMessageData{Text: "hi"}))

	assert.Equal(t, protocol.EventBotMessage, readFrame(t, visitor).Event)
	assert.Equal(t, protocol.EventBotMessage, readFrame(t, agent).Event)
	assertNoFrame(t, outsider)
}

func TestAdminFeedSnapshotAndBroadcast(t *testing.T) {
	h := startHub(t)
	admin := registerClient(t, h, "c-admin")
	visitor := registerClient(t, h, "c-visitor")

	h.TrackVisitor(visitor, protocol.LiveVisitor{Page: "/pricing"})

	// Joining the feed immediately delivers the current visitor snapshot.
	h.JoinAdminFeed(admin)
	frame := readFrame(t, admin)
	require.Equal(t, protocol.EventLiveVisitors, frame.Event)

	var snapshot []protocol.LiveVisitor
	require.NoError(t, frame.ParseData(&snapshot))
	require.Len(t, snapshot, 1)
	assert.Equal(t, "/pricing", snapshot[0].Page)

	h.BroadcastToAdmins(protocol.MustFrame(protocol.EventNewNotification, nil))
	assert.Equal(t, protocol.EventNewNotification, readFrame(t, admin).Event)
	assertNoFrame(t, visitor)
}

func TestVisitorLeaveUpdatesAdminFeed(t *testing.T) {
	h := startHub(t)
	admin := registerClient(t, h, "c-admin")
	visitor := registerClient(t, h, "c-visitor")

	h.JoinAdminFeed(admin)
	readFrame(t, admin) // initial empty snapshot

	h.TrackVisitor(visitor, protocol.LiveVisitor{Page: "/docs"})
	readFrame(t, admin) // update with one visitor

	h.Unregister(visitor)

	frame := readFrame(t, admin)
	require.Equal(t, protocol.EventLiveVisitors, frame.Event)
	var snapshot []protocol.LiveVisitor
	require.NoError(t, frame.ParseData(&snapshot))
	assert.Empty(t, snapshot)
}

func TestUnregisterCleansRooms(t *testing.T) {
	h := startHub(t)
	visitor := registerClient(t, h, "c-visitor")
	h.JoinSession(visitor, "s-1")

	h.Unregister(visitor)
	require.Eventually(t, func() bool {
		return h.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)

	// Broadcasting into the emptied room is a no-op, not a panic.
	h.BroadcastToSession("s-1", protocol.MustFrame(protocol.EventBotMessage, nil))
}

func TestAttachBusRelaysNotifications(t *testing.T) {
	h := startHub(t)
	admin := registerClient(t, h, "c-admin")
	h.JoinAdminFeed(admin)
	readFrame(t, admin) // initial snapshot

	b := bus.NewMemoryEventBus(logger.Default())
	sub, err := h.AttachBus(b)
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	evt := bus.NewEvent(events.TypeNeedsHelp, "routing-engine", map[string]interface{}{
		"sessionId": "s-1",
		"content":   "visitor asked for a human agent",
	})
	require.NoError(t, b.Publish(context.Background(), events.SubjectNeedsHelp, evt))

	frame := readFrame(t, admin)
	require.Equal(t, protocol.EventNewNotification, frame.Event)

	var notif protocol.NotificationData
	require.NoError(t, frame.ParseData(&notif))
	assert.Equal(t, events.TypeNeedsHelp, notif.Type)
	assert.Equal(t, "s-1", notif.SessionID)
	assert.Equal(t, "visitor asked for a human agent", notif.Content)
}
