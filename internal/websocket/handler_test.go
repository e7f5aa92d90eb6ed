package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"directchat/internal/database"
	"directchat/internal/hub"
	"directchat/internal/router"
	"directchat/internal/session"
	dbconfig "directchat/pkg/database"
	"directchat/pkg/types"
)

var testLogger = slog.New(slog.DiscardHandler)

type stack struct {
	server   *httptest.Server
	registry *Registry
	router   *router.Router
	hub      *hub.Hub
}

func newStack(t *testing.T) *stack {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.Driver = dbconfig.DriverBadger
	config.Path = database.InMemoryPath
	store, err := database.NewBadgerStore(config, testLogger)
	require.NoError(t, err)

	r := router.NewRouter(0, testLogger)
	manager := session.NewManager(store, r, 1000, testLogger)
	h := hub.NewHub(manager, 16, testLogger)
	require.NoError(t, h.Start(context.Background()))

	registry := NewRegistry()
	handler := NewHandler(registry, manager, h, DefaultOptions(), testLogger)
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))

	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
		_ = h.Stop()
		_ = store.Close()
	})

	return &stack{server: server, registry: registry, router: r, hub: h}
}

func (s *stack) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL(user), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *stack) wsURL(user string) string {
	u := "ws" + strings.TrimPrefix(s.server.URL, "http")
	if user != "" {
		u += "?" + url.Values{"user": {user}}.Encode()
	}
	return u
}

func send(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(types.InboundEnvelope{Event: event, Data: data}))
}

func read(t *testing.T, conn *websocket.Conn) types.InboundEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var envelope types.InboundEnvelope
	require.NoError(t, conn.ReadJSON(&envelope))
	return envelope
}

func TestHandler_RejectsInvalidUser(t *testing.T) {
	st := newStack(t)

	_, resp, err := websocket.DefaultDialer.Dial(st.wsURL("a|b"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
	require.Equal(t, 0, st.registry.Count())
}

func TestHandler_JoinThenSendReachesBothParticipants(t *testing.T) {
	st := newStack(t)
	alice := st.dial(t, "alice")
	bob := st.dial(t, "")

	send(t, alice, types.EventJoinChat, types.JoinChatRequest{Sender: "alice", Receiver: "bob", ReceiverName: "Bob"})
	require.Equal(t, types.EventChatHistory, read(t, alice).Event)

	send(t, bob, types.EventJoinChat, types.JoinChatRequest{Sender: "bob", Receiver: "alice", ReceiverName: "Alice"})
	require.Equal(t, types.EventChatHistory, read(t, bob).Event)

	send(t, alice, types.EventSendMessage, types.SendMessageRequest{Sender: "alice", Receiver: "bob", ReceiverName: "Bob", Message: "hi"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		envelope := read(t, conn)
		require.Equal(t, types.EventReceiveMessage, envelope.Event)

		var received types.ReceivedMessage
		require.NoError(t, json.Unmarshal(envelope.Data, &received))
		require.Equal(t, types.ReceivedMessage{Sender: "alice", Message: "hi"}, received)
	}

	send(t, bob, types.EventLoadMessages, types.LoadMessagesRequest{Sender: "bob", Receiver: "alice"})
	envelope := read(t, bob)
	require.Equal(t, types.EventChatHistory, envelope.Event)

	var history []types.Message
	require.NoError(t, json.Unmarshal(envelope.Data, &history))
	require.Len(t, history, 1)
	require.Equal(t, "hi", history[0].Body)
	require.NotEmpty(t, history[0].ID)
	require.False(t, history[0].CreatedAt.IsZero())
}

func TestHandler_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	st := newStack(t)
	conn := st.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	envelope := read(t, conn)
	require.Equal(t, types.EventError, envelope.Event)

	var errEvent types.ErrorEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &errEvent))
	require.Equal(t, types.CodeBadRequest, errEvent.Code)

	send(t, conn, types.EventJoinChat, types.JoinChatRequest{Sender: "alice", Receiver: "bob"})
	require.Equal(t, types.EventChatHistory, read(t, conn).Event)
}

func TestHandler_ValidationErrorIsPrivate(t *testing.T) {
	st := newStack(t)
	alice := st.dial(t, "alice")

	send(t, alice, types.EventSendMessage, types.SendMessageRequest{Sender: "alice", Receiver: "bob", Message: ""})
	envelope := read(t, alice)
	require.Equal(t, types.EventError, envelope.Event)

	var errEvent types.ErrorEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &errEvent))
	require.Equal(t, types.CodeValidation, errEvent.Code)
	require.Equal(t, types.EventSendMessage, errEvent.Event)
}

func TestHandler_DisconnectReleasesEverything(t *testing.T) {
	st := newStack(t)
	conn := st.dial(t, "alice")

	send(t, conn, types.EventJoinChat, types.JoinChatRequest{Sender: "alice", Receiver: "bob"})
	require.Equal(t, types.EventChatHistory, read(t, conn).Event)
	require.Equal(t, 1, st.registry.Count())
	require.Equal(t, router.Stats{Channels: 1, Subscribers: 1}, st.router.Stats())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return st.registry.Count() == 0 && st.hub.Sessions() == 0 && st.router.Stats() == router.Stats{}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_CloseAllDisconnectsClients(t *testing.T) {
	st := newStack(t)
	conn := st.dial(t, "")

	require.Eventually(t, func() bool { return st.registry.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, st.registry.CloseAll())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return st.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
