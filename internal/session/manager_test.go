package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"directchat/internal/router"
	"directchat/pkg/types"
)

var testLogger = slog.New(slog.DiscardHandler)

// fakeConn records every envelope written to it
type fakeConn struct {
	mu        sync.Mutex
	envelopes []types.Envelope
	closed    bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	c.envelopes = append(c.envelopes, v.(types.Envelope))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:0" }

func (c *fakeConn) events(name string) []types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Envelope
	for _, e := range c.envelopes {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// memoryStore is an in-memory MessageStore with switchable failures
type memoryStore struct {
	mu          sync.Mutex
	messages    []*types.Message
	failAppend  bool
	failHistory bool
}

func (s *memoryStore) Append(ctx context.Context, sender, receiver, receiverName, body string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return nil, fmt.Errorf("%w: disk full", types.ErrPersistenceUnavailable)
	}
	msg := &types.Message{
		ID:           fmt.Sprintf("m%d", len(s.messages)+1),
		Sender:       sender,
		Receiver:     receiver,
		ReceiverName: receiverName,
		Body:         body,
		CreatedAt:    time.Now().UTC(),
		Seq:          int64(len(s.messages) + 1),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memoryStore) History(ctx context.Context, a, b string) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHistory {
		return nil, fmt.Errorf("%w: locked", types.ErrPersistenceUnavailable)
	}
	out := make([]*types.Message, 0)
	for _, m := range s.messages {
		if (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) ScanInvolving(ctx context.Context, user string) ([]*types.Message, error) {
	return nil, nil
}

func (s *memoryStore) HealthCheck(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error                          { return nil }

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type fixture struct {
	store   *memoryStore
	router  *router.Router
	manager *Manager
}

func newFixture(ratePerMinute int) *fixture {
	store := &memoryStore{}
	r := router.NewRouter(ratePerMinute, testLogger)
	return &fixture{
		store:   store,
		router:  r,
		manager: NewManager(store, r, 1000, testLogger),
	}
}

func (f *fixture) connect(t *testing.T, participant string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := f.manager.OnConnect(conn, participant)
	require.NoError(t, err)
	return s, conn
}

func (f *fixture) join(t *testing.T, s *Session, sender, receiver string) {
	t.Helper()
	require.NoError(t, f.manager.OnJoinChat(context.Background(), s, types.JoinChatRequest{Sender: sender, Receiver: receiver}))
}

func dispatch(t *testing.T, m *Manager, s *Session, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	m.Dispatch(context.Background(), s, types.InboundEnvelope{Event: event, Data: data})
}

func lastError(t *testing.T, conn *fakeConn) types.ErrorEvent {
	t.Helper()
	errs := conn.events(types.EventError)
	require.NotEmpty(t, errs)
	return errs[len(errs)-1].Data.(types.ErrorEvent)
}

func TestOnConnect_States(t *testing.T) {
	f := newFixture(100)

	anonymous, _ := f.connect(t, "")
	require.Equal(t, StateConnected, anonymous.State())
	require.Empty(t, anonymous.Participant())

	identified, _ := f.connect(t, "alice")
	require.Equal(t, StateIdentified, identified.State())
	require.Equal(t, "alice", identified.Participant())
	require.NotEqual(t, anonymous.ID(), identified.ID())

	_, err := f.manager.OnConnect(&fakeConn{}, "not valid!")
	require.ErrorIs(t, err, types.ErrInvalidParticipant)
}

func TestOnJoinChat_SubscribesAndPushesHistoryToRequesterOnly(t *testing.T) {
	f := newFixture(100)
	_, err := f.store.Append(context.Background(), "bob", "alice", "Alice", "earlier")
	require.NoError(t, err)

	alice, aliceConn := f.connect(t, "")
	bob, bobConn := f.connect(t, "bob")
	f.join(t, bob, "bob", "alice")
	bobHistoryBefore := len(bobConn.events(types.EventChatHistory))

	f.join(t, alice, "alice", "bob")

	require.Equal(t, StateInChannel, alice.State())
	require.Equal(t, "alice", alice.Participant())
	require.Equal(t, "alice|bob", alice.ChannelID())

	history := aliceConn.events(types.EventChatHistory)
	require.Len(t, history, 1)
	messages := history[0].Data.([]*types.Message)
	require.Len(t, messages, 1)
	require.Equal(t, "earlier", messages[0].Body)

	require.Len(t, bobConn.events(types.EventChatHistory), bobHistoryBefore)
	require.ElementsMatch(t, []string{alice.ID(), bob.ID()}, f.router.Members("alice|bob"))
}

func TestOnJoinChat_NewJoinReplacesChannel(t *testing.T) {
	f := newFixture(100)
	alice, _ := f.connect(t, "alice")

	f.join(t, alice, "alice", "bob")
	f.join(t, alice, "alice", "carol")

	require.Equal(t, "alice|carol", alice.ChannelID())
	require.Empty(t, f.router.Members("alice|bob"))
	require.Equal(t, router.Stats{Channels: 1, Subscribers: 1}, f.router.Stats())
}

func TestOnJoinChat_RejectsIdentityMismatch(t *testing.T) {
	f := newFixture(100)
	alice, _ := f.connect(t, "alice")

	err := f.manager.OnJoinChat(context.Background(), alice, types.JoinChatRequest{Sender: "mallory", Receiver: "bob"})
	require.ErrorIs(t, err, types.ErrIdentityMismatch)
	require.Equal(t, StateIdentified, alice.State())
	require.Equal(t, router.Stats{}, f.router.Stats())
}

func TestOnJoinChat_Validation(t *testing.T) {
	f := newFixture(100)
	s, _ := f.connect(t, "")

	err := f.manager.OnJoinChat(context.Background(), s, types.JoinChatRequest{Sender: "alice"})
	require.ErrorIs(t, err, types.ErrMissingParticipant)

	err = f.manager.OnJoinChat(context.Background(), s, types.JoinChatRequest{Sender: "alice", Receiver: "alice"})
	require.ErrorIs(t, err, types.ErrSelfAddressed)

	require.Equal(t, StateConnected, s.State())
}

func TestOnSendMessage_BroadcastsToChannelMembers(t *testing.T) {
	f := newFixture(100)
	alice, aliceConn := f.connect(t, "")
	bob, bobConn := f.connect(t, "")
	carol, carolConn := f.connect(t, "")

	f.join(t, alice, "alice", "bob")
	f.join(t, bob, "bob", "alice")
	f.join(t, carol, "carol", "alice")

	msg, err := f.manager.OnSendMessage(context.Background(), alice, types.SendMessageRequest{
		Sender: "alice", Receiver: "bob", ReceiverName: "Bob", Message: "hi",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.False(t, msg.CreatedAt.IsZero())

	want := types.ReceivedMessage{Sender: "alice", Message: "hi"}
	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		received := conn.events(types.EventReceiveMessage)
		require.Len(t, received, 1)
		require.Equal(t, want, received[0].Data)
	}
	require.Empty(t, carolConn.events(types.EventReceiveMessage))
}

func TestOnSendMessage_ValidationFailureIsPrivate(t *testing.T) {
	f := newFixture(100)
	alice, aliceConn := f.connect(t, "")
	bob, bobConn := f.connect(t, "")
	f.join(t, alice, "alice", "bob")
	f.join(t, bob, "bob", "alice")

	dispatch(t, f.manager, alice, types.EventSendMessage, types.SendMessageRequest{Sender: "alice", Receiver: "bob", Message: "   "})

	errEvent := lastError(t, aliceConn)
	require.Equal(t, types.EventSendMessage, errEvent.Event)
	require.Equal(t, types.CodeValidation, errEvent.Code)

	require.Empty(t, bobConn.events(types.EventReceiveMessage))
	require.Empty(t, bobConn.events(types.EventError))
	require.Equal(t, 0, f.store.count())
	require.Equal(t, StateInChannel, alice.State())
}

func TestOnSendMessage_PersistenceFailureIsReportedAndNothingPublished(t *testing.T) {
	f := newFixture(100)
	alice, aliceConn := f.connect(t, "")
	bob, bobConn := f.connect(t, "")
	f.join(t, alice, "alice", "bob")
	f.join(t, bob, "bob", "alice")
	f.store.failAppend = true

	dispatch(t, f.manager, alice, types.EventSendMessage, types.SendMessageRequest{Sender: "alice", Receiver: "bob", Message: "hi"})

	errEvent := lastError(t, aliceConn)
	require.Equal(t, types.CodePersistenceUnavailable, errEvent.Code)
	require.NotContains(t, errEvent.Message, "disk full")
	require.Empty(t, bobConn.events(types.EventReceiveMessage))
	require.Empty(t, aliceConn.events(types.EventReceiveMessage))
	require.Equal(t, StateInChannel, alice.State())
}

func TestOnSendMessage_RequiresMatchingIdentity(t *testing.T) {
	f := newFixture(100)
	anonymous, _ := f.connect(t, "")

	_, err := f.manager.OnSendMessage(context.Background(), anonymous, types.SendMessageRequest{Sender: "alice", Receiver: "bob", Message: "hi"})
	require.ErrorIs(t, err, types.ErrNotIdentified)

	alice, _ := f.connect(t, "alice")
	_, err = f.manager.OnSendMessage(context.Background(), alice, types.SendMessageRequest{Sender: "bob", Receiver: "carol", Message: "spoof"})
	require.ErrorIs(t, err, types.ErrIdentityMismatch)
	require.Equal(t, 0, f.store.count())
}

func TestOnSendMessage_BodyTooLong(t *testing.T) {
	f := newFixture(100)
	f.manager = NewManager(f.store, f.router, 5, testLogger)
	alice, _ := f.connect(t, "alice")

	_, err := f.manager.OnSendMessage(context.Background(), alice, types.SendMessageRequest{Sender: "alice", Receiver: "bob", Message: "toolong"})
	require.ErrorIs(t, err, types.ErrBodyTooLong)
}

func TestOnSendMessage_RateLimited(t *testing.T) {
	f := newFixture(2)
	alice, aliceConn := f.connect(t, "alice")

	for i := 0; i < 3; i++ {
		dispatch(t, f.manager, alice, types.EventSendMessage, types.SendMessageRequest{Sender: "alice", Receiver: "bob", Message: "hi"})
	}

	require.Equal(t, 2, f.store.count())
	require.Equal(t, types.CodeRateLimited, lastError(t, aliceConn).Code)
}

func TestOnSendMessage_BroadcastOrderMatchesPersistenceOrder(t *testing.T) {
	f := newFixture(0)
	alice, _ := f.connect(t, "alice")
	bob, bobConn := f.connect(t, "bob")
	f.join(t, alice, "alice", "bob")
	f.join(t, bob, "bob", "alice")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.OnSendMessage(context.Background(), alice, types.SendMessageRequest{Sender: "alice", Receiver: "bob", Message: fmt.Sprintf("a%d", i)})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.OnSendMessage(context.Background(), bob, types.SendMessageRequest{Sender: "bob", Receiver: "alice", Message: fmt.Sprintf("b%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := f.store.History(context.Background(), "alice", "bob")
	require.NoError(t, err)

	received := bobConn.events(types.EventReceiveMessage)
	require.Len(t, received, len(history))
	for i, env := range received {
		require.Equal(t, history[i].Body, env.Data.(types.ReceivedMessage).Message)
	}
}

func TestOnLoadMessages_IndependentOfSubscription(t *testing.T) {
	f := newFixture(100)
	_, err := f.store.Append(context.Background(), "alice", "bob", "Bob", "one")
	require.NoError(t, err)
	_, err = f.store.Append(context.Background(), "bob", "alice", "Alice", "two")
	require.NoError(t, err)

	s, conn := f.connect(t, "")
	require.NoError(t, f.manager.OnLoadMessages(context.Background(), s, types.LoadMessagesRequest{Sender: "bob", Receiver: "alice"}))

	history := conn.events(types.EventChatHistory)
	require.Len(t, history, 1)
	messages := history[0].Data.([]*types.Message)
	require.Equal(t, []string{"one", "two"}, []string{messages[0].Body, messages[1].Body})
	require.Equal(t, StateConnected, s.State())

	f.store.failHistory = true
	dispatch(t, f.manager, s, types.EventLoadMessages, types.LoadMessagesRequest{Sender: "bob", Receiver: "alice"})
	require.Equal(t, types.CodePersistenceUnavailable, lastError(t, conn).Code)
}

func TestOnDisconnect_ReleasesMembershipAndRefusesJoins(t *testing.T) {
	f := newFixture(100)
	alice, _ := f.connect(t, "alice")
	f.join(t, alice, "alice", "bob")

	f.manager.OnDisconnect(alice)
	f.manager.OnDisconnect(alice)

	require.Equal(t, StateDisconnected, alice.State())
	require.Equal(t, router.Stats{}, f.router.Stats())
	require.Error(t, alice.Context().Err())

	err := f.manager.OnJoinChat(context.Background(), alice, types.JoinChatRequest{Sender: "alice", Receiver: "bob"})
	require.ErrorIs(t, err, ErrSessionClosed)
	require.Equal(t, router.Stats{}, f.router.Stats())
}

func TestDispatch_BadRequests(t *testing.T) {
	f := newFixture(100)
	s, conn := f.connect(t, "")

	f.manager.Dispatch(context.Background(), s, types.InboundEnvelope{Event: "typing"})
	require.Equal(t, types.CodeBadRequest, lastError(t, conn).Code)

	f.manager.Dispatch(context.Background(), s, types.InboundEnvelope{Event: types.EventJoinChat, Data: json.RawMessage(`"nope"`)})
	errEvent := lastError(t, conn)
	require.Equal(t, types.CodeValidation, errEvent.Code)
	require.Equal(t, types.EventJoinChat, errEvent.Event)

	f.manager.Dispatch(context.Background(), s, types.InboundEnvelope{Event: types.EventLoadMessages})
	require.Equal(t, types.CodeValidation, lastError(t, conn).Code)
}

func TestErrorCode(t *testing.T) {
	require.Equal(t, types.CodeRateLimited, ErrorCode(router.ErrRateLimitExceeded))
	require.Equal(t, types.CodeBadRequest, ErrorCode(ErrUnknownEvent))
	require.Equal(t, types.CodeValidation, ErrorCode(types.ErrEmptyBody))
	require.Equal(t, types.CodePersistenceUnavailable, ErrorCode(fmt.Errorf("wrapped: %w", types.ErrPersistenceUnavailable)))
	require.Equal(t, types.CodeInternal, ErrorCode(fmt.Errorf("boom")))
}
