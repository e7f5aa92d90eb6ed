package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"directchat/internal/app"
	"directchat/internal/config"
	"directchat/pkg/types"
)

var testLogger = slog.New(slog.DiscardHandler)

// testConfig binds an ephemeral loopback port and stores data under dir
func testConfig(driver, dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Driver = driver
	cfg.Database.Path = filepath.Join(dir, "chat-"+driver)
	cfg.Database.WriteRetries = 0
	return cfg
}

// startApp runs a full application until the test ends
func startApp(t *testing.T, cfg *config.Config) *app.Application {
	t.Helper()

	application, err := app.NewApplication(cfg, testLogger)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	// Stop is safe to repeat after stopApp
	t.Cleanup(func() { _ = application.Stop(context.Background()) })
	return application
}

func stopApp(t *testing.T, application *app.Application) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(ctx))
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func connect(t *testing.T, application *app.Application, user string) *client {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: application.GetAddr(), Path: "/ws"}
	if user != "" {
		u.RawQuery = url.Values{"user": {user}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	return &client{t: t, conn: conn}
}

func (c *client) send(event string, payload interface{}) {
	c.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(types.InboundEnvelope{Event: event, Data: data}))
}

// expect reads the next frame, requires its event name and decodes its data into out
func (c *client) expect(event string, out interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var envelope types.InboundEnvelope
	require.NoError(c.t, c.conn.ReadJSON(&envelope))
	require.Equal(c.t, event, envelope.Event, "payload: %s", envelope.Data)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(envelope.Data, out))
	}
}

func (c *client) join(sender, receiver, receiverName string) []types.Message {
	c.t.Helper()
	c.send(types.EventJoinChat, types.JoinChatRequest{Sender: sender, Receiver: receiver, ReceiverName: receiverName})

	var history []types.Message
	c.expect(types.EventChatHistory, &history)
	return history
}

func (c *client) sendMessage(sender, receiver, receiverName, body string) {
	c.t.Helper()
	c.send(types.EventSendMessage, types.SendMessageRequest{
		Sender:       sender,
		Receiver:     receiver,
		ReceiverName: receiverName,
		Message:      body,
	})
}

func getJSON(t *testing.T, application *app.Application, path string, out interface{}) int {
	t.Helper()

	resp, err := http.Get("http://" + application.GetAddr() + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
