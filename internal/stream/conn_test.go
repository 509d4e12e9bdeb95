package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmarchetti/go-chatsync/internal/config"
	"github.com/kmarchetti/go-chatsync/internal/testutil"
	"github.com/kmarchetti/go-chatsync/internal/types"
)

// fakeServer accepts stream connections and records every frame each
// client sends.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	frames chan Frame
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, frames: make(chan Frame, 64)}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, ws)
		fs.mu.Unlock()

		for {
			var frame Frame
			if err := ws.ReadJSON(&frame); err != nil {
				return
			}
			fs.frames <- frame
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *fakeServer) lastConn() *websocket.Conn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		return nil
	}
	return fs.conns[len(fs.conns)-1]
}

// push sends a frame from the server to the most recent client.
func (fs *fakeServer) push(event string, v any) {
	frame, err := newFrame(event, v)
	require.NoError(fs.t, err)
	ws := fs.lastConn()
	require.NotNil(fs.t, ws, "expected a connected client")
	require.NoError(fs.t, ws.WriteJSON(frame))
}

func (fs *fakeServer) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case frame := <-fs.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame from client")
		return Frame{}
	}
}

func testConfig(url string) *config.Config {
	return &config.Config{
		APIBaseURL:   "http://unused",
		SocketURL:    url,
		PageSize:     30,
		WriteWait:    time.Second,
		PongWait:     5 * time.Second,
		ReconnectMin: 20 * time.Millisecond,
		ReconnectMax: 100 * time.Millisecond,
	}
}

func testCreds() types.Credentials {
	return types.Credentials{Username: "alice", UserId: "10", Token: "tok"}
}

func waitEvent(t *testing.T, events <-chan Frame, name string) Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-events:
			if frame.Event == name {
				return frame
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q event", name)
		}
	}
}

func TestConnect(t *testing.T) {
	t.Run("sends auth payload and reports ready", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		conn.Connect(testCreds())

		auth := fs.nextFrame(t)
		assert.Equal(t, "auth", auth.Event, "expected auth handshake first")

		var payload authPayload
		require.NoError(t, json.Unmarshal(auth.Data, &payload))
		assert.Equal(t, "alice", payload.Username, "expected username in auth payload")
		assert.Equal(t, "tok", payload.Token, "expected token in auth payload")

		waitEvent(t, conn.Events(), EvReady)
		assert.Equal(t, StateReady, conn.State(), "expected ready state")
	})

	t.Run("idempotent for identical credentials", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		conn.Connect(testCreds())
		waitEvent(t, conn.Events(), EvReady)

		conn.Connect(testCreds())
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, fs.connCount(), "expected no second connection for same credentials")
	})

	t.Run("rotated credentials reconnect with new auth", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		conn.Connect(testCreds())
		fs.nextFrame(t) // first auth
		waitEvent(t, conn.Events(), EvReady)

		rotated := testCreds()
		rotated.Token = "tok2"
		conn.Connect(rotated)

		auth := fs.nextFrame(t)
		require.Equal(t, "auth", auth.Event, "expected fresh handshake")
		var payload authPayload
		require.NoError(t, json.Unmarshal(auth.Data, &payload))
		assert.Equal(t, "tok2", payload.Token, "expected rotated token")
	})

	t.Run("disconnect is safe when already disconnected", func(t *testing.T) {
		conn := New(testConfig("ws://localhost:1"), testutil.TestLogger(t))
		conn.Disconnect()
		conn.Disconnect()
		assert.Equal(t, StateDisconnected, conn.State(), "expected disconnected state")
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("join is sent once the connection is live", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		conn.Subscribe(KindRoom, "12")
		conn.Connect(testCreds())

		fs.nextFrame(t) // auth
		join := fs.nextFrame(t)
		assert.Equal(t, EvJoinRoom, join.Event, "expected join emitted on connect")

		var roomId string
		require.NoError(t, json.Unmarshal(join.Data, &roomId))
		assert.Equal(t, "12", roomId, "expected room id payload")
	})

	t.Run("joined dm ack marks subscription joined", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		sub := conn.Subscribe(KindDirect, "7")
		conn.Connect(testCreds())
		fs.nextFrame(t) // auth
		join := fs.nextFrame(t)
		assert.Equal(t, EvJoinDm, join.Event, "expected dm join")
		assert.False(t, sub.Joined(), "expected not joined before ack")

		fs.push(EvJoinedDm, "7")
		waitEvent(t, conn.Events(), EvJoinedDm)
		assert.True(t, sub.Joined(), "expected joined after ack")
	})

	t.Run("leave is suppressed when staying in the room", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		sub := conn.Subscribe(KindRoom, "12")
		conn.Connect(testCreds())
		fs.nextFrame(t) // auth
		fs.nextFrame(t) // join

		sub.Leave("http://example.com/chatroom/12")

		// a send proves no leave frame was queued ahead of it
		require.NoError(t, conn.Emit(EvChatMessage, ChatMessageOut{RoomId: "12", Message: "hi"}))
		frame := fs.nextFrame(t)
		assert.Equal(t, EvChatMessage, frame.Event, "expected no leave frame before the message")
	})

	t.Run("leave is emitted when navigating away", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		sub := conn.Subscribe(KindRoom, "12")
		conn.Connect(testCreds())
		fs.nextFrame(t) // auth
		fs.nextFrame(t) // join

		sub.Leave("http://example.com/chatrooms")

		leave := fs.nextFrame(t)
		assert.Equal(t, EvLeaveRoom, leave.Event, "expected leave frame")
	})
}

func TestReconnect(t *testing.T) {
	t.Run("rejoins all subscriptions after transport drop", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		dmSub := conn.Subscribe(KindDirect, "7")
		conn.Subscribe(KindRoom, "12")
		conn.Connect(testCreds())

		fs.nextFrame(t) // auth
		first := map[string]bool{}
		for i := 0; i < 2; i++ {
			frame := fs.nextFrame(t)
			first[frame.Event] = true
		}
		require.True(t, first[EvJoinRoom] && first[EvJoinDm], "expected both joins on connect")

		fs.push(EvJoinedDm, "7")
		waitEvent(t, conn.Events(), EvJoinedDm)
		require.True(t, dmSub.Joined(), "expected dm joined before drop")

		// server kills the transport
		fs.lastConn().Close()
		waitEvent(t, conn.Events(), EvDisconnect)

		// client must redial, re-auth and re-send every join
		auth := fs.nextFrame(t)
		assert.Equal(t, "auth", auth.Event, "expected re-auth after reconnect")

		rejoined := map[string]bool{}
		for i := 0; i < 2; i++ {
			frame := fs.nextFrame(t)
			rejoined[frame.Event] = true
		}
		assert.True(t, rejoined[EvJoinRoom], "expected room rejoined")
		assert.True(t, rejoined[EvJoinDm], "expected dm rejoined")
		assert.False(t, dmSub.Joined(), "expected dm handshake reset until a fresh ack")

		waitEvent(t, conn.Events(), EvReady)
		assert.Equal(t, 2, fs.connCount(), "expected exactly one reconnect")
	})
}

func TestEmit(t *testing.T) {
	t.Run("drops payload while disconnected", func(t *testing.T) {
		conn := New(testConfig("ws://localhost:1"), testutil.TestLogger(t))
		err := conn.Emit(EvChatMessage, ChatMessageOut{RoomId: "12", Message: "hi"})
		assert.ErrorIs(t, err, ErrNotConnected, "expected send dropped, not queued")
	})

	t.Run("delivers incoming chat messages", func(t *testing.T) {
		fs := newFakeServer(t)
		conn := New(testConfig(fs.url()), testutil.TestLogger(t))
		t.Cleanup(conn.Disconnect)

		conn.Connect(testCreds())
		fs.nextFrame(t) // auth
		waitEvent(t, conn.Events(), EvReady)

		fs.push(EvChatMessage, types.Message{Id: 5, RoomId: 12, Username: "bob", Message: "hey"})

		frame := waitEvent(t, conn.Events(), EvChatMessage)
		var msg types.Message
		require.NoError(t, json.Unmarshal(frame.Data, &msg))
		assert.Equal(t, int64(5), msg.Id, "expected message decoded")
	})
}
