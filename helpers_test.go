package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fake connection ---

type fakeConn struct {
	incoming chan []byte
	readErr  chan error
	closed   chan struct{}

	mu        sync.Mutex
	writes    []string
	closes    int
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 8),
		readErr:  make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case d := <-f.incoming:
		return websocket.MessageText, d, nil
	case err := <-f.readErr:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.writes = append(f.writes, string(p))
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func dialTo(conn *fakeConn) dialFunc {
	return func(context.Context, string) (wsConn, error) { return conn, nil }
}

func failingDial(err error) dialFunc {
	return func(context.Context, string) (wsConn, error) { return nil, err }
}

func fakeChannelOptions(conn *fakeConn) ChannelOptions {
	return ChannelOptions{Logger: testLogger(), dial: dialTo(conn)}
}

// nextEv waits for the next channel event.
func nextEv(t *testing.T, ch *Channel) any {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
	}
	return nil
}

// --- helper server ---

// startHelper serves a WebSocket helper that answers every request with the
// messages returned by handle. It returns the ws:// endpoint.
func startHelper(t *testing.T, handle func(req Request) []any) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			var req Request
			if err := wsjson.Read(ctx, c, &req); err != nil {
				return
			}
			for _, resp := range handle(req) {
				if err := wsjson.Write(ctx, c, resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// --- bubble tea ---

// execCmd runs cmd and every command batched inside it, returning the
// messages produced in time. Commands that block, like the event pump, are
// abandoned.
func execCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	out := make(chan tea.Msg, 1)
	go func() { out <- cmd() }()
	select {
	case msg := <-out:
		if batch, ok := msg.(tea.BatchMsg); ok {
			var msgs []tea.Msg
			for _, c := range batch {
				msgs = append(msgs, execCmd(c)...)
			}
			return msgs
		}
		if msg == nil {
			return nil
		}
		return []tea.Msg{msg}
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func intPtr(v int) *int { return &v }
