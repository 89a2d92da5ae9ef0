package httpserver

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loopwire/uhttp/pkg/codec"
)

func startEventTestServer(t *testing.T, cfg Config, handler EventHandler) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, err := NewEventServer(ln, nil, cfg, handler)
	if err != nil {
		t.Fatalf("new event server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			if err := srv.Wait(ctx, 20*time.Millisecond); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return ln.Addr().String()
}

func readStatusLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func TestEventModeBodylessRequestIsRequestEvent(t *testing.T) {
	var events []EventType
	addr := startEventTestServer(t, Config{}, func(conn *Connection) {
		events = append(events, conn.Event())
		if conn.Event() == EventRequest {
			conn.Respond(200, "ok", nil, nil)
		}
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))

	status := readStatusLine(t, bufio.NewReader(client))
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status: %q", status)
	}
	if len(events) != 1 || events[0] != EventRequest {
		t.Fatalf("expected a single REQUEST event, got %v", events)
	}
}

func TestEventModeSmallBodyArrivesAsRequestEvent(t *testing.T) {
	var gotBody string
	var gotEvent EventType
	addr := startEventTestServer(t, Config{}, func(conn *Connection) {
		gotEvent = conn.Event()
		if conn.Event() != EventRequest {
			return
		}
		if b, ok := conn.Request().Body.(codec.RawRequestBody); ok {
			gotBody = string(b)
		}
		conn.Respond(200, "ok", nil, nil)
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	payload := "hello"
	req := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\n" + payload
	client.Write([]byte(req))

	status := readStatusLine(t, bufio.NewReader(client))
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status: %q", status)
	}
	if gotEvent != EventRequest {
		t.Fatalf("expected REQUEST event, got %v", gotEvent)
	}
	if gotBody != payload {
		t.Fatalf("expected body %q, got %q", payload, gotBody)
	}
}

func TestEventModeHeadersThenAcceptBodyThenComplete(t *testing.T) {
	var seen []EventType
	done := make(chan struct{}, 1)
	addr := startEventTestServer(t, Config{}, func(conn *Connection) {
		seen = append(seen, conn.Event())
		switch conn.Event() {
		case EventHeaders:
			if err := conn.AcceptBody(); err != nil {
				t.Errorf("accept body: %v", err)
			}
		case EventComplete:
			conn.Respond(200, "ok", nil, nil)
			done <- struct{}{}
		}
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	header := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\nConnection: close\r\n\r\n"
	client.Write([]byte(header))
	time.Sleep(30 * time.Millisecond)
	client.Write([]byte("0123456789"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never completed")
	}

	status := readStatusLine(t, bufio.NewReader(client))
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status: %q", status)
	}

	if len(seen) == 0 || seen[0] != EventHeaders {
		t.Fatalf("expected HEADERS first, got %v", seen)
	}
	if seen[len(seen)-1] != EventComplete {
		t.Fatalf("expected COMPLETE last, got %v", seen)
	}
}

func TestEventModeAcceptBodyToFileStreamsUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.bin")
	done := make(chan struct{}, 1)

	addr := startEventTestServer(t, Config{}, func(conn *Connection) {
		switch conn.Event() {
		case EventHeaders:
			if err := conn.AcceptBodyToFile(path); err != nil {
				t.Errorf("accept body to file: %v", err)
			}
		case EventComplete:
			conn.Respond(200, "ok", nil, nil)
			done <- struct{}{}
		}
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	payload := strings.Repeat("a", 64)
	header := "POST /upload HTTP/1.1\r\nHost: x\r\nContent-Length: 64\r\nConnection: close\r\n\r\n"
	client.Write([]byte(header))
	time.Sleep(30 * time.Millisecond)
	client.Write([]byte(payload))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never completed")
	}

	status := readStatusLine(t, bufio.NewReader(client))
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status: %q", status)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(written) != payload {
		t.Fatalf("expected uploaded content %q, got %q", payload, written)
	}
}

func TestEventModeRejectBodyAtHeaders(t *testing.T) {
	addr := startEventTestServer(t, Config{}, func(conn *Connection) {
		if conn.Event() == EventHeaders {
			conn.Respond(413, "too big", nil, nil)
		}
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	req := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\nConnection: close\r\n\r\n"
	client.Write([]byte(req))

	status := readStatusLine(t, bufio.NewReader(client))
	if !strings.HasPrefix(status, "HTTP/1.1 413") {
		t.Fatalf("unexpected status: %q", status)
	}
}
