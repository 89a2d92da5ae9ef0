package httpserver

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// startTestServer spins up a real TCP listener driven by a background
// goroutine calling Wait in a loop, and stops it on test cleanup.
func startTestServer(t *testing.T, cfg Config, handler Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, err := NewServer(ln, nil, cfg, handler)
	if err != nil {
		t.Fatalf("new server: %v", err)
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

func TestRespondOncePerRequest(t *testing.T) {
	var secondErr error
	done := make(chan struct{}, 1)

	addr := startTestServer(t, Config{}, func(conn *Connection) {
		_ = conn.Respond(200, "hi", nil, nil)
		secondErr = conn.Respond(200, "again", nil, nil)
		done <- struct{}{}
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	if httperrors.GetErrorType(secondErr) != httperrors.ErrorTypeResponseMisuse {
		t.Fatalf("expected response-misuse error, got %v", secondErr)
	}

	reader := bufio.NewReader(client)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status line: %q", status)
	}
}

func TestKeepAliveDefaults(t *testing.T) {
	addr := startTestServer(t, Config{}, func(conn *Connection) {
		conn.Respond(200, "ok", nil, nil)
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))

	reader := bufio.NewReader(client)
	var headerLines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		headerLines = append(headerLines, line)
	}

	found := false
	for _, h := range headerLines {
		if strings.EqualFold(h, "connection: keep-alive") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a keep-alive Connection header, got %v", headerLines)
	}
}

func TestMaxRequestsClosesConnection(t *testing.T) {
	cfg := Config{KeepAliveMaxRequests: 1}
	addr := startTestServer(t, cfg, func(conn *Connection) {
		conn.Respond(200, "ok", nil, nil)
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))

	reader := bufio.NewReader(client)
	var headerLines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		headerLines = append(headerLines, line)
	}

	found := false
	for _, h := range headerLines {
		if strings.EqualFold(h, "connection: close") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Connection: close after hitting the request quota, got %v", headerLines)
	}
}

func TestRespondFileChunked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	content := strings.Repeat("x", fileFixtureSize)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg := Config{FileChunkSize: 16}
	addr := startTestServer(t, cfg, func(conn *Connection) {
		if err := conn.RespondFile(path, nil); err != nil {
			t.Errorf("respond file: %v", err)
		}
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.Write([]byte("GET /payload.bin HTTP/1.1\r\nHost: x\r\n\r\n"))

	reader := bufio.NewReader(client)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("unexpected status line: %q", status)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}

	body := make([]byte, len(content))
	if _, err := io.ReadFull(reader, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != content {
		t.Fatalf("expected %d bytes streamed in chunks, got %d", len(content), len(body))
	}
}

const fileFixtureSize = 100
