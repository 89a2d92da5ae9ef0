package httpserver

import (
	"bufio"
	"net"
	"testing"

	"github.com/loopwire/uhttp/pkg/codec"
)

// TestContentLengthExactSlice checks that a request body is sliced to
// exactly its declared Content-Length even when the next pipelined
// request's bytes immediately follow it in the same read.
func TestContentLengthExactSlice(t *testing.T) {
	type captured struct {
		body codec.RequestBody
		path string
	}
	results := make(chan captured, 2)

	addr := startTestServer(t, Config{}, func(conn *Connection) {
		req := conn.Request()
		results <- captured{body: req.Body, path: req.Path}
		conn.Respond(200, "ok", nil, nil)
	})

	client, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.Write([]byte(
		"POST /first HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nHELLO" +
			"GET /second HTTP/1.1\r\nHost: x\r\n\r\n",
	))

	first := <-results
	second := <-results

	raw, ok := first.body.(codec.RawRequestBody)
	if !ok {
		t.Fatalf("expected RawRequestBody, got %T", first.body)
	}
	if string(raw) != "HELLO" {
		t.Fatalf("expected body sliced to exactly 5 bytes %q, got %q", "HELLO", string(raw))
	}
	if second.path != "/second" {
		t.Fatalf("expected the second pipelined request's bytes to be untouched, got path %q", second.path)
	}

	reader := bufio.NewReader(client)
	readBody(t, reader)
	readBody(t, reader)
}
