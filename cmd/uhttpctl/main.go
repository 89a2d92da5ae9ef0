// Command uhttpctl is a thin command-line front-end over pkg/httpclient:
// a single request in, a response out, plumbed the way curl-alikes are.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/loopwire/uhttp/pkg/codec"
	"github.com/loopwire/uhttp/pkg/httpclient"
	"github.com/loopwire/uhttp/pkg/readiness"
	"github.com/loopwire/uhttp/pkg/tlsconfig"
)

type target struct {
	host  string
	port  int
	tls   bool
	path  string
	query map[string]any
}

// parseTarget decomposes a "[scheme://]host[:port][/path][?query]" CLI
// argument, defaulting to http:// and port 80/443 when unspecified.
func parseTarget(raw string) (target, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	var t target
	switch {
	case strings.HasPrefix(raw, "https://"):
		t.tls = true
		raw = raw[len("https://"):]
	case strings.HasPrefix(raw, "http://"):
		raw = raw[len("http://"):]
	default:
		return t, fmt.Errorf("unsupported scheme in %q", raw)
	}

	hostPort, path := raw, "/"
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		hostPort, path = raw[:i], raw[i:]
	}

	if i := strings.IndexByte(path, '?'); i >= 0 {
		queryStr := path[i+1:]
		path = path[:i]
		t.query = map[string]any{}
		for _, part := range strings.Split(queryStr, "&") {
			if part == "" {
				continue
			}
			k, v, found := strings.Cut(part, "=")
			if found {
				t.query[k] = v
			} else {
				t.query[k] = nil
			}
		}
	}
	if path == "" {
		path = "/"
	}
	t.path = path

	if i := strings.LastIndexByte(hostPort, ':'); i >= 0 {
		port, err := strconv.Atoi(hostPort[i+1:])
		if err != nil {
			return t, fmt.Errorf("invalid port in %q", raw)
		}
		t.host = hostPort[:i]
		t.port = port
	} else {
		t.host = hostPort
		if t.tls {
			t.port = 443
		} else {
			t.port = 80
		}
	}
	return t, nil
}

type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ",") }
func (h *headerFlags) Set(v string) error {
	*h = append(*h, v)
	return nil
}

func parseHeaders(raw []string) codec.Header {
	headers := codec.Header{}
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		headers.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return headers
}

func formatSize(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

func loadCookieJar(path string) map[string]string {
	jar := map[string]string{}
	if path == "" {
		return jar
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return jar
	}
	_ = json.Unmarshal(data, &jar)
	return jar
}

func saveCookieJar(path string, jar map[string]string) {
	if path == "" || len(jar) == 0 {
		return
	}
	data, err := json.Marshal(jar)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

func run() int {
	fs := newFlagSet()
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 1
	}
	args := fs.args
	if args.urlArg == "" {
		fmt.Fprintln(os.Stderr, "usage: uhttpctl [options] URL")
		return 1
	}

	t, err := parseTarget(args.urlArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing URL: %v\n", err)
		return 1
	}

	headers := parseHeaders(args.headers)

	var data any
	switch {
	case args.jsonData != "":
		raw := args.jsonData
		if strings.HasPrefix(raw, "@") {
			content, rerr := os.ReadFile(raw[1:])
			if rerr != nil {
				fmt.Fprintf(os.Stderr, "Error reading JSON file: %v\n", rerr)
				return 1
			}
			raw = string(content)
		}
		var decoded any
		if jerr := json.Unmarshal([]byte(raw), &decoded); jerr != nil {
			fmt.Fprintf(os.Stderr, "Invalid JSON: %v\n", jerr)
			return 1
		}
		data = decoded
	case args.file != "":
		content, rerr := os.ReadFile(args.file)
		if rerr != nil {
			fmt.Fprintf(os.Stderr, "Error reading file: %v\n", rerr)
			return 1
		}
		data = content
	case args.rawData != "":
		data = args.rawData
	}

	method := strings.ToUpper(args.method)
	if method == "" {
		if data != nil {
			method = "POST"
		} else {
			method = "GET"
		}
	}

	var wrapper *tlsconfig.Wrapper
	if t.tls {
		wrapper = tlsconfig.NewWrapper(&tls.Config{InsecureSkipVerify: args.insecure})
	}

	timeout := time.Duration(args.timeoutSeconds * float64(time.Second))
	client := httpclient.New(t.host, t.port, wrapper, httpclient.Config{
		ConnectTimeout: timeout,
		IdleTimeout:    timeout,
	})

	jar := loadCookieJar(args.cookieJar)
	for k, v := range jar {
		client.Cookies()[k] = v
	}

	if args.auth != "" {
		user, pass, _ := strings.Cut(args.auth, ":")
		client.SetAuth(httpclient.Credentials{Username: user, Password: pass})
	}

	if args.verbose {
		scheme := ""
		if t.tls {
			scheme = " (SSL)"
		}
		fmt.Fprintf(os.Stderr, "* Connecting to %s:%d%s\n", t.host, t.port, scheme)
		fmt.Fprintf(os.Stderr, "> %s %s HTTP/1.1\n", method, t.path)
		fmt.Fprintf(os.Stderr, "> Host: %s\n", t.host)
		for k, v := range headers {
			fmt.Fprintf(os.Stderr, "> %s: %s\n", k, v)
		}
		fmt.Fprintln(os.Stderr, ">")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := client.Request(ctx, method, t.path, headers, data, t.query, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
		return 1
	}

	sel, err := readiness.NewDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
		return 1
	}
	defer sel.Close()

	resp, err := client.Wait(ctx, sel, timeout)
	elapsed := time.Since(start)
	client.Close()

	if ctx.Err() == context.Canceled {
		fmt.Fprintln(os.Stderr, "\nInterrupted")
		return 130
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Response error: %v\n", err)
		return 1
	}
	if resp == nil {
		fmt.Fprintln(os.Stderr, "Error: Request timed out")
		return 1
	}

	saveCookieJar(args.cookieJar, client.Cookies())

	if args.verbose {
		fmt.Fprintf(os.Stderr, "< HTTP/1.1 %d %s\n", resp.Status, resp.StatusMessage)
		for k, v := range resp.Headers {
			fmt.Fprintf(os.Stderr, "< %s: %s\n", k, v)
		}
		fmt.Fprintln(os.Stderr, "<")
		fmt.Fprintf(os.Stderr, "* Time: %.3fs\n", elapsed.Seconds())
		fmt.Fprintf(os.Stderr, "* Size: %s\n", formatSize(len(resp.Data)))
		fmt.Fprintln(os.Stderr)
	}

	if args.output != "" {
		if werr := os.WriteFile(args.output, resp.Data, 0o644); werr != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", werr)
			return 1
		}
		if args.verbose {
			fmt.Fprintf(os.Stderr, "* Saved to %s\n", args.output)
		}
	} else if isPrintable(resp.Data) {
		fmt.Fprintln(os.Stdout, string(resp.Data))
	} else {
		fmt.Fprintf(os.Stdout, "[Binary data: %s]\n", formatSize(len(resp.Data)))
		fmt.Fprintln(os.Stderr, "Use -o FILE to save binary data")
	}

	if resp.Status >= 400 {
		return 1
	}
	return 0
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

func main() {
	os.Exit(run())
}
