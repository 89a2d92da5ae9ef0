//go:build linux

package readiness

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestEpollSelectDetectsReadable(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	sel, err := NewEpoll()
	if err != nil {
		t.Fatalf("NewEpoll: %v", err)
	}
	defer sel.Close()

	rfd := r.Fd()

	readyRead, _, err := sel.Select(context.Background(), []uintptr{rfd}, nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(readyRead) != 0 {
		t.Fatalf("expected no readiness before write, got %v", readyRead)
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	readyRead, _, err = sel.Select(context.Background(), []uintptr{rfd}, nil, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(readyRead) != 1 || readyRead[0] != rfd {
		t.Fatalf("expected %v ready, got %v", rfd, readyRead)
	}
}

func TestEpollSelectContextCanceled(t *testing.T) {
	sel, err := NewEpoll()
	if err != nil {
		t.Fatalf("NewEpoll: %v", err)
	}
	defer sel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := sel.Select(ctx, nil, nil, time.Second); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
