package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/nvplug/log"
)

// collector gathers chunks and the exit error delivered by a transport.
type collector struct {
	mu     sync.Mutex
	data   bytes.Buffer
	exited chan error
}

func newCollector() *collector {
	return &collector{exited: make(chan error, 1)}
}

func (c *collector) onMessage(b []byte) {
	c.mu.Lock()
	c.data.Write(b)
	c.mu.Unlock()
}

func (c *collector) onExit(err error) { c.exited <- err }

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.String()
}

func (c *collector) waitExit(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.exited:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("transport did not exit")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_DeliversChunksAndCleanExit(t *testing.T) {
	inR, inW := io.Pipe()
	var out bytes.Buffer
	s := NewStream(inR, &out, nil, inR)

	c := newCollector()
	if err := s.Start(c.onMessage, c.onExit); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, _ = inW.Write([]byte("hello "))
	_, _ = inW.Write([]byte("world"))
	waitFor(t, func() bool { return c.String() == "hello world" })

	_ = inW.Close()
	if err := c.waitExit(t); err != nil {
		t.Errorf("exit error = %v, want nil on EOF", err)
	}
	s.Join()

	if err := s.Send([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after exit = %v, want ErrClosed", err)
	}
}

func TestStream_StartTwice(t *testing.T) {
	inR, _ := io.Pipe()
	s := NewStream(inR, io.Discard, nil, inR)
	c := newCollector()
	if err := s.Start(c.onMessage, c.onExit); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(c.onMessage, c.onExit); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start = %v, want ErrStarted", err)
	}
	_ = s.Stop()
	s.Join()
}

func TestStream_StopUnblocksReader(t *testing.T) {
	inR, _ := io.Pipe()
	s := NewStream(inR, io.Discard, nil, inR)
	c := newCollector()
	if err := s.Start(c.onMessage, c.onExit); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.waitExit(t); err != nil {
		t.Errorf("exit error = %v, want nil after Stop", err)
	}
	s.Join()

	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestStream_ReadErrorReported(t *testing.T) {
	inR, inW := io.Pipe()
	s := NewStream(inR, io.Discard, nil)
	c := newCollector()
	if err := s.Start(c.onMessage, c.onExit); err != nil {
		t.Fatalf("Start: %v", err)
	}

	boom := errors.New("connection reset")
	_ = inW.CloseWithError(boom)
	if err := c.waitExit(t); !errors.Is(err, boom) {
		t.Errorf("exit error = %v, want %v", err, boom)
	}
}

func TestStream_ConcurrentSendsDoNotInterleave(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader(""), &out, nil)

	const senders = 8
	const perSender = 50
	var wg sync.WaitGroup
	wg.Add(senders)
	for i := range senders {
		go func() {
			defer wg.Done()
			msg := bytes.Repeat([]byte{byte('a' + i)}, 16)
			for range perSender {
				if err := s.Send(msg); err != nil {
					t.Errorf("Send: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	data := out.Bytes()
	if len(data) != senders*perSender*16 {
		t.Fatalf("wrote %d bytes, want %d", len(data), senders*perSender*16)
	}
	for off := 0; off < len(data); off += 16 {
		block := data[off : off+16]
		if !bytes.Equal(block, bytes.Repeat(block[:1], 16)) {
			t.Fatalf("interleaved write at offset %d: %q", off, block)
		}
	}
}

func TestSocketNetwork(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"/tmp/nvim.sock", "unix"},
		{"./nvim.sock", "unix"},
		{"nvim.sock", "unix"},
		{"127.0.0.1:6666", "tcp"},
		{"localhost:6666", "tcp"},
	}
	for _, tt := range tests {
		if got := SocketNetwork(tt.address); got != tt.want {
			t.Errorf("SocketNetwork(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestDialSocket_Unix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvim.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	s, err := DialSocket(t.Context(), path, nil)
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	c := newCollector()
	if err := s.Start(c.onMessage, c.onExit); err != nil {
		t.Fatalf("Start: %v", err)
	}

	peer := <-accepted
	defer peer.Close()

	if _, err := peer.Write([]byte("ping")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	waitFor(t, func() bool { return c.String() == "ping" })

	if err := s.Send([]byte("pong")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(peer, buf); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf) != "pong" {
		t.Errorf("peer read %q, want pong", buf)
	}

	_ = s.Stop()
	s.Join()
}

func TestDialSocket_EmptyAddress(t *testing.T) {
	if _, err := DialSocket(t.Context(), "", nil); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestEmbedArgs(t *testing.T) {
	got := EmbedArgs([]string{"--headless", "--embed", "-u", "NONE"})
	want := []string{"--embed", "--headless", "-u", "NONE"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("EmbedArgs = %v, want %v", got, want)
	}
}

func TestEmbedded_EchoChild(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	var logs syncBuffer
	logger := log.NewLoggerWithWriter(nil, &logs, zapcore.DebugLevel)

	e, err := StartEmbedded(t.Context(), EmbedConfig{
		Path: sh,
		Args: []string{"-c", "echo warming up >&2; cat"},
	}, logger)
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}

	c := newCollector()
	if err := e.Start(c.onMessage, c.onExit); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Send([]byte("round trip")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool { return c.String() == "round trip" })

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	e.Join()

	if !strings.Contains(logs.String(), "warming up") {
		t.Errorf("stderr line not logged; logs:\n%s", logs.String())
	}
}

func TestDeduplicateEnv(t *testing.T) {
	got := deduplicateEnv([]string{"A=1", "B=2", "A=3"})
	want := []string{"B=2", "A=3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("deduplicateEnv = %v, want %v", got, want)
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d, want 0", got)
	}
	if got := exitCode(errors.New("other")); got != -1 {
		t.Errorf("exitCode(other) = %d, want -1", got)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
