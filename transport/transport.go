// Package transport owns the duplex byte channel to the editor.
//
// A Transport delivers raw chunks read from the editor to a callback on a
// single reader goroutine and accepts outbound bytes from any goroutine.
// Chunk boundaries carry no meaning; framing is the codec's job. This is
// the only package that starts I/O goroutines.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/nvplug/log"
)

// readBufferSize is the size of a single read from the channel.
const readBufferSize = 32 * 1024

// ErrClosed is returned by Send after the transport has stopped.
var ErrClosed = errors.New("transport closed")

// ErrStarted is returned by Start when called twice.
var ErrStarted = errors.New("transport already started")

// Transport is a duplex byte channel to the editor.
type Transport interface {
	// Start launches the reader. onMessage receives every chunk in read
	// order on the reader goroutine; onExit is called exactly once when
	// the reader stops, with nil for a clean close.
	Start(onMessage func([]byte), onExit func(error)) error
	// Send writes b atomically with respect to other Send calls.
	Send(b []byte) error
	// Stop closes the channel. Safe to call more than once.
	Stop() error
	// Join blocks until the reader has exited.
	Join()
}

// Stream is a Transport over an arbitrary reader and writer.
// Stdio, socket and embedded transports are all Streams.
type Stream struct {
	r       io.Reader
	w       io.Writer
	closers []io.Closer
	logger  *log.Logger

	sendMu sync.Mutex

	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// NewStream creates a Stream reading r and writing w. Stop closes every
// closer in order, which must unblock a pending read on r.
func NewStream(r io.Reader, w io.Writer, logger *log.Logger, closers ...io.Closer) *Stream {
	if logger == nil {
		logger = log.Nop()
	}
	return &Stream{
		r:       r,
		w:       w,
		closers: closers,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start implements Transport.
func (s *Stream) Start(onMessage func([]byte), onExit func(error)) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	go s.readLoop(onMessage, onExit)
	return nil
}

func (s *Stream) readLoop(onMessage func([]byte), onExit func(error)) {
	defer close(s.done)

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onMessage(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || s.stopping.Load() {
				s.logger.Debug("transport reader closed", map[string]any{"error": err.Error()})
				err = nil
			} else {
				s.logger.Error("transport read failed", map[string]any{"error": err.Error()})
			}
			s.stopping.Store(true)
			onExit(err)
			return
		}
	}
}

// Send implements Transport.
func (s *Stream) Send(b []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.stopping.Load() {
		return ErrClosed
	}
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("transport write failed: %w", err)
	}
	return nil
}

// Stop implements Transport.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		var errs []error
		for _, c := range s.closers {
			if err := c.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				errs = append(errs, err)
			}
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

// Join implements Transport. Returns immediately if Start was never called.
func (s *Stream) Join() {
	if !s.started.Load() {
		return
	}
	<-s.done
}

// Done is closed when the reader exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
