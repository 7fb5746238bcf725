// Package iox provides I/O helpers for resource cleanup and stream draining.
package iox

import (
	"bufio"
	"io"
)

// maxLineSize bounds a single drained line. Longer lines are split.
const maxLineSize = 64 * 1024

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(pipe))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }

// DrainLines reads r line by line until EOF or a read error, calling fn
// for every non-empty line with the trailing newline removed.
// Returns the read error, or nil on EOF.
func DrainLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fn(line)
		}
	}
	return scanner.Err()
}
