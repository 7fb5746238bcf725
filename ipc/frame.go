// Package ipc implements msgpack-RPC framing for the editor channel.
//
// Frames on the wire are bare msgpack arrays with no length prefix:
//
//	request:      [0, id, method, args]
//	response:     [1, id, error, result]
//	notification: [2, method, args]
//
// Chunks read from the transport are not aligned with frame boundaries,
// so decoding goes through a streaming Decoder that keeps trailing
// partial bytes until the rest of the frame arrives.
package ipc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Message type discriminants (element 0 of every frame).
const (
	TypeRequest      = 0
	TypeResponse     = 1
	TypeNotification = 2
)

// MaxBufferSize bounds the bytes a Decoder holds while waiting for the
// remainder of a partial frame (64 MiB).
const MaxBufferSize = 64 * 1024 * 1024

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorDecode indicates bytes that are not valid msgpack.
	FrameErrorDecode FrameErrorKind = iota
	// FrameErrorTooLarge indicates a partial frame exceeding MaxBufferSize.
	FrameErrorTooLarge
	// FrameErrorEncode indicates a value that could not be serialised.
	FrameErrorEncode
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorDecode:
		return "decode"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorEncode:
		return "encode"
	default:
		return "unknown"
	}
}

// FrameError represents a frame encoding or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError reports whether err is a *FrameError of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == kind
	}
	return false
}

// Encode serialises v with compact integer encoding.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorEncode,
			Msg:  "failed to encode frame",
			Err:  err,
		}
	}
	return buf.Bytes(), nil
}

func argList(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

// EncodeRequest encodes [0, id, method, args].
func EncodeRequest(id uint32, method string, args []any) ([]byte, error) {
	return Encode([]any{TypeRequest, id, method, argList(args)})
}

// EncodeResponse encodes [1, id, errValue, result]. A nil errValue marks success.
func EncodeResponse(id uint32, errValue, result any) ([]byte, error) {
	return Encode([]any{TypeResponse, id, errValue, result})
}

// EncodeNotification encodes [2, method, args].
func EncodeNotification(method string, args []any) ([]byte, error) {
	return Encode([]any{TypeNotification, method, argList(args)})
}

// Decoder decodes a stream of msgpack values from arbitrarily split chunks.
// A Decoder is not safe for concurrent use; the transport reader owns it.
type Decoder struct {
	buf  []byte
	scan scanner
}

// NewDecoder creates an empty streaming decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Feed appends chunk to the pending buffer and decodes every complete
// value it now contains. Values are normalised (see Normalize).
//
// Trailing partial bytes are retained for the next call; the boundary
// scan resumes where it stopped, and a value is only decoded once all of
// its bytes are present. When the buffer holds bytes that are not valid
// msgpack, the values decoded before them are returned together with a
// *FrameError and the buffer is discarded, since msgpack has no
// resynchronisation marker.
func (d *Decoder) Feed(chunk []byte) ([]any, error) {
	d.buf = append(d.buf, chunk...)

	var values []any
	for len(d.buf) > 0 {
		end, ok, err := d.scan.next(d.buf)
		if err != nil {
			d.discard()
			return values, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame", Err: err}
		}
		if !ok {
			if len(d.buf) > MaxBufferSize {
				size := len(d.buf)
				d.discard()
				return values, &FrameError{
					Kind: FrameErrorTooLarge,
					Msg:  fmt.Sprintf("partial frame of %d bytes exceeds maximum %d", size, MaxBufferSize),
				}
			}
			break
		}

		v, err := decodeValue(d.buf[:end])
		if err != nil {
			d.discard()
			return values, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame", Err: err}
		}
		d.buf = d.buf[end:]
		d.scan.reset()
		values = append(values, Normalize(v))
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return values, nil
}

func (d *Decoder) discard() {
	d.buf = nil
	d.scan.reset()
}

// decodeValue decodes exactly one complete msgpack value.
func decodeValue(b []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetMapDecoder(decodeMap)
	return dec.DecodeInterfaceLoose()
}

// decodeMap decodes maps as map[string]any. Keys that are not strings
// (Lua tables can produce integer keys) are stringified.
func decodeMap(d *msgpack.Decoder) (any, error) {
	n, err := d.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}

	m := make(map[string]any, n)
	for range n {
		k, err := d.DecodeInterfaceLoose()
		if err != nil {
			return nil, err
		}
		v, err := d.DecodeInterfaceLoose()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			key = fmt.Sprint(Normalize(k))
		}
		m[key] = v
	}
	return m, nil
}
