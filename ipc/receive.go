package ipc

import (
	"fmt"
	"math"
)

// Receive is one classified inbound message.
// Implemented by Request, Notification, Response, ErrorResponse, Exit
// and Malformed.
type Receive interface {
	// Kind names the variant for logs and rendering.
	Kind() string
}

// Request is an inbound [0, id, method, args] frame.
type Request struct {
	ID     uint32
	Method string
	Args   []any
}

// Notification is an inbound [2, method, args] frame.
type Notification struct {
	Method string
	Args   []any
}

// Response is a successful [1, id, nil, result] frame.
type Response struct {
	ID     uint32
	Result any
}

// ErrorResponse is a [1, id, error, _] frame with a non-nil error.
type ErrorResponse struct {
	ID      uint32
	Message string
	Raw     any
}

// Exit is synthesised locally when the transport closes. Err is nil
// for a clean end of stream.
type Exit struct {
	Reason string
	Err    error
}

// ExitFrom builds the Exit for a transport close with err.
func ExitFrom(err error) Exit {
	if err == nil {
		return Exit{Reason: "end of stream"}
	}
	return Exit{Reason: err.Error(), Err: err}
}

// Malformed is an inbound value that is not a valid frame.
type Malformed struct {
	Raw    any
	Reason string
}

func (Request) Kind() string       { return "request" }
func (Notification) Kind() string  { return "notification" }
func (Response) Kind() string      { return "response" }
func (ErrorResponse) Kind() string { return "error" }
func (Exit) Kind() string          { return "exit" }
func (Malformed) Kind() string     { return "malformed" }

func malformed(raw any, format string, args ...any) Malformed {
	return Malformed{Raw: raw, Reason: fmt.Sprintf(format, args...)}
}

// Classify turns one decoded value into its Receive variant.
// Values that violate the frame rules become Malformed; Classify never fails.
func Classify(v any) Receive {
	frame, ok := v.([]any)
	if !ok {
		return malformed(v, "frame is %T, not a list", v)
	}
	if len(frame) == 0 {
		return malformed(v, "empty frame")
	}

	typ, ok := AsInt64(frame[0])
	if !ok {
		return malformed(v, "message type is %T, not an integer", frame[0])
	}

	switch typ {
	case TypeRequest:
		return classifyRequest(frame)
	case TypeResponse:
		return classifyResponse(frame)
	case TypeNotification:
		return classifyNotification(frame)
	default:
		return malformed(v, "unknown message type %d", typ)
	}
}

func frameID(v any) (uint32, bool) {
	id, ok := AsInt64(v)
	if !ok || id < 0 || id > math.MaxUint32 {
		return 0, false
	}
	return uint32(id), true
}

func classifyRequest(frame []any) Receive {
	if len(frame) != 4 {
		return malformed(frame, "request has %d elements, want 4", len(frame))
	}
	id, ok := frameID(frame[1])
	if !ok {
		return malformed(frame, "request id %v is not a non-negative integer", frame[1])
	}
	method, ok := AsString(frame[2])
	if !ok {
		return malformed(frame, "request method is not a decodable string")
	}
	args, ok := frame[3].([]any)
	if !ok {
		return malformed(frame, "request args is %T, not a list", frame[3])
	}
	return Request{ID: id, Method: method, Args: args}
}

func classifyResponse(frame []any) Receive {
	if len(frame) != 4 {
		return malformed(frame, "response has %d elements, want 4", len(frame))
	}
	id, ok := frameID(frame[1])
	if !ok {
		return malformed(frame, "response id %v is not an integer in range", frame[1])
	}
	if frame[2] != nil {
		return ErrorResponse{ID: id, Message: Stringify(frame[2]), Raw: frame[2]}
	}
	return Response{ID: id, Result: frame[3]}
}

func classifyNotification(frame []any) Receive {
	if len(frame) != 3 {
		return malformed(frame, "notification has %d elements, want 3", len(frame))
	}
	method, ok := AsString(frame[1])
	if !ok {
		return malformed(frame, "notification method is not a decodable string")
	}
	args, ok := frame[2].([]any)
	if !ok {
		return malformed(frame, "notification args is %T, not a list", frame[2])
	}
	return Notification{Method: method, Args: args}
}

// Stringify renders an editor error value as a message. Neovim reports
// errors as [type, message]; other shapes are formatted as-is.
func Stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case []any:
		if len(x) == 2 {
			if msg, ok := AsString(x[1]); ok {
				return msg
			}
		}
	case map[string]any:
		if msg, ok := AsString(x["message"]); ok {
			return msg
		}
	}
	return fmt.Sprint(v)
}

// Receives feeds chunk through d and classifies every complete frame.
// A decode failure yields a trailing Malformed carrying the error.
func (d *Decoder) Receives(chunk []byte) []Receive {
	values, err := d.Feed(chunk)
	out := make([]Receive, 0, len(values)+1)
	for _, v := range values {
		out = append(out, Classify(v))
	}
	if err != nil {
		out = append(out, Malformed{Raw: chunk, Reason: err.Error()})
	}
	return out
}
