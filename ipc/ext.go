package ipc

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Neovim ext type codes for remote object handles.
const (
	ExtBuffer  int8 = 0
	ExtWindow  int8 = 1
	ExtTabpage int8 = 2
)

// timeExtID is reserved by msgpack for time.Time.
const timeExtID int8 = -1

// Buffer is a Neovim buffer handle (ext type 0).
type Buffer int64

// Window is a Neovim window handle (ext type 1).
type Window int64

// Tabpage is a Neovim tabpage handle (ext type 2).
type Tabpage int64

// Ext is an ext value with a code the engine has no dedicated type for.
// Data is the raw ext payload and re-encodes byte-for-byte.
type Ext struct {
	Code int8
	Data []byte
}

func (b Buffer) String() string  { return fmt.Sprintf("Buffer(%d)", int64(b)) }
func (w Window) String() string  { return fmt.Sprintf("Window(%d)", int64(w)) }
func (t Tabpage) String() string { return fmt.Sprintf("Tabpage(%d)", int64(t)) }

// EncodeMsgpack implements msgpack.CustomEncoder.
func (b Buffer) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeHandle(enc, ExtBuffer, int64(b))
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (w Window) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeHandle(enc, ExtWindow, int64(w))
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (t Tabpage) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeHandle(enc, ExtTabpage, int64(t))
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (e Ext) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeExtHeader(e.Code, len(e.Data)); err != nil {
		return err
	}
	_, err := enc.Writer().Write(e.Data)
	return err
}

// encodeHandle writes a handle as an ext whose payload is a compact
// msgpack integer, which is what Neovim emits.
func encodeHandle(enc *msgpack.Encoder, code int8, n int64) error {
	var payload bytes.Buffer
	if err := msgpack.NewEncoder(&payload).EncodeInt(n); err != nil {
		return err
	}
	if err := enc.EncodeExtHeader(code, payload.Len()); err != nil {
		return err
	}
	_, err := enc.Writer().Write(payload.Bytes())
	return err
}

func decodeHandle(d *msgpack.Decoder, v reflect.Value, _ int) error {
	n, err := d.DecodeInt64()
	if err != nil {
		return err
	}
	v.Elem().SetInt(n)
	return nil
}

func decodeExt(code int8) func(*msgpack.Decoder, reflect.Value, int) error {
	return func(d *msgpack.Decoder, v reflect.Value, extLen int) error {
		data := make([]byte, extLen)
		if err := d.ReadFull(data); err != nil {
			return err
		}
		v.Elem().Set(reflect.ValueOf(Ext{Code: code, Data: data}))
		return nil
	}
}

// Ext decoders are process-global in msgpack. Handles decode to pointers
// when read into an interface; Normalize folds them back to values.
func init() {
	msgpack.RegisterExtDecoder(ExtBuffer, (*Buffer)(nil), decodeHandle)
	msgpack.RegisterExtDecoder(ExtWindow, (*Window)(nil), decodeHandle)
	msgpack.RegisterExtDecoder(ExtTabpage, (*Tabpage)(nil), decodeHandle)

	for code := -128; code <= 127; code++ {
		id := int8(code)
		switch id {
		case ExtBuffer, ExtWindow, ExtTabpage, timeExtID:
			continue
		}
		msgpack.RegisterExtDecoder(id, (*Ext)(nil), decodeExt(id))
	}
}
