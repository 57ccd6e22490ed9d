// Package codec converts wire frames to and from JSON text.
//
// Decoding is strict: a payload that is not a JSON object with a
// non-empty "type" is an ErrDecode. DecodeOrRaw layers the compatibility
// fallback on top, turning such payloads (plain log lines, legacy servers)
// into a low-confidence frame of type "raw" so listeners still see them.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

var ErrDecode = errors.New("decode frame")

// now is replaced in tests.
var now = time.Now

// Encode serializes f, stamping the timestamp if the caller left it empty.
func Encode(f protocol.Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, errors.New("encode frame: missing type")
	}
	if f.Timestamp == "" {
		f.Timestamp = protocol.FormatTimestamp(now())
	}
	data, err := sonic.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses one wire frame.
func Decode(data []byte) (protocol.Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return protocol.Frame{}, fmt.Errorf("%w: not a JSON object", ErrDecode)
	}

	var f protocol.Frame
	if err := sonic.Unmarshal(trimmed, &f); err != nil {
		return protocol.Frame{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if f.Type == "" {
		return protocol.Frame{}, fmt.Errorf("%w: missing type", ErrDecode)
	}
	if bytes.Equal(f.Data, []byte("null")) {
		f.Data = nil
	}
	return f, nil
}

// DecodeOrRaw decodes data, falling back to a raw frame carrying the
// original text. The boolean reports whether the fallback was used.
func DecodeOrRaw(data []byte) (protocol.Frame, bool) {
	f, err := Decode(data)
	if err == nil {
		return f, false
	}
	return Raw(string(data)), true
}

// Raw builds the fallback frame for text.
func Raw(text string) protocol.Frame {
	payload, err := sonic.Marshal(protocol.RawMessage{Message: text})
	if err != nil {
		payload = nil
	}
	return protocol.Frame{
		Type:      protocol.TypeRaw,
		Data:      payload,
		Timestamp: protocol.FormatTimestamp(now()),
	}
}
