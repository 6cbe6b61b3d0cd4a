package event

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
)

var (
	// ErrMissingType is wrapped by DecodeError when a frame has no type field.
	ErrMissingType = errors.New("event: missing type")
	// ErrPayloadMismatch is returned by Encode when the payload variant does not belong to the tag.
	ErrPayloadMismatch = errors.New("event: payload does not match tag")
)

// DecodeError reports a frame that failed structural validation. Callers log
// it and move on to the next frame.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "event: decode: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// wireEnvelope is the JSON shape: {"type": ..., "data": {...}, "created_by": N}.
type wireEnvelope struct {
	Type      *Tag            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedBy int64           `json:"created_by"`
}

var emptyData = json.RawMessage(`{}`)

// Encode serializes env into one wire frame.
func Encode(env Envelope) ([]byte, error) {
	want := newPayload(env.Type)
	if want == nil {
		return nil, fmt.Errorf("event: encode unknown tag %q", env.Type)
	}

	data := emptyData
	if env.Payload != nil {
		if reflect.TypeOf(env.Payload) != reflect.TypeOf(want) {
			return nil, fmt.Errorf("%w: %s carries %T", ErrPayloadMismatch, env.Type, env.Payload)
		}
		raw, err := json.Marshal(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("event: encode %s: %w", env.Type, err)
		}
		data = raw
	}

	tag := env.Type
	return json.Marshal(wireEnvelope{Type: &tag, Data: data, CreatedBy: env.CreatedBy})
}

// Decode parses one wire frame. Unknown tags decode successfully with a nil
// payload; anything unparseable or without a type yields *DecodeError.
func Decode(b []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	if w.Type == nil || *w.Type == "" {
		return Envelope{}, &DecodeError{Err: ErrMissingType}
	}

	env := Envelope{Type: *w.Type, CreatedBy: w.CreatedBy}
	payload := newPayload(env.Type)
	if payload == nil {
		return env, nil
	}

	data := bytes.TrimSpace(w.Data)
	if len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		if err := json.Unmarshal(data, payload); err != nil {
			return Envelope{}, &DecodeError{Err: fmt.Errorf("%s data: %w", env.Type, err)}
		}
	}
	env.Payload = payload
	return env, nil
}

// SplitFrame breaks a websocket frame into envelope candidates. The relay
// write pump coalesces queued envelopes into one frame separated by newlines.
func SplitFrame(frame []byte) [][]byte {
	parts := bytes.Split(frame, []byte{'\n'})
	out := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}
