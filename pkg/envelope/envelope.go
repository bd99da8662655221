// Package envelope converts messages to and from the JSON form used by the
// WebSocket, HTTP and gRPC transports:
//
//	{"address": "/a/b", "args": [1, 2.5, "text", {"blob": "aGk="}]}
//
// Binary arguments travel as {"blob": base64}. On decode, integral numbers
// within int32 range become int32 and every other number becomes float64.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// BlobKey is the field name of an encoded binary argument
const BlobKey = "blob"

// ErrInvalidEnvelope is returned when a frame or argument cannot be decoded
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the JSON frame of one message
type Envelope struct {
	Address   string     `json:"address"`
	Args      []any      `json:"args"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// New builds an envelope with JSON-ready args
func New(address string, args []any) Envelope {
	return Envelope{Address: address, Args: EncodeArgs(args)}
}

// Marshal encodes one message as a JSON frame
func Marshal(address string, args []any) ([]byte, error) {
	data, err := json.Marshal(New(address, args))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", address, err)
	}
	return data, nil
}

// Unmarshal decodes a JSON frame into an address and router-ready args
func Unmarshal(data []byte) (string, []any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Address == "" {
		return "", nil, fmt.Errorf("%w: missing address", ErrInvalidEnvelope)
	}

	args, err := DecodeArgs(env.Args)
	if err != nil {
		return "", nil, err
	}
	return env.Address, args, nil
}

// EncodeArgs replaces binary arguments with their {"blob": base64} form
func EncodeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		if b, ok := arg.([]byte); ok {
			out[i] = map[string]any{BlobKey: base64.StdEncoding.EncodeToString(b)}
			continue
		}
		out[i] = arg
	}
	return out
}

// DecodeArgs converts generic JSON values (as produced by encoding/json or
// structpb) into router arguments
func DecodeArgs(raw []any) ([]any, error) {
	args := make([]any, len(raw))
	for i, v := range raw {
		arg, err := decodeArg(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = arg
	}
	return args, nil
}

func decodeArg(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return number(float64(i)), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrInvalidEnvelope, val)
		}
		return number(f), nil
	case float64:
		return number(val), nil
	case map[string]any:
		encoded, ok := val[BlobKey].(string)
		if !ok || len(val) != 1 {
			return nil, fmt.Errorf("%w: objects must be {%q: base64}", ErrInvalidEnvelope, BlobKey)
		}
		b, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: bad blob: %v", ErrInvalidEnvelope, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unsupported argument type %T", ErrInvalidEnvelope, v)
	}
}

func number(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return int32(f)
	}
	return f
}
