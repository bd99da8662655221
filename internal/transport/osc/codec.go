package osc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	goosc "github.com/hypebeast/go-osc/osc"
)

// MaxFrameSize bounds a single length-prefixed stream frame
const MaxFrameSize = 16 << 20

var (
	// ErrEmptyPacket is returned for datagrams that hold no OSC packet
	ErrEmptyPacket = errors.New("empty osc packet")
	// ErrFrameTooLarge is returned when a stream frame exceeds MaxFrameSize
	ErrFrameTooLarge = errors.New("osc frame too large")
)

// Message is one decoded OSC message
type Message struct {
	Address string
	Args    []any
}

// Decode parses a datagram into its messages. Bundles are flattened depth
// first, keeping their order.
func Decode(data []byte) ([]Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	packet, err := goosc.ParsePacket(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse osc packet: %w", err)
	}
	if packet == nil {
		return nil, ErrEmptyPacket
	}

	var messages []Message
	flatten(packet, &messages)
	return messages, nil
}

func flatten(packet goosc.Packet, out *[]Message) {
	switch p := packet.(type) {
	case *goosc.Message:
		*out = append(*out, Message{Address: p.Address, Args: p.Arguments})
	case *goosc.Bundle:
		for _, m := range p.Messages {
			flatten(m, out)
		}
		for _, b := range p.Bundles {
			flatten(b, out)
		}
	}
}

// Encode serializes one message, normalizing args to OSC types first
func Encode(address string, args []any) ([]byte, error) {
	msg := goosc.NewMessage(address, NormalizeArgs(args)...)
	data, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode osc message %s: %w", address, err)
	}
	return data, nil
}

// NormalizeArgs converts Go values into the types go-osc can encode.
// Integers in int32 range become int32, wider ones int64. Values with no OSC
// equivalent are sent as their string form.
func NormalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		out[i] = normalizeArg(arg)
	}
	return out
}

func normalizeArg(arg any) any {
	switch v := arg.(type) {
	case nil, bool, int32, int64, float32, float64, string, []byte, goosc.Timetag:
		return v
	case int:
		return narrowInt(int64(v))
	case int8:
		return int32(v)
	case int16:
		return int32(v)
	case uint8:
		return int32(v)
	case uint16:
		return int32(v)
	case uint32:
		return narrowInt(int64(v))
	case uint:
		if uint64(v) > math.MaxInt64 {
			return fmt.Sprint(v)
		}
		return narrowInt(int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return fmt.Sprint(v)
		}
		return narrowInt(int64(v))
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func narrowInt(v int64) any {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return int32(v)
	}
	return v
}

// WriteFrame writes packet with the OSC 1.0 stream framing: a big-endian
// int32 length followed by the packet bytes.
func WriteFrame(w io.Writer, packet []byte) error {
	frame := make([]byte, 4+len(packet))
	binary.BigEndian.PutUint32(frame, uint32(len(packet)))
	copy(frame[4:], packet)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed packet
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	packet := make([]byte, size)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, err
	}
	return packet, nil
}
