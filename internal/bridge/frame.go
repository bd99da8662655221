package bridge

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/envelope"
)

// ToStruct encodes one message as a bridge frame
func ToStruct(address string, args []any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"address": address,
		"args":    envelope.EncodeArgs(args),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", address, err)
	}
	return s, nil
}

// FromStruct decodes a bridge frame
func FromStruct(s *structpb.Struct) (string, []any, error) {
	fields := s.AsMap()

	address, _ := fields["address"].(string)
	if address == "" {
		return "", nil, fmt.Errorf("%w: missing address", envelope.ErrInvalidEnvelope)
	}

	var raw []any
	if v, ok := fields["args"]; ok && v != nil {
		if raw, ok = v.([]any); !ok {
			return "", nil, fmt.Errorf("%w: args must be a list", envelope.ErrInvalidEnvelope)
		}
	}

	args, err := envelope.DecodeArgs(raw)
	if err != nil {
		return "", nil, err
	}
	return address, args, nil
}
