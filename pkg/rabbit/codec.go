package rabbit

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec turns messages into payloads and back.
type Codec interface {
	ContentType() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec encodes values with encoding/json.
type JSONCodec struct{}

// ContentType returns "application/json".
func (JSONCodec) ContentType() string {
	return "application/json"
}

// Encode marshals v to JSON.
func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals JSON into v.
func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ProtoCodec encodes proto.Message values in the protobuf binary format.
type ProtoCodec struct{}

// ContentType returns "application/x-protobuf".
func (ProtoCodec) ContentType() string {
	return "application/x-protobuf"
}

// Encode fails with ErrUnsupportedMessage unless v is a proto.Message.
func (ProtoCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedMessage, v)
	}
	return proto.Marshal(msg)
}

// Decode fails with ErrUnsupportedMessage unless v is a proto.Message.
func (ProtoCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedMessage, v)
	}
	return proto.Unmarshal(data, msg)
}
