package rpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName identifies this codec on the wire via the grpc "content-subtype"
// mechanism; it intentionally does not claim to be "proto"; there is no
// protobuf involved.
const codecName = "vaultbin"

// vaultCodec implements grpc-go's encoding.Codec over the wireMessage
// types in messages.go. Registering a custom codec is a supported grpc-go
// extension point and lets this service reuse the real transport, framing,
// flow control, and health-check machinery from google.golang.org/grpc
// without requiring a .proto file or the protoc toolchain.
type vaultCodec struct{}

func (vaultCodec) Name() string { return codecName }

func (vaultCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("rpc: codec cannot marshal %T", v)
	}
	return msg.MarshalBinary()
}

func (vaultCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("rpc: codec cannot unmarshal into %T", v)
	}
	return msg.UnmarshalBinary(data)
}

func init() {
	encoding.RegisterCodec(vaultCodec{})
}
