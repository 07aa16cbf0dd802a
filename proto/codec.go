package netmon_pb

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// CodecName is the gRPC content-subtype under which the codec is registered.
// Clients select it with grpc.CallContentSubtype(CodecName).
const CodecName = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("netmon_pb: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 16,
	}.DecMode()
	if err != nil {
		panic("netmon_pb: CBOR decoder initialization failed: " + err.Error())
	}
	encoding.RegisterCodec(Codec{})
}

// Codec encodes plain Go messages as CBOR. Protobuf messages, such as the
// ones used by the health service, are passed through to proto.Marshal so a
// single connection can carry both.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal %T: %w", v, err)
	}
	return data, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string {
	return CodecName
}
