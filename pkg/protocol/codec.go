package protocol

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype every blockfs call is sent with.
const CodecName = "json"

// MaxMessageSize bounds a single request or response. A full block travels
// base64 encoded inside one message, so this must stay well above the block size.
const MaxMessageSize = 128 << 20

// MaxBlockSize is the largest block whose base64 form, plus a MiB of
// envelope, still fits in one message.
const MaxBlockSize = MaxMessageSize/4*3 - 1<<20

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
