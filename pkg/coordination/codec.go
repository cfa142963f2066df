package coordination

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec is a google.golang.org/grpc encoding.Codec that marshals RPC
// messages as JSON instead of protobuf wire format. There is no protoc
// step in this tree (see DESIGN.md's note on dropping
// google.golang.org/protobuf as a direct dependency), so the Coordination
// Service client negotiates this codec via
// grpc.CallContentSubtype("json") on the client side; the
// server picks it up automatically once it's registered, since grpc-go
// resolves codecs from the shared encoding registry on both ends.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
