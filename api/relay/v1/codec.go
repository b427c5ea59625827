// Package relayv1 is the request API of the relay: wire types, the gRPC service
// descriptor and a client. Messages travel as JSON through a registered gRPC codec,
// so both sides must select the "json" content subtype.
package relayv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype of every relay call.
const CodecName = "json"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("relayv1: decode %T: %w", v, err)
	}
	return nil
}

func (codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(codec{})
}
