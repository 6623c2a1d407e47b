package handler

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of the CBOR codec.
const CodecName = "cbor"

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("handler: CBOR encoder initialization failed: " + err.Error())
	}
	encoding.RegisterCodec(Codec{})
}

// Codec carries the TicketLedger messages as CBOR instead of protobuf.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (Codec) Name() string {
	return CodecName
}
