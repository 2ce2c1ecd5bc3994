package typed

import (
	"typedrpc/rpc/codec"
	"typedrpc/rpc/serialize"
	"typedrpc/rpc/types"
)

var _ serialize.Serializer = Serializer{}

// Serializer -> descriptor driven wire format, the one servers speak
type Serializer struct {
	// Codec overrides the default limits when set.
	Codec *codec.Codec
}

func (s Serializer) Code() byte {
	return 1
}

func (s Serializer) Encode(val any, typ *types.Type) ([]byte, error) {
	return s.codec().Encode(val, typ)
}

func (s Serializer) Decode(data []byte, typ *types.Type, target any) error {
	return s.codec().DecodeInto(data, typ, target)
}

func (s Serializer) codec() *codec.Codec {
	if s.Codec != nil {
		return s.Codec
	}
	return defaultCodec
}

var defaultCodec = codec.New()
