package serialize

import "typedrpc/rpc/types"

// Serializer -> serialization protocol abstract. Code is carried in every
// message header so the peer picks the same implementation.
type Serializer interface {
	Code() byte
	Encode(val any, typ *types.Type) ([]byte, error)
	Decode(data []byte, typ *types.Type, target any) error
}
