package codec

import (
	"reflect"

	"github.com/gotomicro/ekit/bean/option"
	"typedrpc/rpc/types"
)

const (
	DefaultMaxDepth = 64
	DefaultMaxSize  = 64 << 20
)

// Codec converts values to and from the wire format described by a
// types.Type. A Codec only holds limits, so one value can be shared by any
// number of goroutines.
type Codec struct {
	maxDepth int
	maxSize  int
}

// WithMaxDepth bounds the nesting of the type descriptors the codec accepts.
// n <= 0 removes the limit.
func WithMaxDepth(n int) option.Option[Codec] {
	return func(c *Codec) {
		c.maxDepth = n
	}
}

// WithMaxSize bounds the size of encoded output and decoded input.
// n <= 0 removes the limit.
func WithMaxSize(n int) option.Option[Codec] {
	return func(c *Codec) {
		c.maxSize = n
	}
}

func New(opts ...option.Option[Codec]) *Codec {
	c := &Codec{
		maxDepth: DefaultMaxDepth,
		maxSize:  DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCodec = New()

// Encode serializes val as typ using the default limits.
func Encode(val any, typ *types.Type) ([]byte, error) {
	return defaultCodec.Encode(val, typ)
}

// Decode deserializes data as typ into the default Go representation.
func Decode(data []byte, typ *types.Type) (any, error) {
	return defaultCodec.Decode(data, typ)
}

// DecodeInto deserializes data as typ into target, which must be a non-nil
// pointer.
func DecodeInto(data []byte, typ *types.Type, target any) error {
	return defaultCodec.DecodeInto(data, typ, target)
}

// Check reports whether val is well-formed for typ.
func Check(val any, typ *types.Type) error {
	return defaultCodec.Check(val, typ)
}

// Encode returns a freshly allocated encoding of val. The order of SET
// members and DICTIONARY entries follows map iteration and is not stable
// between calls; everything else is deterministic.
func (c *Codec) Encode(val any, typ *types.Type) ([]byte, error) {
	if err := typ.Validate(c.maxDepth); err != nil {
		return nil, err
	}
	res, err := encodeValue(make([]byte, 0, 16), reflect.ValueOf(val), typ, nil)
	if err != nil {
		return nil, err
	}
	if c.maxSize > 0 && len(res) > c.maxSize {
		return nil, malformed(nil, "encoded value is %d bytes, limit is %d", len(res), c.maxSize)
	}
	return res, nil
}

// Decode returns the value data holds, using []any for LIST and TUPLE,
// map[any]struct{} for SET, map[any]any for DICTIONARY and nil for a null
// CLASS reference. MESSAGE types need DecodeInto.
func (c *Codec) Decode(data []byte, typ *types.Type) (any, error) {
	var res any
	if err := c.DecodeInto(data, typ, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// DecodeInto decodes into the value target points to. The target's type is
// the shape hint: a typed slice, map, array, struct (for tuples) or scalar
// receives the value directly, an interface receives the default
// representation. target is left untouched when decoding fails.
func (c *Codec) DecodeInto(data []byte, typ *types.Type, target any) error {
	if err := typ.Validate(c.maxDepth); err != nil {
		return err
	}
	if c.maxSize > 0 && len(data) > c.maxSize {
		return malformed(nil, "input is %d bytes, limit is %d", len(data), c.maxSize)
	}
	dst := reflect.ValueOf(target)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return mismatch(nil, "decode target must be a non-nil pointer, got %T", target)
	}
	dst = dst.Elem()
	fresh := reflect.New(dst.Type()).Elem()
	if err := decodeValue(data, typ, fresh, nil); err != nil {
		return err
	}
	dst.Set(fresh)
	return nil
}

// Check walks val against typ without keeping the encoding.
func (c *Codec) Check(val any, typ *types.Type) error {
	_, err := c.Encode(val, typ)
	return err
}
