package cbor

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"typedrpc/internal/errs"
	"typedrpc/rpc/codec"
	"typedrpc/rpc/serialize"
	"typedrpc/rpc/types"
)

var _ serialize.Serializer = Serializer{}

// objectTag marks CLASS references on the wire.
const objectTag = 65100

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	tags := cbor.NewTagSet()
	err := tags.Add(cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired},
		reflect.TypeOf(codec.Object(0)), objectTag)
	if err != nil {
		panic("cbor: registering object tag failed: " + err.Error())
	}
	// sorted map keys, so equal values always produce equal bytes
	encMode, err = cbor.CoreDetEncOptions().EncModeWithTags(tags)
	if err != nil {
		panic("cbor: encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecModeWithTags(tags)
	if err != nil {
		panic("cbor: decoder initialization failed: " + err.Error())
	}
}

// Serializer -> CBOR on the wire, shape still checked against the descriptor.
// Handy when the other side is a tool rather than a server. Sets travel as
// arrays of members and dictionaries as arrays of [key, value] pairs, both
// sorted by encoded bytes, so keys of any shape survive. Decoded values have
// the same Go types the typed codec produces. MESSAGE types are not
// supported.
type Serializer struct{}

func (s Serializer) Code() byte {
	return 2
}

func (s Serializer) Encode(val any, typ *types.Type) ([]byte, error) {
	if err := supported(typ); err != nil {
		return nil, err
	}
	// a pass through the codec checks the value and gives it the default
	// representation, whose concrete types toWire knows
	data, err := codec.Encode(val, typ)
	if err != nil {
		return nil, err
	}
	normalized, err := codec.Decode(data, typ)
	if err != nil {
		return nil, err
	}
	wire, err := toWire(normalized, typ)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(wire)
}

func (s Serializer) Decode(data []byte, typ *types.Type, target any) error {
	if err := supported(typ); err != nil {
		return err
	}
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrMalformedInput, err)
	}
	val, err := fromWire(raw, typ, false)
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(val, typ)
	if err != nil {
		return err
	}
	return codec.DecodeInto(encoded, typ, target)
}

// toWire replaces sets and dictionaries in a default-representation value
// with sorted arrays.
func toWire(v any, typ *types.Type) (any, error) {
	switch typ.Code {
	case types.CodeList, types.CodeTuple:
		if v == nil {
			return []any{}, nil
		}
		rv := reflect.ValueOf(v)
		res := make([]any, rv.Len())
		for i := range res {
			child := typ.Children[0]
			if typ.Code == types.CodeTuple {
				child = typ.Children[i]
			}
			item, err := toWire(rv.Index(i).Interface(), child)
			if err != nil {
				return nil, err
			}
			res[i] = item
		}
		return res, nil
	case types.CodeSet:
		members := v.(map[any]struct{})
		res := make([]cbor.RawMessage, 0, len(members))
		for m := range members {
			raw, err := marshalWire(m, typ.Children[0])
			if err != nil {
				return nil, err
			}
			res = append(res, raw)
		}
		sortRaw(res)
		return res, nil
	case types.CodeDictionary:
		entries := v.(map[any]any)
		res := make([]cbor.RawMessage, 0, len(entries))
		for k, value := range entries {
			key, err := toWire(k, typ.Children[0])
			if err != nil {
				return nil, err
			}
			value, err = toWire(value, typ.Children[1])
			if err != nil {
				return nil, err
			}
			raw, err := encMode.Marshal([]any{key, value})
			if err != nil {
				return nil, err
			}
			res = append(res, raw)
		}
		sortRaw(res)
		return res, nil
	case types.CodeBytes:
		// keys hold BYTES as strings
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	}
	return v, nil
}

func marshalWire(v any, typ *types.Type) (cbor.RawMessage, error) {
	w, err := toWire(v, typ)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(w)
}

func sortRaw(items []cbor.RawMessage) {
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i], items[j]) < 0
	})
}

// fromWire rebuilds sets and dictionaries from their arrays. Keys take the
// shapes the codec uses for keys under an interface: [N]any for LIST and
// TUPLE, string for BYTES. Scalars are left to the codec to convert.
func fromWire(raw any, typ *types.Type, key bool) (any, error) {
	switch typ.Code {
	case types.CodeClass:
		switch r := raw.(type) {
		case nil, codec.Object:
			return r, nil
		case uint64:
			return codec.Object(r), nil
		case cbor.Tag:
			if id, ok := r.Content.(uint64); ok && r.Number == objectTag {
				return codec.Object(id), nil
			}
		}
		return nil, wireMismatch(typ, raw)
	case types.CodeBytes:
		bs, ok := raw.([]byte)
		if !ok {
			return nil, wireMismatch(typ, raw)
		}
		if key {
			return string(bs), nil
		}
		return bs, nil
	case types.CodeList, types.CodeTuple:
		items, ok := raw.([]any)
		if !ok {
			return nil, wireMismatch(typ, raw)
		}
		if typ.Code == types.CodeTuple && len(items) != len(typ.Children) {
			return nil, fmt.Errorf("%w: %s has %d values, got %d", errs.ErrSchemaMismatch, typ, len(typ.Children), len(items))
		}
		res := make([]any, len(items))
		for i, item := range items {
			child := typ.Children[0]
			if typ.Code == types.CodeTuple {
				child = typ.Children[i]
			}
			v, err := fromWire(item, child, key)
			if err != nil {
				return nil, err
			}
			res[i] = v
		}
		if !key {
			return res, nil
		}
		arr := reflect.New(reflect.ArrayOf(len(res), reflect.TypeOf((*any)(nil)).Elem())).Elem()
		for i, v := range res {
			if v != nil {
				arr.Index(i).Set(reflect.ValueOf(v))
			}
		}
		return arr.Interface(), nil
	case types.CodeSet, types.CodeDictionary:
		if key {
			return nil, fmt.Errorf("%w: %s cannot be a key", errs.ErrSchemaMismatch, typ)
		}
		items, ok := raw.([]any)
		if !ok {
			return nil, wireMismatch(typ, raw)
		}
		if typ.Code == types.CodeSet {
			res := make(map[any]struct{}, len(items))
			for _, item := range items {
				m, err := fromWire(item, typ.Children[0], true)
				if err != nil {
					return nil, err
				}
				if !hashable(m) {
					return nil, wireMismatch(typ.Children[0], m)
				}
				res[m] = struct{}{}
			}
			return res, nil
		}
		res := make(map[any]any, len(items))
		for _, item := range items {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("%w: DICTIONARY entries are [key, value] pairs", errs.ErrSchemaMismatch)
			}
			k, err := fromWire(pair[0], typ.Children[0], true)
			if err != nil {
				return nil, err
			}
			if !hashable(k) {
				return nil, wireMismatch(typ.Children[0], k)
			}
			v, err := fromWire(pair[1], typ.Children[1], false)
			if err != nil {
				return nil, err
			}
			res[k] = v
		}
		return res, nil
	}
	return raw, nil
}

func hashable(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if !hashable(rv.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	return rv.Type().Comparable()
}

func wireMismatch(typ *types.Type, raw any) error {
	return fmt.Errorf("%w: %s cannot be read from %T", errs.ErrSchemaMismatch, typ, raw)
}

func supported(typ *types.Type) error {
	if typ == nil {
		return nil
	}
	if typ.Code == types.CodeMessage {
		return fmt.Errorf("%w: cbor serializer cannot carry %s", errs.ErrSchemaMismatch, typ)
	}
	for _, c := range typ.Children {
		if err := supported(c); err != nil {
			return err
		}
	}
	return nil
}
