package codec

import (
	"reflect"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"typedrpc/rpc/types"
)

// Collections share one layout: every element is protobuf field 1 with the
// length-delimited wire type, so LIST(UINT32) [1] encodes as 0a 01 01.
// Dictionary entries carry the key as field 1 and the value as field 2.
const (
	itemField  protowire.Number = 1
	keyField   protowire.Number = 1
	valueField protowire.Number = 2
)

var marshalOptions = proto.MarshalOptions{Deterministic: true}

func encodeValue(b []byte, v reflect.Value, typ *types.Type, p *path) ([]byte, error) {
	for v.IsValid() && v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch typ.Code {
	case types.CodeNone:
		if v.IsValid() && !(v.Kind() == reflect.Pointer && v.IsNil()) {
			return nil, mismatch(p, "NONE takes no value, got %s", kindOf(v))
		}
		return b, nil
	case types.CodeMessage:
		return appendMessage(b, v, typ, p)
	}
	v = indirect(v)
	switch typ.Code {
	case types.CodeList:
		if !isSequence(v) {
			return nil, mismatch(p, "LIST needs a slice or array, got %s", kindOf(v))
		}
		return appendItems(b, v.Len(), func(i int) reflect.Value { return v.Index(i) },
			func(int) *types.Type { return typ.Children[0] }, p)
	case types.CodeTuple:
		return appendTuple(b, v, typ, p)
	case types.CodeSet:
		if !v.IsValid() || v.Kind() != reflect.Map {
			return nil, mismatch(p, "SET needs a map, got %s", kindOf(v))
		}
		members := setMembers(v)
		return appendItems(b, len(members), func(i int) reflect.Value { return members[i] },
			func(int) *types.Type { return typ.Children[0] }, p)
	case types.CodeDictionary:
		return appendDictionary(b, v, typ, p)
	default:
		return appendScalar(b, v, typ, p)
	}
}

// indirect follows interfaces and pointers. A nil pointer becomes the
// invalid Value, which only CLASS and NONE accept.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func isSequence(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}

func appendItems(b []byte, n int, item func(int) reflect.Value, child func(int) *types.Type, p *path) ([]byte, error) {
	for i := 0; i < n; i++ {
		elem, err := encodeValue(nil, item(i), child(i), p.elem(i))
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, itemField, protowire.BytesType)
		b = protowire.AppendBytes(b, elem)
	}
	return b, nil
}

func appendTuple(b []byte, v reflect.Value, typ *types.Type, p *path) ([]byte, error) {
	arity := len(typ.Children)
	child := func(i int) *types.Type { return typ.Children[i] }
	switch {
	case isSequence(v):
		if v.Len() != arity {
			return nil, mismatch(p, "%s needs %d values, got %d", typ, arity, v.Len())
		}
		return appendItems(b, arity, func(i int) reflect.Value { return v.Index(i) }, child, p)
	case v.IsValid() && v.Kind() == reflect.Struct:
		if err := checkTupleStruct(v.Type(), arity, p); err != nil {
			return nil, err
		}
		return appendItems(b, arity, func(i int) reflect.Value { return v.Field(i) }, child, p)
	}
	return nil, mismatch(p, "TUPLE needs a slice, array or struct, got %s", kindOf(v))
}

// checkTupleStruct accepts structs whose exported fields map one to one onto
// the tuple slots.
func checkTupleStruct(t reflect.Type, arity int, p *path) error {
	if t.NumField() != arity {
		return mismatch(p, "tuple of %d needs a struct with %d fields, %s has %d", arity, arity, t, t.NumField())
	}
	for i := 0; i < arity; i++ {
		if !t.Field(i).IsExported() {
			return mismatch(p, "tuple struct %s has unexported field %s", t, t.Field(i).Name)
		}
	}
	return nil
}

// setMembers returns the keys of a map used as a set. For map[K]bool only
// the keys mapped to true are members.
func setMembers(v reflect.Value) []reflect.Value {
	onlyTrue := v.Type().Elem().Kind() == reflect.Bool
	res := make([]reflect.Value, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		if onlyTrue && !iter.Value().Bool() {
			continue
		}
		res = append(res, iter.Key())
	}
	return res
}

func appendDictionary(b []byte, v reflect.Value, typ *types.Type, p *path) ([]byte, error) {
	if !v.IsValid() || v.Kind() != reflect.Map {
		return nil, mismatch(p, "DICTIONARY needs a map, got %s", kindOf(v))
	}
	keyType, valueType := typ.Children[0], typ.Children[1]
	iter := v.MapRange()
	var entry []byte
	for i := 0; iter.Next(); i++ {
		key, err := encodeValue(nil, iter.Key(), keyType, p.entry(i, "key"))
		if err != nil {
			return nil, err
		}
		value, err := encodeValue(nil, iter.Value(), valueType, p.entry(i, "value"))
		if err != nil {
			return nil, err
		}
		entry = entry[:0]
		// empty fields are left out, as proto3 does for bytes
		if len(key) > 0 {
			entry = protowire.AppendTag(entry, keyField, protowire.BytesType)
			entry = protowire.AppendBytes(entry, key)
		}
		if len(value) > 0 {
			entry = protowire.AppendTag(entry, valueField, protowire.BytesType)
			entry = protowire.AppendBytes(entry, value)
		}
		b = protowire.AppendTag(b, itemField, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

func appendMessage(b []byte, v reflect.Value, typ *types.Type, p *path) ([]byte, error) {
	if !v.IsValid() || !v.CanInterface() {
		return nil, mismatch(p, "%s needs a proto.Message, got %s", typ, kindOf(v))
	}
	msg, ok := v.Interface().(proto.Message)
	if !ok && v.CanAddr() {
		msg, ok = v.Addr().Interface().(proto.Message)
	}
	if !ok {
		return nil, mismatch(p, "%s needs a proto.Message, got %s", typ, kindOf(v))
	}
	if typ.Name != "" && string(msg.ProtoReflect().Descriptor().FullName()) != typ.Name {
		return nil, mismatch(p, "%s got message %s", typ, msg.ProtoReflect().Descriptor().FullName())
	}
	res, err := marshalOptions.MarshalAppend(b, msg)
	if err != nil {
		return nil, mismatch(p, "marshal %s: %v", typ, err)
	}
	return res, nil
}
