package codec

import (
	"reflect"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"typedrpc/rpc/types"
)

var (
	anySliceType = reflect.TypeOf([]any(nil))
	anySetType   = reflect.TypeOf(map[any]struct{}(nil))
	anyMapType   = reflect.TypeOf(map[any]any(nil))
	float64Type  = reflect.TypeOf(float64(0))
	float32Type  = reflect.TypeOf(float32(0))
	int32Type    = reflect.TypeOf(int32(0))
	int64Type    = reflect.TypeOf(int64(0))
	uint32Type   = reflect.TypeOf(uint32(0))
	uint64Type   = reflect.TypeOf(uint64(0))
	boolType     = reflect.TypeOf(false)
	stringType   = reflect.TypeOf("")
	bytesType    = reflect.TypeOf([]byte(nil))
	messageType  = reflect.TypeOf((*proto.Message)(nil)).Elem()
)

var unmarshalOptions = proto.UnmarshalOptions{}

// defaultType is the Go type a value of typ decodes to when the target is
// an interface.
func defaultType(typ *types.Type) reflect.Type {
	switch typ.Code {
	case types.CodeDouble:
		return float64Type
	case types.CodeFloat:
		return float32Type
	case types.CodeSint32, types.CodeEnumeration:
		return int32Type
	case types.CodeSint64:
		return int64Type
	case types.CodeUint32:
		return uint32Type
	case types.CodeUint64:
		return uint64Type
	case types.CodeBool:
		return boolType
	case types.CodeString:
		return stringType
	case types.CodeBytes:
		return bytesType
	case types.CodeClass:
		return objectType
	case types.CodeList, types.CodeTuple:
		return anySliceType
	case types.CodeSet:
		return anySetType
	case types.CodeDictionary:
		return anyMapType
	}
	return nil
}

// decodeValue decodes data, which spans exactly one value of typ, into the
// settable dst.
func decodeValue(data []byte, typ *types.Type, dst reflect.Value, p *path) error {
	if typ.Code == types.CodeNone {
		if len(data) != 0 {
			return malformed(p, "NONE carries %d bytes", len(data))
		}
		return nil
	}
	switch dst.Kind() {
	case reflect.Interface:
		return decodeInterface(data, typ, dst, p)
	case reflect.Pointer:
		if typ.Code == types.CodeMessage {
			return decodeMessage(data, typ, dst, p)
		}
		if typ.Code == types.CodeClass {
			// a null reference leaves the pointer nil
			if id, n := protowire.ConsumeVarint(data); n == len(data) && id == 0 {
				return nil
			}
		}
		elem := reflect.New(dst.Type().Elem())
		if err := decodeValue(data, typ, elem.Elem(), p); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	switch typ.Code {
	case types.CodeMessage:
		if dst.CanAddr() && dst.Addr().Type().Implements(messageType) {
			return unmarshalMessage(data, typ, dst.Addr().Interface().(proto.Message), p)
		}
		return targetMismatch(typ, dst, p)
	case types.CodeList:
		return decodeList(data, typ, dst, p)
	case types.CodeTuple:
		return decodeTuple(data, typ, dst, p)
	case types.CodeSet:
		return decodeSet(data, typ, dst, p)
	case types.CodeDictionary:
		return decodeDictionary(data, typ, dst, p)
	default:
		return decodeScalar(data, typ, dst, p)
	}
}

func decodeInterface(data []byte, typ *types.Type, dst reflect.Value, p *path) error {
	if typ.Code == types.CodeMessage {
		return mismatch(p, "%s needs a typed proto.Message target", typ)
	}
	res := reflect.New(defaultType(typ)).Elem()
	if err := decodeValue(data, typ, res, p); err != nil {
		return err
	}
	if typ.Code == types.CodeClass && res.Uint() == 0 {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if !res.Type().AssignableTo(dst.Type()) {
		return targetMismatch(typ, dst, p)
	}
	dst.Set(res)
	return nil
}

func decodeMessage(data []byte, typ *types.Type, dst reflect.Value, p *path) error {
	if !dst.Type().Implements(messageType) {
		return targetMismatch(typ, dst, p)
	}
	msg := reflect.New(dst.Type().Elem())
	if err := unmarshalMessage(data, typ, msg.Interface().(proto.Message), p); err != nil {
		return err
	}
	dst.Set(msg)
	return nil
}

func unmarshalMessage(data []byte, typ *types.Type, msg proto.Message, p *path) error {
	if typ.Name != "" && string(msg.ProtoReflect().Descriptor().FullName()) != typ.Name {
		return mismatch(p, "cannot decode %s into message %s", typ, msg.ProtoReflect().Descriptor().FullName())
	}
	if err := unmarshalOptions.Unmarshal(data, msg); err != nil {
		return malformed(p, "%s: %v", typ, err)
	}
	return nil
}

// readItems splits a collection into its element blocks. The blocks alias
// data; callers copy whatever they keep.
func readItems(data []byte, p *path) ([][]byte, error) {
	var res [][]byte
	for len(data) > 0 {
		num, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, malformed(p.elem(len(res)), "tag: %v", protowire.ParseError(n))
		}
		data = data[n:]
		if num != itemField {
			// unknown fields are skipped, as protobuf parsers do
			n = protowire.ConsumeFieldValue(num, wireType, data)
			if n < 0 {
				return nil, malformed(p.elem(len(res)), "field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		if wireType != protowire.BytesType {
			return nil, malformed(p.elem(len(res)), "element has wire type %d, want length-delimited", wireType)
		}
		item, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, malformed(p.elem(len(res)), "element: %v", protowire.ParseError(n))
		}
		res = append(res, item)
		data = data[n:]
	}
	return res, nil
}

func decodeList(data []byte, typ *types.Type, dst reflect.Value, p *path) error {
	items, err := readItems(data, p)
	if err != nil {
		return err
	}
	return fillSequence(items, dst, func(int) *types.Type { return typ.Children[0] }, typ, p)
}

func decodeTuple(data []byte, typ *types.Type, dst reflect.Value, p *path) error {
	items, err := readItems(data, p)
	if err != nil {
		return err
	}
	arity := len(typ.Children)
	if len(items) != arity {
		return mismatch(p, "%s has %d values, got %d", typ, arity, len(items))
	}
	child := func(i int) *types.Type { return typ.Children[i] }
	if dst.Kind() == reflect.Struct {
		if err = checkTupleStruct(dst.Type(), arity, p); err != nil {
			return err
		}
		for i, item := range items {
			if err = decodeValue(item, child(i), dst.Field(i), p.elem(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return fillSequence(items, dst, child, typ, p)
}

// fillSequence decodes items into a fresh slice, or into an array of
// exactly the same length.
func fillSequence(items [][]byte, dst reflect.Value, child func(int) *types.Type, typ *types.Type, p *path) error {
	switch dst.Kind() {
	case reflect.Slice:
		res := reflect.MakeSlice(dst.Type(), len(items), len(items))
		for i, item := range items {
			if err := decodeValue(item, child(i), res.Index(i), p.elem(i)); err != nil {
				return err
			}
		}
		dst.Set(res)
	case reflect.Array:
		if dst.Len() != len(items) {
			return mismatch(p, "%d values do not fit %s", len(items), dst.Type())
		}
		for i, item := range items {
			if err := decodeValue(item, child(i), dst.Index(i), p.elem(i)); err != nil {
				return err
			}
		}
	default:
		return targetMismatch(typ, dst, p)
	}
	return nil
}

func decodeSet(data []byte, typ *types.Type, dst reflect.Value, p *path) error {
	if dst.Kind() != reflect.Map {
		return targetMismatch(typ, dst, p)
	}
	var member reflect.Value
	switch elem := dst.Type().Elem(); {
	case elem.Kind() == reflect.Bool:
		member = reflect.ValueOf(true).Convert(elem)
	case elem.Kind() == reflect.Struct && elem.NumField() == 0:
		member = reflect.Zero(elem)
	default:
		return mismatch(p, "SET target %s needs struct{} or bool values", dst.Type())
	}
	items, err := readItems(data, p)
	if err != nil {
		return err
	}
	res := reflect.MakeMapWithSize(dst.Type(), len(items))
	for i, item := range items {
		key, err := decodeKey(item, typ.Children[0], dst.Type().Key(), p.elem(i))
		if err != nil {
			return err
		}
		res.SetMapIndex(key, member)
	}
	dst.Set(res)
	return nil
}

func decodeDictionary(data []byte, typ *types.Type, dst reflect.Value, p *path) error {
	if dst.Kind() != reflect.Map {
		return targetMismatch(typ, dst, p)
	}
	items, err := readItems(data, p)
	if err != nil {
		return err
	}
	res := reflect.MakeMapWithSize(dst.Type(), len(items))
	for i, item := range items {
		keyData, valueData, err := readEntry(item, p.elem(i))
		if err != nil {
			return err
		}
		key, err := decodeKey(keyData, typ.Children[0], dst.Type().Key(), p.entry(i, "key"))
		if err != nil {
			return err
		}
		value := reflect.New(dst.Type().Elem()).Elem()
		if err = decodeValue(valueData, typ.Children[1], value, p.entry(i, "value")); err != nil {
			return err
		}
		// a repeated key overwrites the earlier entry
		res.SetMapIndex(key, value)
	}
	dst.Set(res)
	return nil
}

// readEntry returns the key and value blocks of a dictionary entry. A field
// that is absent decodes as an empty block.
func readEntry(data []byte, p *path) (key, value []byte, err error) {
	for len(data) > 0 {
		num, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, nil, malformed(p, "entry tag: %v", protowire.ParseError(n))
		}
		data = data[n:]
		if num != keyField && num != valueField {
			n = protowire.ConsumeFieldValue(num, wireType, data)
			if n < 0 {
				return nil, nil, malformed(p, "entry field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		if wireType != protowire.BytesType {
			return nil, nil, malformed(p, "entry field %d has wire type %d, want length-delimited", num, wireType)
		}
		field, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, nil, malformed(p, "entry field %d: %v", num, protowire.ParseError(n))
		}
		if num == keyField {
			key = field
		} else {
			value = field
		}
		data = data[n:]
	}
	return key, value, nil
}

// decodeKey decodes a SET member or DICTIONARY key of type keyType. Under
// an empty interface, LIST and TUPLE keys become [N]any arrays and BYTES
// keys become strings, so that they can index a map.
func decodeKey(data []byte, typ *types.Type, keyType reflect.Type, p *path) (reflect.Value, error) {
	key := reflect.New(keyType).Elem()
	if keyType.Kind() != reflect.Interface || keyType.NumMethod() != 0 {
		if err := decodeValue(data, typ, key, p); err != nil {
			return key, err
		}
		return key, checkHashable(key, p)
	}
	switch typ.Code {
	case types.CodeBytes:
		s := reflect.New(stringType).Elem()
		if err := decodeValue(data, typ, s, p); err != nil {
			return key, err
		}
		key.Set(s)
	case types.CodeList, types.CodeTuple:
		items, err := readItems(data, p)
		if err != nil {
			return key, err
		}
		if typ.Code == types.CodeTuple && len(items) != len(typ.Children) {
			return key, mismatch(p, "%s has %d values, got %d", typ, len(typ.Children), len(items))
		}
		arr := reflect.New(reflect.ArrayOf(len(items), keyType)).Elem()
		for i, item := range items {
			child := typ.Children[0]
			if typ.Code == types.CodeTuple {
				child = typ.Children[i]
			}
			elem, err := decodeKey(item, child, keyType, p.elem(i))
			if err != nil {
				return key, err
			}
			arr.Index(i).Set(elem)
		}
		key.Set(arr)
	default:
		if err := decodeValue(data, typ, key, p); err != nil {
			return key, err
		}
	}
	return key, checkHashable(key, p)
}

// checkHashable guards keys whose dynamic type cannot index a map, such as
// a SET decoded under an interface, which would make SetMapIndex panic.
func checkHashable(key reflect.Value, p *path) error {
	switch key.Kind() {
	case reflect.Interface:
		if key.IsNil() {
			return nil
		}
		return checkHashable(key.Elem(), p)
	case reflect.Array:
		for i := 0; i < key.Len(); i++ {
			if err := checkHashable(key.Index(i), p); err != nil {
				return err
			}
		}
		return nil
	}
	if !key.Type().Comparable() {
		return mismatch(p, "%s cannot be a map key", key.Type())
	}
	return nil
}
