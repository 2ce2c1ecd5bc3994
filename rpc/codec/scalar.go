package codec

import (
	"encoding/binary"
	"math"
	"reflect"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
	"typedrpc/rpc/types"
)

// Object references a remote object by id. Id 0 is the null reference and
// decodes to nil when the target is an interface.
type Object uint64

var objectType = reflect.TypeOf(Object(0))

func appendScalar(b []byte, v reflect.Value, typ *types.Type, p *path) ([]byte, error) {
	switch typ.Code {
	case types.CodeDouble:
		f, err := floatOf(v, p)
		if err != nil {
			return nil, err
		}
		return protowire.AppendFixed64(b, math.Float64bits(f)), nil
	case types.CodeFloat:
		f, err := floatOf(v, p)
		if err != nil {
			return nil, err
		}
		if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return nil, mismatch(p, "%v does not fit FLOAT", f)
		}
		return protowire.AppendFixed32(b, math.Float32bits(float32(f))), nil
	case types.CodeSint32, types.CodeEnumeration:
		i, err := intOf(v, math.MinInt32, math.MaxInt32, typ, p)
		if err != nil {
			return nil, err
		}
		return protowire.AppendVarint(b, protowire.EncodeZigZag(i)), nil
	case types.CodeSint64:
		i, err := intOf(v, math.MinInt64, math.MaxInt64, typ, p)
		if err != nil {
			return nil, err
		}
		return protowire.AppendVarint(b, protowire.EncodeZigZag(i)), nil
	case types.CodeUint32:
		u, err := uintOf(v, math.MaxUint32, typ, p)
		if err != nil {
			return nil, err
		}
		return protowire.AppendVarint(b, u), nil
	case types.CodeUint64:
		u, err := uintOf(v, math.MaxUint64, typ, p)
		if err != nil {
			return nil, err
		}
		return protowire.AppendVarint(b, u), nil
	case types.CodeBool:
		if !v.IsValid() || v.Kind() != reflect.Bool {
			return nil, mismatch(p, "BOOL needs a bool, got %s", kindOf(v))
		}
		return protowire.AppendVarint(b, protowire.EncodeBool(v.Bool())), nil
	case types.CodeString:
		if !v.IsValid() || v.Kind() != reflect.String {
			return nil, mismatch(p, "STRING needs a string, got %s", kindOf(v))
		}
		s := v.String()
		if !utf8.ValidString(s) {
			return nil, mismatch(p, "STRING is not valid UTF-8")
		}
		return protowire.AppendString(b, s), nil
	case types.CodeBytes:
		bs, ok := bytesOf(v)
		if !ok {
			return nil, mismatch(p, "BYTES needs a []byte, got %s", kindOf(v))
		}
		return protowire.AppendBytes(b, bs), nil
	case types.CodeClass:
		if !v.IsValid() {
			return protowire.AppendVarint(b, 0), nil
		}
		if v.Type() != objectType {
			return nil, mismatch(p, "%s needs a codec.Object, got %s", typ, kindOf(v))
		}
		return protowire.AppendVarint(b, v.Uint()), nil
	}
	return nil, mismatch(p, "%s is not a scalar type", typ.Code)
}

// bytesOf accepts byte slices, byte arrays and strings. The last two are
// how BYTES values appear as map keys.
func bytesOf(v reflect.Value) ([]byte, bool) {
	if !v.IsValid() {
		return nil, false
	}
	switch {
	case v.Kind() == reflect.String:
		return []byte(v.String()), true
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		return v.Bytes(), true
	case v.Kind() == reflect.Array && v.Type().Elem().Kind() == reflect.Uint8:
		bs := make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(bs), v)
		return bs, true
	}
	return nil, false
}

func floatOf(v reflect.Value, p *path) (float64, error) {
	if v.IsValid() {
		switch v.Kind() {
		case reflect.Float32, reflect.Float64:
			return v.Float(), nil
		}
	}
	return 0, mismatch(p, "floating point type needs a float, got %s", kindOf(v))
}

func intOf(v reflect.Value, min, max int64, typ *types.Type, p *path) (int64, error) {
	if v.IsValid() {
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i := v.Int()
			if i < min || i > max {
				return 0, mismatch(p, "%d does not fit %s", i, typ.Code)
			}
			return i, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := v.Uint()
			if u > uint64(max) {
				return 0, mismatch(p, "%d does not fit %s", u, typ.Code)
			}
			return int64(u), nil
		}
	}
	return 0, mismatch(p, "%s needs an integer, got %s", typ.Code, kindOf(v))
}

func uintOf(v reflect.Value, max uint64, typ *types.Type, p *path) (uint64, error) {
	if v.IsValid() {
		switch v.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := v.Uint()
			if u > max {
				return 0, mismatch(p, "%d does not fit %s", u, typ.Code)
			}
			return u, nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i := v.Int()
			if i < 0 || uint64(i) > max {
				return 0, mismatch(p, "%d does not fit %s", i, typ.Code)
			}
			return uint64(i), nil
		}
	}
	return 0, mismatch(p, "%s needs an unsigned integer, got %s", typ.Code, kindOf(v))
}

func kindOf(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	return v.Type().String()
}

// decodeScalar decodes a scalar that must span all of data into dst, which
// is settable and not an interface or pointer.
func decodeScalar(data []byte, typ *types.Type, dst reflect.Value, p *path) error {
	var n int
	switch typ.Code {
	case types.CodeDouble, types.CodeFloat:
		var f float64
		if typ.Code == types.CodeDouble {
			var bits uint64
			bits, n = protowire.ConsumeFixed64(data)
			f = math.Float64frombits(bits)
		} else {
			var bits uint32
			bits, n = protowire.ConsumeFixed32(data)
			f = float64(math.Float32frombits(bits))
		}
		if n < 0 {
			return malformed(p, "%s: %v", typ.Code, protowire.ParseError(n))
		}
		switch dst.Kind() {
		case reflect.Float32, reflect.Float64:
			if dst.OverflowFloat(f) && !math.IsInf(f, 0) {
				return overflow(p, "%v overflows %s", f, dst.Type())
			}
			dst.SetFloat(f)
		default:
			return targetMismatch(typ, dst, p)
		}
	case types.CodeSint32, types.CodeSint64, types.CodeEnumeration:
		var raw uint64
		raw, n = protowire.ConsumeVarint(data)
		if n < 0 {
			return varintError(typ, data, n, p)
		}
		var i int64
		if typ.Code == types.CodeSint64 {
			i = protowire.DecodeZigZag(raw)
		} else {
			if raw > math.MaxUint32 {
				return overflow(p, "varint %d overflows %s", raw, typ.Code)
			}
			i = protowire.DecodeZigZag(raw)
		}
		if err := setInt(dst, i, typ, p); err != nil {
			return err
		}
	case types.CodeUint32, types.CodeUint64:
		var u uint64
		u, n = protowire.ConsumeVarint(data)
		if n < 0 {
			return varintError(typ, data, n, p)
		}
		if typ.Code == types.CodeUint32 && u > math.MaxUint32 {
			return overflow(p, "varint %d overflows UINT32", u)
		}
		if err := setUint(dst, u, typ, p); err != nil {
			return err
		}
	case types.CodeBool:
		var raw uint64
		raw, n = protowire.ConsumeVarint(data)
		if n < 0 {
			return varintError(typ, data, n, p)
		}
		if dst.Kind() != reflect.Bool {
			return targetMismatch(typ, dst, p)
		}
		dst.SetBool(protowire.DecodeBool(raw))
	case types.CodeString:
		var s []byte
		s, n = protowire.ConsumeBytes(data)
		if n < 0 {
			return malformed(p, "STRING: %v", protowire.ParseError(n))
		}
		if !utf8.Valid(s) {
			return malformed(p, "STRING is not valid UTF-8")
		}
		if dst.Kind() != reflect.String {
			return targetMismatch(typ, dst, p)
		}
		dst.SetString(string(s))
	case types.CodeBytes:
		var bs []byte
		bs, n = protowire.ConsumeBytes(data)
		if n < 0 {
			return malformed(p, "BYTES: %v", protowire.ParseError(n))
		}
		switch {
		case dst.Kind() == reflect.String:
			dst.SetString(string(bs))
		case dst.Kind() == reflect.Slice && dst.Type().Elem().Kind() == reflect.Uint8:
			cp := reflect.MakeSlice(dst.Type(), len(bs), len(bs))
			reflect.Copy(cp, reflect.ValueOf(bs))
			dst.Set(cp)
		case dst.Kind() == reflect.Array && dst.Type().Elem().Kind() == reflect.Uint8:
			if dst.Len() != len(bs) {
				return mismatch(p, "%d bytes do not fit %s", len(bs), dst.Type())
			}
			reflect.Copy(dst, reflect.ValueOf(bs))
		default:
			return targetMismatch(typ, dst, p)
		}
	case types.CodeClass:
		var id uint64
		id, n = protowire.ConsumeVarint(data)
		if n < 0 {
			return varintError(typ, data, n, p)
		}
		switch dst.Kind() {
		case reflect.Uint64, reflect.Uint:
			dst.SetUint(id)
		default:
			return targetMismatch(typ, dst, p)
		}
	default:
		return mismatch(p, "%s is not a scalar type", typ.Code)
	}
	if n != len(data) {
		return malformed(p, "%d trailing bytes after %s", len(data)-n, typ.Code)
	}
	return nil
}

// varintError tells a truncated varint from one that runs past ten bytes
// or past 64 bits.
func varintError(typ *types.Type, data []byte, n int, p *path) error {
	err := protowire.ParseError(n)
	if len(data) >= binary.MaxVarintLen64 {
		return overflow(p, "%s: %v", typ.Code, err)
	}
	return malformed(p, "%s: %v", typ.Code, err)
}

func setInt(dst reflect.Value, i int64, typ *types.Type, p *path) error {
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if dst.OverflowInt(i) {
			return overflow(p, "%d overflows %s", i, dst.Type())
		}
		dst.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if i < 0 || dst.OverflowUint(uint64(i)) {
			return overflow(p, "%d overflows %s", i, dst.Type())
		}
		dst.SetUint(uint64(i))
	default:
		return targetMismatch(typ, dst, p)
	}
	return nil
}

func setUint(dst reflect.Value, u uint64, typ *types.Type, p *path) error {
	switch dst.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if dst.OverflowUint(u) {
			return overflow(p, "%d overflows %s", u, dst.Type())
		}
		dst.SetUint(u)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if u > math.MaxInt64 || dst.OverflowInt(int64(u)) {
			return overflow(p, "%d overflows %s", u, dst.Type())
		}
		dst.SetInt(int64(u))
	default:
		return targetMismatch(typ, dst, p)
	}
	return nil
}

func targetMismatch(typ *types.Type, dst reflect.Value, p *path) error {
	return mismatch(p, "cannot decode %s into %s", typ, dst.Type())
}
