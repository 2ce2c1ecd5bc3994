package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"typedrpc/rpc/codec"
	"typedrpc/rpc/types"
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// fromJSON turns a value decoded by a json.Decoder with UseNumber into the
// Go representation the codec expects for typ.
func fromJSON(raw any, typ *types.Type) (any, error) {
	switch typ.Code {
	case types.CodeNone:
		if raw != nil {
			return nil, fmt.Errorf("NONE takes null, got %v", raw)
		}
		return nil, nil
	case types.CodeDouble, types.CodeFloat:
		f, err := jsonFloat(raw)
		if err != nil {
			return nil, err
		}
		// the codec checks FLOAT range
		return f, nil
	case types.CodeSint32, types.CodeSint64, types.CodeEnumeration:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%s takes a number, got %T", typ.Code, raw)
		}
		return strconv.ParseInt(n.String(), 10, 64)
	case types.CodeUint32, types.CodeUint64:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%s takes a number, got %T", typ.Code, raw)
		}
		return strconv.ParseUint(n.String(), 10, 64)
	case types.CodeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("BOOL takes true or false, got %T", raw)
		}
		return b, nil
	case types.CodeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("STRING takes a string, got %T", raw)
		}
		return s, nil
	case types.CodeBytes:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("BYTES takes a base64 string, got %T", raw)
		}
		return base64.StdEncoding.DecodeString(s)
	case types.CodeClass:
		if raw == nil {
			return nil, nil
		}
		n, ok := raw.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%s takes an object id or null, got %T", typ, raw)
		}
		id, err := strconv.ParseUint(n.String(), 10, 64)
		return codec.Object(id), err
	case types.CodeList, types.CodeTuple:
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%s takes an array, got %T", typ.Code, raw)
		}
		if typ.Code == types.CodeTuple && len(items) != len(typ.Children) {
			return nil, fmt.Errorf("%s takes %d values, got %d", typ, len(typ.Children), len(items))
		}
		res := make([]any, len(items))
		for i, item := range items {
			child := typ.Children[0]
			if typ.Code == types.CodeTuple {
				child = typ.Children[i]
			}
			v, err := fromJSON(item, child)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			res[i] = v
		}
		return res, nil
	case types.CodeSet:
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("SET takes an array, got %T", raw)
		}
		res := make(map[any]struct{}, len(items))
		for i, item := range items {
			v, err := fromJSON(item, typ.Children[0])
			if err == nil {
				v, err = asKey(v, typ.Children[0])
			}
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			res[v] = struct{}{}
		}
		return res, nil
	case types.CodeDictionary:
		return dictionaryFromJSON(raw, typ)
	}
	return nil, fmt.Errorf("%s values cannot be written as JSON", typ)
}

// dictionaryFromJSON accepts an object, whose keys are parsed as the key
// type, or an array of [key, value] pairs.
func dictionaryFromJSON(raw any, typ *types.Type) (any, error) {
	keyType, valueType := typ.Children[0], typ.Children[1]
	res := make(map[any]any)
	switch entries := raw.(type) {
	case map[string]any:
		for k, rawValue := range entries {
			key, err := keyFromString(k, keyType)
			if err == nil {
				key, err = asKey(key, keyType)
			}
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			value, err := fromJSON(rawValue, valueType)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			res[key] = value
		}
	case []any:
		for i, entry := range entries {
			pair, ok := entry.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("[%d]: entries are [key, value] pairs", i)
			}
			key, err := fromJSON(pair[0], keyType)
			if err == nil {
				key, err = asKey(key, keyType)
			}
			if err != nil {
				return nil, fmt.Errorf("[%d].key: %w", i, err)
			}
			value, err := fromJSON(pair[1], valueType)
			if err != nil {
				return nil, fmt.Errorf("[%d].value: %w", i, err)
			}
			res[key] = value
		}
	default:
		return nil, fmt.Errorf("DICTIONARY takes an object or an array of pairs, got %T", raw)
	}
	return res, nil
}

// asKey gives a value the shape the codec uses for keys: [N]any for LIST
// and TUPLE, string for BYTES.
func asKey(v any, typ *types.Type) (any, error) {
	switch typ.Code {
	case types.CodeBytes:
		return string(v.([]byte)), nil
	case types.CodeList, types.CodeTuple:
		items := v.([]any)
		arr := reflect.New(reflect.ArrayOf(len(items), anyType)).Elem()
		for i, item := range items {
			child := typ.Children[0]
			if typ.Code == types.CodeTuple {
				child = typ.Children[i]
			}
			k, err := asKey(item, child)
			if err != nil {
				return nil, err
			}
			if k != nil {
				arr.Index(i).Set(reflect.ValueOf(k))
			}
		}
		return arr.Interface(), nil
	case types.CodeSet, types.CodeDictionary:
		return nil, fmt.Errorf("%s cannot be a key", typ)
	}
	return v, nil
}

func keyFromString(s string, typ *types.Type) (any, error) {
	if typ.Code == types.CodeString {
		return s, nil
	}
	var raw any
	switch typ.Code {
	case types.CodeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		raw = json.Number(s)
	}
	return fromJSON(raw, typ)
}

func jsonFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Float64()
	case string:
		// JSON has no literals for these
		switch v {
		case "NaN":
			return math.NaN(), nil
		case "Infinity", "+Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("floating point types take a number, got %v", raw)
}

// toJSON turns a decoded value into something encoding/json renders
// faithfully. Sets become sorted arrays; dictionaries become objects when
// keyed by STRING and sorted [key, value] arrays otherwise.
func toJSON(v any, typ *types.Type) any {
	switch typ.Code {
	case types.CodeDouble, types.CodeFloat:
		var f float64
		switch n := v.(type) {
		case float32:
			f = float64(n)
		case float64:
			f = n
		}
		switch {
		case math.IsNaN(f):
			return "NaN"
		case math.IsInf(f, 1):
			return "Infinity"
		case math.IsInf(f, -1):
			return "-Infinity"
		}
		return v
	case types.CodeClass:
		if v == nil {
			return nil
		}
		return uint64(v.(codec.Object))
	case types.CodeBytes:
		// keys hold BYTES as strings; json writes []byte as base64
		if s, ok := v.(string); ok {
			return []byte(s)
		}
		return v
	case types.CodeList, types.CodeTuple:
		// slices for values, arrays for keys
		items := reflect.ValueOf(v)
		res := make([]any, items.Len())
		for i := range res {
			child := typ.Children[0]
			if typ.Code == types.CodeTuple {
				child = typ.Children[i]
			}
			res[i] = toJSON(items.Index(i).Interface(), child)
		}
		return res
	case types.CodeSet:
		members := v.(map[any]struct{})
		keys := make([]any, 0, len(members))
		for k := range members {
			keys = append(keys, k)
		}
		sortScalars(keys)
		res := make([]any, len(keys))
		for i, k := range keys {
			res[i] = toJSON(k, typ.Children[0])
		}
		return res
	case types.CodeDictionary:
		entries := v.(map[any]any)
		if typ.Children[0].Code == types.CodeString {
			res := make(map[string]any, len(entries))
			for k, value := range entries {
				res[k.(string)] = toJSON(value, typ.Children[1])
			}
			return res
		}
		keys := make([]any, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sortScalars(keys)
		res := make([]any, len(keys))
		for i, k := range keys {
			res[i] = []any{toJSON(k, typ.Children[0]), toJSON(entries[k], typ.Children[1])}
		}
		return res
	}
	return v
}

// sortScalars orders the keys of a set or dictionary. All keys share one
// type; arrays fall back to their printed form.
func sortScalars(keys []any) {
	sort.Slice(keys, func(i, j int) bool {
		switch a := keys[i].(type) {
		case int32:
			return a < keys[j].(int32)
		case int64:
			return a < keys[j].(int64)
		case uint32:
			return a < keys[j].(uint32)
		case uint64:
			return a < keys[j].(uint64)
		case float32:
			return a < keys[j].(float32)
		case float64:
			return a < keys[j].(float64)
		case string:
			return a < keys[j].(string)
		case bool:
			return !a && keys[j].(bool)
		case codec.Object:
			// a null reference sorts first
			b, ok := keys[j].(codec.Object)
			return ok && a < b
		case nil:
			return keys[j] != nil
		}
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
}
