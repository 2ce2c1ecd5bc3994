package message

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"typedrpc/internal/errs"
)

// The call body follows the protobuf layout
//
//	message Arguments { repeated Argument arguments = 1; }
//	message Argument  { uint32 position = 1; bytes value = 2; }
//
// and remote errors follow
//
//	message Error { string service = 1; string name = 2; string description = 3; }
const (
	argumentsField protowire.Number = 1
	positionField  protowire.Number = 1
	valueField     protowire.Number = 2

	errServiceField     protowire.Number = 1
	errNameField        protowire.Number = 2
	errDescriptionField protowire.Number = 3
)

// Argument is one encoded call argument. Arguments left to their default
// value are not sent at all, so positions may have gaps.
type Argument struct {
	Position uint32
	Value    []byte
}

func EncodeArguments(args []Argument) []byte {
	var res, arg []byte
	for _, a := range args {
		arg = arg[:0]
		if a.Position != 0 {
			arg = protowire.AppendTag(arg, positionField, protowire.VarintType)
			arg = protowire.AppendVarint(arg, uint64(a.Position))
		}
		if len(a.Value) > 0 {
			arg = protowire.AppendTag(arg, valueField, protowire.BytesType)
			arg = protowire.AppendBytes(arg, a.Value)
		}
		res = protowire.AppendTag(res, argumentsField, protowire.BytesType)
		res = protowire.AppendBytes(res, arg)
	}
	return res
}

// DecodeArguments returns the arguments in wire order. Values alias data.
func DecodeArguments(data []byte) ([]Argument, error) {
	var res []Argument
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, field []byte, v uint64) error {
		if num != argumentsField {
			return nil
		}
		if typ != protowire.BytesType {
			return envelopeError("argument %d has wire type %d", len(res), typ)
		}
		arg, err := decodeArgument(field)
		if err != nil {
			return fmt.Errorf("argument %d: %w", len(res), err)
		}
		res = append(res, arg)
		return nil
	})
	return res, err
}

func decodeArgument(data []byte) (Argument, error) {
	var arg Argument
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, field []byte, v uint64) error {
		switch num {
		case positionField:
			if typ != protowire.VarintType {
				return envelopeError("position has wire type %d", typ)
			}
			if v > 1<<32-1 {
				return fmt.Errorf("%w: position %d", errs.ErrOverflow, v)
			}
			arg.Position = uint32(v)
		case valueField:
			if typ != protowire.BytesType {
				return envelopeError("value has wire type %d", typ)
			}
			arg.Value = field
		}
		return nil
	})
	return arg, err
}

// Error describes a failed call. Service and Name identify the error class on
// the server, Description is the message.
type Error struct {
	Service     string
	Name        string
	Description string
}

func EncodeError(e Error) []byte {
	var res []byte
	for _, f := range []struct {
		num protowire.Number
		val string
	}{
		{num: errServiceField, val: e.Service},
		{num: errNameField, val: e.Name},
		{num: errDescriptionField, val: e.Description},
	} {
		if f.val == "" {
			continue
		}
		res = protowire.AppendTag(res, f.num, protowire.BytesType)
		res = protowire.AppendString(res, f.val)
	}
	return res
}

func DecodeError(data []byte) (Error, error) {
	var e Error
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, field []byte, v uint64) error {
		var dst *string
		switch num {
		case errServiceField:
			dst = &e.Service
		case errNameField:
			dst = &e.Name
		case errDescriptionField:
			dst = &e.Description
		default:
			return nil
		}
		if typ != protowire.BytesType {
			return envelopeError("error field %d has wire type %d", num, typ)
		}
		*dst = string(field)
		return nil
	})
	return e, err
}

// consumeFields walks the top level fields of a protobuf message. Varint
// fields arrive in v, length-delimited ones in field, others are skipped.
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, field []byte, v uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return envelopeError("tag: %v", protowire.ParseError(n))
		}
		data = data[n:]
		var (
			field []byte
			v     uint64
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			field, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return envelopeError("field %d: %v", num, protowire.ParseError(n))
		}
		data = data[n:]
		if err := fn(num, typ, field, v); err != nil {
			return err
		}
	}
	return nil
}

func envelopeError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrMalformedInput, fmt.Sprintf(format, args...))
}
