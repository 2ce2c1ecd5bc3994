package types

import (
	"fmt"
	"strings"

	"typedrpc/internal/errs"
)

// Code identifies the wire shape of a Type. The numeric values match the
// type codes servers put in procedure signatures.
type Code int32

const (
	CodeNone        Code = 0
	CodeDouble      Code = 1
	CodeFloat       Code = 2
	CodeSint32      Code = 3
	CodeSint64      Code = 4
	CodeUint32      Code = 5
	CodeUint64      Code = 6
	CodeBool        Code = 7
	CodeString      Code = 8
	CodeBytes       Code = 9
	CodeClass       Code = 100
	CodeEnumeration Code = 101
	CodeMessage     Code = 200
	CodeTuple       Code = 300
	CodeList        Code = 301
	CodeSet         Code = 302
	CodeDictionary  Code = 303
)

var codeNames = map[Code]string{
	CodeNone:        "NONE",
	CodeDouble:      "DOUBLE",
	CodeFloat:       "FLOAT",
	CodeSint32:      "SINT32",
	CodeSint64:      "SINT64",
	CodeUint32:      "UINT32",
	CodeUint64:      "UINT64",
	CodeBool:        "BOOL",
	CodeString:      "STRING",
	CodeBytes:       "BYTES",
	CodeClass:       "CLASS",
	CodeEnumeration: "ENUMERATION",
	CodeMessage:     "MESSAGE",
	CodeTuple:       "TUPLE",
	CodeList:        "LIST",
	CodeSet:         "SET",
	CodeDictionary:  "DICTIONARY",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// Valid reports whether c is one of the known codes.
func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok
}

// IsComposite reports whether values of this code are built from child types.
func (c Code) IsComposite() bool {
	switch c {
	case CodeTuple, CodeList, CodeSet, CodeDictionary:
		return true
	}
	return false
}

// Type describes the wire shape of a value. Trees are built once, usually
// from a server's procedure signatures, and must not be mutated afterwards:
// the codec shares them between concurrent calls.
type Type struct {
	Code Code
	// Service and Name qualify CLASS, ENUMERATION and MESSAGE types.
	Service  string
	Name     string
	Children []*Type
}

func Create(code Code) *Type {
	return &Type{Code: code}
}

// CreateValue returns a scalar type.
func CreateValue(code Code) *Type {
	return &Type{Code: code}
}

func CreateClass(service, name string) *Type {
	return &Type{Code: CodeClass, Service: service, Name: name}
}

func CreateEnumeration(service, name string) *Type {
	return &Type{Code: CodeEnumeration, Service: service, Name: name}
}

func CreateMessage(name string) *Type {
	return &Type{Code: CodeMessage, Name: name}
}

func CreateList(elem *Type) *Type {
	return &Type{Code: CodeList, Children: []*Type{elem}}
}

func CreateSet(elem *Type) *Type {
	return &Type{Code: CodeSet, Children: []*Type{elem}}
}

func CreateTuple(elems ...*Type) *Type {
	return &Type{Code: CodeTuple, Children: elems}
}

func CreateDictionary(key, value *Type) *Type {
	return &Type{Code: CodeDictionary, Children: []*Type{key, value}}
}

// Depth is the number of levels in the tree; a scalar has depth 1.
func (t *Type) Depth() int {
	d := 0
	for _, c := range t.Children {
		if c == nil {
			continue
		}
		if cd := c.Depth(); cd > d {
			d = cd
		}
	}
	return d + 1
}

// Validate checks the arity of every composite in the tree. maxDepth <= 0
// disables the depth limit.
func (t *Type) Validate(maxDepth int) error {
	return t.validate("", 1, maxDepth)
}

func (t *Type) validate(path string, depth, maxDepth int) error {
	if t == nil {
		return schemaError(path, "nil type")
	}
	if maxDepth > 0 && depth > maxDepth {
		return schemaError(path, fmt.Sprintf("nesting deeper than %d", maxDepth))
	}
	if !t.Code.Valid() {
		return schemaError(path, fmt.Sprintf("unknown type code %d", int32(t.Code)))
	}
	n := len(t.Children)
	switch t.Code {
	case CodeList, CodeSet:
		if n != 1 {
			return schemaError(path, fmt.Sprintf("%s takes 1 child type, has %d", t.Code, n))
		}
	case CodeDictionary:
		if n != 2 {
			return schemaError(path, fmt.Sprintf("DICTIONARY takes 2 child types, has %d", n))
		}
	case CodeTuple:
		if n == 0 {
			return schemaError(path, "TUPLE needs at least 1 child type")
		}
	default:
		if n != 0 {
			return schemaError(path, fmt.Sprintf("%s takes no child types, has %d", t.Code, n))
		}
	}
	for i, c := range t.Children {
		if err := c.validate(fmt.Sprintf("%s[%d]", path, i), depth+1, maxDepth); err != nil {
			return err
		}
	}
	return nil
}

func schemaError(path, detail string) error {
	if path == "" {
		path = "type"
	}
	return fmt.Errorf("%w: %s: %s", errs.ErrSchemaMismatch, path, detail)
}

// Equal compares two trees structurally.
func (t *Type) Equal(other *Type) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Code != other.Code || t.Service != other.Service || t.Name != other.Name ||
		len(t.Children) != len(other.Children) {
		return false
	}
	for i := range t.Children {
		if !t.Children[i].Equal(other.Children[i]) {
			return false
		}
	}
	return true
}

// String renders the canonical expression accepted by Parse,
// e.g. DICTIONARY(STRING,LIST(FLOAT)).
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var sb strings.Builder
	t.write(&sb)
	return sb.String()
}

func (t *Type) write(sb *strings.Builder) {
	sb.WriteString(t.Code.String())
	switch t.Code {
	case CodeClass, CodeEnumeration:
		sb.WriteByte('(')
		if t.Service != "" {
			sb.WriteString(t.Service)
			sb.WriteByte('.')
		}
		sb.WriteString(t.Name)
		sb.WriteByte(')')
		return
	case CodeMessage:
		sb.WriteByte('(')
		sb.WriteString(t.Name)
		sb.WriteByte(')')
		return
	}
	if len(t.Children) == 0 {
		return
	}
	sb.WriteByte('(')
	for i, c := range t.Children {
		if i > 0 {
			sb.WriteByte(',')
		}
		if c == nil {
			sb.WriteString("<nil>")
			continue
		}
		c.write(sb)
	}
	sb.WriteByte(')')
}
