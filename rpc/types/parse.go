package types

import (
	"fmt"
	"strings"
	"unicode"

	"typedrpc/internal/errs"
)

var codesByName = func() map[string]Code {
	res := make(map[string]Code, len(codeNames))
	for code, name := range codeNames {
		res[name] = code
	}
	// short forms people tend to type
	res["DICT"] = CodeDictionary
	res["ENUM"] = CodeEnumeration
	res["INT32"] = CodeSint32
	res["INT64"] = CodeSint64
	return res
}()

// maxParseDepth bounds the nesting Parse follows before giving up.
const maxParseDepth = 256

// Parse reads a type expression in the form produced by Type.String.
// Names are case-insensitive and whitespace is ignored.
func Parse(expr string) (*Type, error) {
	p := &parser{src: expr}
	t, err := p.parseType(1)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	if err = t.Validate(0); err != nil {
		return nil, err
	}
	return t, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) parseType(depth int) (*Type, error) {
	if depth > maxParseDepth {
		return nil, p.errorf("nesting deeper than %d", maxParseDepth)
	}
	p.skipSpace()
	name := p.ident()
	if name == "" {
		return nil, p.errorf("expected a type name")
	}
	code, ok := codesByName[strings.ToUpper(name)]
	if !ok {
		return nil, p.errorf("unknown type %q", name)
	}
	t := &Type{Code: code}
	p.skipSpace()
	if !p.consume('(') {
		return t, nil
	}
	switch code {
	case CodeClass, CodeEnumeration, CodeMessage:
		qualified := p.qualifiedName()
		if qualified == "" {
			return nil, p.errorf("expected a %s name", code)
		}
		if i := strings.LastIndexByte(qualified, '.'); i >= 0 && code != CodeMessage {
			t.Service, t.Name = qualified[:i], qualified[i+1:]
		} else {
			t.Name = qualified
		}
		p.skipSpace()
		if !p.consume(')') {
			return nil, p.errorf("expected ')'")
		}
		return t, nil
	}
	for {
		child, err := p.parseType(depth + 1)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, child)
		p.skipSpace()
		if p.consume(',') {
			continue
		}
		if p.consume(')') {
			return t, nil
		}
		return nil, p.errorf("expected ',' or ')'")
	}
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		r := rune(p.src[p.pos])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) qualifiedName() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		r := rune(p.src[p.pos])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) consume(b byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == b {
		p.pos++
		return true
	}
	return false
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: parse %q at %d: %s", errs.ErrSchemaMismatch, p.src, p.pos, fmt.Sprintf(format, args...))
}
