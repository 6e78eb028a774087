package npy

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// tuple is a parsed Python tuple; lists parse to []any.
type tuple []any

// literalParser reads the subset of Python literal syntax that appears in
// NPY headers: dicts, lists, tuples, str, int, True, False and None.
type literalParser struct {
	src string
	pos int
}

func (p *literalParser) parse() (any, error) {
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing data")
	}
	return v, nil
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n", p.src[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) value() (any, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == '{':
		return p.dict()
	case c == '[':
		items, _, err := p.sequence('[', ']')
		return items, err
	case c == '(':
		items, trailingComma, err := p.sequence('(', ')')
		if err != nil {
			return nil, err
		}
		// (x) is just x; (x,) is a tuple
		if len(items) == 1 && !trailingComma {
			return items[0], nil
		}
		return tuple(items), nil
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.integer()
	case c == 0:
		return nil, p.errorf("unexpected end of input")
	default:
		return p.keyword()
	}
}

func (p *literalParser) dict() (any, error) {
	p.pos++ // {
	out := make(map[string]any)
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return out, nil
		}

		k, err := p.value()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, p.errorf("dict key %v is not a string", k)
		}

		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errorf("expected ':'")
		}
		p.pos++

		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = v

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, p.errorf("expected ',' or '}'")
		}
	}
}

func (p *literalParser) sequence(open, close byte) ([]any, bool, error) {
	p.pos++ // open
	var items []any
	trailingComma := false
	for {
		p.skipSpace()
		if p.peek() == close {
			p.pos++
			return items, trailingComma, nil
		}

		v, err := p.value()
		if err != nil {
			return nil, false, err
		}
		items = append(items, v)
		trailingComma = false

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			trailingComma = true
		case close:
		default:
			return nil, false, p.errorf("expected ',' or '%c'", close)
		}
	}
}

func (p *literalParser) str() (any, error) {
	q := p.src[p.pos]
	p.pos++

	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == q:
			p.pos++
			return b.String(), nil
		case c == '\\':
			if p.pos+1 >= len(p.src) {
				return nil, p.errorf("unterminated escape")
			}
			p.pos++
			switch e := p.src[p.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'x':
				if p.pos+2 >= len(p.src) {
					return nil, p.errorf("short \\x escape")
				}
				n, err := strconv.ParseUint(p.src[p.pos+1:p.pos+3], 16, 8)
				if err != nil {
					return nil, p.errorf("bad \\x escape")
				}
				b.WriteRune(rune(n))
				p.pos += 2
			default:
				b.WriteByte(e)
			}
			p.pos++
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
	return nil, p.errorf("unterminated string")
}

func (p *literalParser) integer() (any, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	text := p.src[start:p.pos]
	// Python 2 long suffix
	if p.peek() == 'L' {
		p.pos++
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, p.errorf("bad integer %q", text)
	}
	return n, nil
}

func (p *literalParser) keyword() (any, error) {
	for _, kw := range []struct {
		text  string
		value any
	}{{"True", true}, {"False", false}, {"None", nil}} {
		if strings.HasPrefix(p.src[p.pos:], kw.text) {
			p.pos += len(kw.text)
			return kw.value, nil
		}
	}
	return nil, p.errorf("unexpected character %q", p.peek())
}
