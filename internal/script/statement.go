package script

import (
	"fmt"
	"strconv"
	"strings"
)

// Statement targets.
const (
	TargetSchema    = "schema"
	TargetTable     = "table"
	TargetMigration = "migration"
)

// Statement is a single method call, optionally assigned to the working
// table variable.
type Statement struct {
	// Assign is "table" when the result becomes the working table, and
	// empty otherwise.
	Assign string
	Target string
	Method string
	Args   []any
}

// Format renders the statement as a line of text.
func (s Statement) Format() (string, error) {
	var b strings.Builder
	if s.Assign != "" {
		b.WriteString(s.Assign)
		b.WriteString(" = ")
	}
	b.WriteString(s.Target)
	b.WriteByte('.')
	b.WriteString(s.Method)
	b.WriteByte('(')
	for i, arg := range s.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		lit, err := Literal(arg)
		if err != nil {
			return "", fmt.Errorf("%s.%s argument %d: %w", s.Target, s.Method, i, err)
		}
		b.WriteString(lit)
	}
	b.WriteByte(')')
	return b.String(), nil
}

// Format renders statements one per line.
func Format(stmts []Statement) (string, error) {
	var b strings.Builder
	for _, stmt := range stmts {
		line, err := stmt.Format()
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// ParseError describes malformed statement text.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse reads statements from text. Statements are separated by newlines or
// semicolons; "--" starts a comment that runs to the end of the line.
func Parse(text string) ([]Statement, error) {
	p := &parser{src: text, line: 1}
	var out []Statement
	for {
		p.skipSpace()
		if p.done() {
			return out, nil
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
}

type parser struct {
	src  string
	pos  int
	line int
}

func (p *parser) done() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

// skipSpace skips whitespace, semicolons and comments.
func (p *parser) skipSpace() {
	for !p.done() {
		switch c := p.peek(); {
		case c == '\n':
			p.line++
			p.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == ';':
			p.pos++
		case strings.HasPrefix(p.src[p.pos:], "--"):
			for !p.done() && p.peek() != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

// skipBlank skips spaces and tabs only, so that a statement cannot span
// lines outside of string literals.
func (p *parser) skipBlank() {
	for p.peek() == ' ' || p.peek() == '\t' {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	p.skipBlank()
	if p.peek() != c {
		if p.done() {
			return p.errorf("expected %q, found end of input", c)
		}
		return p.errorf("expected %q, found %q", c, p.peek())
	}
	p.pos++
	return nil
}

func (p *parser) ident() (string, error) {
	p.skipBlank()
	start := p.pos
	for !p.done() {
		c := p.peek()
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (p.pos > start && c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return "", p.errorf("expected identifier")
	}
	return p.src[start:p.pos], nil
}

func (p *parser) statement() (Statement, error) {
	var stmt Statement
	first, err := p.ident()
	if err != nil {
		return stmt, err
	}
	p.skipBlank()
	if p.peek() == '=' {
		p.pos++
		stmt.Assign = first
		if first, err = p.ident(); err != nil {
			return stmt, err
		}
	}
	stmt.Target = first
	if err := p.expect('.'); err != nil {
		return stmt, err
	}
	if stmt.Method, err = p.ident(); err != nil {
		return stmt, err
	}
	if err := p.expect('('); err != nil {
		return stmt, err
	}
	p.skipBlank()
	if p.peek() == ')' {
		p.pos++
		return stmt, nil
	}
	for {
		arg, err := p.literal()
		if err != nil {
			return stmt, err
		}
		stmt.Args = append(stmt.Args, arg)
		p.skipBlank()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return stmt, nil
		default:
			return stmt, p.errorf("expected ',' or ')' in arguments to %s.%s", stmt.Target, stmt.Method)
		}
	}
}

func (p *parser) literal() (any, error) {
	p.skipBlank()
	c := p.peek()
	switch {
	case c == '\'':
		return p.quoted()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	}
	word, err := p.ident()
	if err != nil {
		return nil, p.errorf("expected a literal")
	}
	switch word {
	case "null":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "decode":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		p.skipBlank()
		data, err := p.quoted()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		v, err := Decode(data)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		return v, nil
	}
	return nil, p.errorf("unknown literal %q", word)
}

func (p *parser) quoted() (string, error) {
	if p.peek() != '\'' {
		return "", p.errorf("expected a quoted string")
	}
	p.pos++
	var b strings.Builder
	for !p.done() {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.src) {
				return "", p.errorf("unterminated string")
			}
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
			continue
		case '\'':
			p.pos++
			return b.String(), nil
		case '\n':
			p.line++
		}
		b.WriteByte(c)
		p.pos++
	}
	return "", p.errorf("unterminated string")
}

func (p *parser) number() (any, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	for !p.done() {
		c := p.peek()
		exponentSign := (c == '-' || c == '+') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E')
		if (c < '0' || c > '9') && c != '.' && c != 'e' && c != 'E' && !exponentSign {
			break
		}
		p.pos++
	}
	text := p.src[start:p.pos]
	if strings.ContainsAny(text, ".eE") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", text)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, p.errorf("invalid number %q", text)
	}
	return n, nil
}
