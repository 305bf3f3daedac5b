package formula

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SyntaxError reports a malformed formula.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("relvar: formula syntax error at offset %d: %s", e.Offset, e.Msg)
}

// Parse parses a formula.
func Parse(src string) (Expr, error) {
	p := &parser{lex: lexer{src: src}}
	p.next()
	var (
		x   Expr
		err error
	)
	if p.isKeyword("select") || p.isKeyword("flatten") {
		x, err = p.query()
	} else {
		x, err = p.expr()
	}
	if err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %s", p.tok)
	}
	return x, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) Expr {
	x, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return x
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokParam
	tokPunct
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return "string literal"
	default:
		return strconv.Quote(t.text)
	}
}

type lexer struct {
	src string
	pos int
}

var punct = []string{"!=", "<>", "<=", ">=", "||", "(", ")", ",", ".", "=", "<", ">", "~", "+", "-", "*", "/"}

func (l *lexer) scan() (token, error) {
	for l.pos < len(l.src) {
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += w
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	switch {
	case r == '_' || unicode.IsLetter(r):
		l.pos = l.identEnd(l.pos)
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	case r == ':':
		l.pos++
		end := l.identEnd(l.pos)
		if end == l.pos {
			return token{}, &SyntaxError{Offset: start, Msg: "parameter name expected after ':'"}
		}
		l.pos = end
		return token{kind: tokParam, text: l.src[start+1 : end], pos: start}, nil
	case r >= '0' && r <= '9':
		return l.number(start)
	case r == '\'' || r == '"':
		return l.str(start, byte(r))
	}
	for _, p := range punct {
		if strings.HasPrefix(l.src[l.pos:], p) {
			l.pos += len(p)
			return token{kind: tokPunct, text: p, pos: start}, nil
		}
	}
	return token{}, &SyntaxError{Offset: start, Msg: fmt.Sprintf("unexpected character %q", r)}
}

func (l *lexer) identEnd(i int) int {
	for i < len(l.src) {
		r, w := utf8.DecodeRuneInString(l.src[i:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		i += w
	}
	return i
}

func (l *lexer) number(start int) (token, error) {
	kind := tokInt
	digits := func() {
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.pos++
		}
	}
	digits()
	if l.pos+1 < len(l.src) && l.src[l.pos] == '.' && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9' {
		kind = tokFloat
		l.pos++
		digits()
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		kind = tokFloat
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		digits()
	}
	return token{kind: kind, text: l.src[start:l.pos], pos: start}, nil
}

func (l *lexer) str(start int, quote byte) (token, error) {
	var b strings.Builder
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == quote {
				b.WriteByte(quote)
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, &SyntaxError{Offset: start, Msg: "unterminated string literal"}
}

type parser struct {
	lex lexer
	tok token
	err error
}

func (p *parser) next() {
	if p.err != nil {
		return
	}
	t, err := p.lex.scan()
	if err != nil {
		p.err = err
		p.tok = token{kind: tokEOF, pos: p.lex.pos}
		return
	}
	p.tok = t
}

func (p *parser) errorf(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return &SyntaxError{Offset: p.tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isKeyword(kw string) bool {
	return p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, kw)
}

func (p *parser) isPunct(s string) bool {
	return p.tok.kind == tokPunct && p.tok.text == s
}

func (p *parser) expect(s string) error {
	if !p.isPunct(s) {
		return p.errorf("expected %q, got %s", s, p.tok)
	}
	p.next()
	return nil
}

var reserved = map[string]bool{
	"and": true, "or": true, "not": true, "is": true, "null": true,
	"true": true, "false": true, "select": true, "flatten": true,
	"where": true, "as": true,
}

func (p *parser) query() (Expr, error) {
	q := &Query{}
	if p.isKeyword("flatten") {
		q.Flatten = true
		p.next()
	}
	if !p.isKeyword("select") {
		return nil, p.errorf("expected select, got %s", p.tok)
	}
	p.next()
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		it := Item{Expr: x}
		if p.isKeyword("as") {
			p.next()
			if p.tok.kind != tokIdent || reserved[strings.ToLower(p.tok.text)] {
				return nil, p.errorf("expected output name, got %s", p.tok)
			}
			it.Name = p.tok.text
			p.next()
		}
		q.Items = append(q.Items, it)
		if !p.isPunct(",") {
			break
		}
		p.next()
	}
	if p.isKeyword("where") {
		p.next()
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		q.Where = x
	}
	return q, nil
}

func (p *parser) expr() (Expr, error) {
	return p.or()
}

func (p *parser) or() (Expr, error) {
	x, err := p.and()
	if err != nil || !p.isKeyword("or") {
		return x, err
	}
	args := []Expr{x}
	for p.isKeyword("or") {
		p.next()
		y, err := p.and()
		if err != nil {
			return nil, err
		}
		args = append(args, y)
	}
	return &Or{Args: args}, nil
}

func (p *parser) and() (Expr, error) {
	x, err := p.not()
	if err != nil || !p.isKeyword("and") {
		return x, err
	}
	args := []Expr{x}
	for p.isKeyword("and") {
		p.next()
		y, err := p.not()
		if err != nil {
			return nil, err
		}
		args = append(args, y)
	}
	return &And{Args: args}, nil
}

func (p *parser) not() (Expr, error) {
	if p.isKeyword("not") {
		p.next()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	}
	return p.comparison()
}

var cmpOps = map[string]Op{"=": EQ, "!=": NE, "<>": NE, "<": LT, "<=": LE, ">": GT, ">=": GE}

func (p *parser) comparison() (Expr, error) {
	x, err := p.concat()
	if err != nil {
		return nil, err
	}
	switch {
	case p.tok.kind == tokPunct && cmpOps[p.tok.text] != "":
		op := cmpOps[p.tok.text]
		p.next()
		y, err := p.concat()
		if err != nil {
			return nil, err
		}
		return &Compare{Op: op, L: x, R: y}, nil
	case p.isPunct("~"):
		p.next()
		y, err := p.concat()
		if err != nil {
			return nil, err
		}
		return &Match{X: x, Pattern: y}, nil
	case p.isKeyword("is"):
		p.next()
		n := &IsNull{X: x}
		if p.isKeyword("not") {
			n.Negate = true
			p.next()
		}
		if !p.isKeyword("null") {
			return nil, p.errorf("expected null, got %s", p.tok)
		}
		p.next()
		return n, nil
	}
	return x, nil
}

func (p *parser) concat() (Expr, error) {
	x, err := p.additive()
	if err != nil || !p.isPunct("||") {
		return x, err
	}
	args := []Expr{x}
	for p.isPunct("||") {
		p.next()
		y, err := p.additive()
		if err != nil {
			return nil, err
		}
		args = append(args, y)
	}
	return &Concat{Args: args}, nil
}

func (p *parser) additive() (Expr, error) {
	x, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := Op(p.tok.text)
		p.next()
		y, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		x = &Arith{Op: op, L: x, R: y}
	}
	return x, nil
}

func (p *parser) multiplicative() (Expr, error) {
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := Op(p.tok.text)
		p.next()
		y, err := p.unary()
		if err != nil {
			return nil, err
		}
		x = &Arith{Op: op, L: x, R: y}
	}
	return x, nil
}

func (p *parser) unary() (Expr, error) {
	if !p.isPunct("-") {
		return p.primary()
	}
	p.next()
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	if l, ok := x.(*Lit); ok {
		switch v := l.Value.(type) {
		case int64:
			return Int(-v), nil
		case float64:
			return Float(-v), nil
		}
	}
	return &Neg{X: x}, nil
}

func (p *parser) primary() (Expr, error) {
	tok := p.tok
	switch tok.kind {
	case tokInt:
		p.next()
		v, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Offset: tok.pos, Msg: err.Error()}
		}
		return Int(v), nil
	case tokFloat:
		p.next()
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &SyntaxError{Offset: tok.pos, Msg: err.Error()}
		}
		return Float(v), nil
	case tokString:
		p.next()
		return Str(tok.text), nil
	case tokParam:
		p.next()
		return &Param{Name: tok.text}, nil
	case tokPunct:
		if tok.text == "(" {
			p.next()
			x, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true", "false":
			p.next()
			return Bool(strings.EqualFold(tok.text, "true")), nil
		case "null":
			p.next()
			return Null(), nil
		}
		if reserved[strings.ToLower(tok.text)] {
			break
		}
		p.next()
		if p.isPunct("(") {
			return p.call(tok)
		}
		return p.pathFrom(tok)
	}
	if p.err != nil {
		return nil, p.err
	}
	return nil, p.errorf("unexpected %s", tok)
}

func (p *parser) pathFrom(first token) (*Path, error) {
	path := &Path{Steps: []string{first.text}}
	for p.isPunct(".") {
		p.next()
		if p.tok.kind != tokIdent {
			return nil, p.errorf("expected attribute name after '.', got %s", p.tok)
		}
		path.Steps = append(path.Steps, p.tok.text)
		p.next()
	}
	return path, nil
}

func (p *parser) path() (*Path, error) {
	if p.tok.kind != tokIdent || reserved[strings.ToLower(p.tok.text)] {
		return nil, p.errorf("expected collection path, got %s", p.tok)
	}
	first := p.tok
	p.next()
	return p.pathFrom(first)
}

func (p *parser) optWhere() (Expr, error) {
	if !p.isKeyword("where") {
		return nil, nil
	}
	p.next()
	return p.expr()
}

func (p *parser) call(fn token) (Expr, error) {
	p.next() // (
	name := strings.ToLower(fn.text)
	var (
		x   Expr
		err error
	)
	switch name {
	case "count", "exists":
		var over *Path
		if over, err = p.path(); err != nil {
			return nil, err
		}
		var w Expr
		if w, err = p.optWhere(); err != nil {
			return nil, err
		}
		if name == "count" {
			x = &Count{Over: over, Where: w}
		} else {
			x = &Exists{Over: over, Where: w}
		}
	case "sum", "min", "max", "avg":
		agg := &Agg{Fn: AggFunc(name)}
		if agg.Over, err = p.path(); err != nil {
			return nil, err
		}
		if err = p.expect(","); err != nil {
			return nil, err
		}
		if agg.Value, err = p.expr(); err != nil {
			return nil, err
		}
		if agg.Where, err = p.optWhere(); err != nil {
			return nil, err
		}
		x = agg
	case "if":
		c := &If{}
		if c.Cond, err = p.expr(); err != nil {
			return nil, err
		}
		if err = p.expect(","); err != nil {
			return nil, err
		}
		if c.Then, err = p.expr(); err != nil {
			return nil, err
		}
		if err = p.expect(","); err != nil {
			return nil, err
		}
		if c.Else, err = p.expr(); err != nil {
			return nil, err
		}
		x = c
	default:
		return nil, &SyntaxError{Offset: fn.pos, Msg: fmt.Sprintf("unknown function %q", fn.text)}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return x, nil
}
