// Package expr evaluates boolean condition expressions over resolved
// context values.
//
// Supported syntax:
//   - comparison: == != < > >= <=
//   - boolean operators: and or not
//   - parenthesized grouping: (expr)
//   - variable references: {{variable}} / {{variable.path}}
//   - string literals: 'value' or "value"
//   - numeric literals: 42, 3.14
//
// Implemented as a tokenizer plus a recursive descent parser with operator
// precedence (low to high): or, and, not, comparison, atom. Comparisons are
// numeric-first with string fallback. No reflection or code evaluation.
package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LookupFunc resolves a dotted variable path to a context value.
// It must return false when the path is undefined.
type LookupFunc func(path string) (any, bool)

var refPattern = regexp.MustCompile(`\{\{(\w+(?:\.\w+)*)\}\}`)

// EvaluateCondition evaluates a condition expression against the lookup.
// An empty expression is true. A reference to an undefined variable is an
// error, never a silent false.
func EvaluateCondition(expression string, lookup LookupFunc) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	substituted, err := substituteRefs(expression, lookup)
	if err != nil {
		return false, err
	}

	tokens, err := tokenize(strings.TrimSpace(substituted))
	if err != nil {
		return false, err
	}
	if len(tokens) == 0 {
		return true, nil
	}

	p := &parser{tokens: tokens}
	result, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos < len(p.tokens) {
		return false, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos], p.pos)
	}
	return result, nil
}

// substituteRefs replaces {{path}} references with literal tokens: strings
// are quoted, booleans normalized, numbers formatted, and lists/maps
// JSON-encoded so they compare as their serialized form.
func substituteRefs(expression string, lookup LookupFunc) (string, error) {
	var refErr error
	out := refPattern.ReplaceAllStringFunc(expression, func(m string) string {
		path := m[2 : len(m)-2]
		v, ok := lookup(path)
		if !ok || v == nil {
			if refErr == nil {
				refErr = fmt.Errorf("undefined variable: %s", path)
			}
			return m
		}
		switch tv := v.(type) {
		case string:
			return "'" + tv + "'"
		case bool:
			if tv {
				return "true"
			}
			return "false"
		case float64:
			return strconv.FormatFloat(tv, 'f', -1, 64)
		case int:
			return strconv.Itoa(tv)
		case int64:
			return strconv.FormatInt(tv, 10)
		default:
			encoded, err := json.Marshal(tv)
			if err != nil {
				if refErr == nil {
					refErr = fmt.Errorf("variable %s is not comparable: %v", path, err)
				}
				return m
			}
			return "'" + string(encoded) + "'"
		}
	})
	if refErr != nil {
		return "", refErr
	}
	return out, nil
}

func tokenize(expression string) ([]string, error) {
	var tokens []string
	i, n := 0, len(expression)

	for i < n {
		ch := expression[i]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		// String literals, single or double quoted. Quotes are kept in the
		// token so the parser can identify literals.
		if ch == '\'' || ch == '"' {
			j := i + 1
			for j < n && expression[j] != ch {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated string literal at position %d", i)
			}
			tokens = append(tokens, expression[i:j+1])
			i = j + 1
			continue
		}

		if ch == '(' || ch == ')' {
			tokens = append(tokens, string(ch))
			i++
			continue
		}

		if i+1 < n {
			two := expression[i : i+2]
			if two == "==" || two == "!=" || two == ">=" || two == "<=" {
				tokens = append(tokens, two)
				i += 2
				continue
			}
		}

		if ch == '<' || ch == '>' {
			tokens = append(tokens, string(ch))
			i++
			continue
		}

		if isWordChar(ch) {
			j := i
			for j < n && isWordChar(expression[j]) {
				j++
			}
			tokens = append(tokens, expression[i:j])
			i = j
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}

	return tokens, nil
}

func isWordChar(ch byte) bool {
	return ch == '_' || ch == '.' || ch == '-' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

// parser is a recursive descent parser over the token list.
type parser struct {
	tokens []string
	pos    int
}

func (p *parser) peek() (string, bool) {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos], true
	}
	return "", false
}

func (p *parser) consume() string {
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *parser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok != "or" {
			return left, nil
		}
		p.consume()
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
}

func (p *parser) parseAnd() (bool, error) {
	left, err := p.parseNot()
	if err != nil {
		return false, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok != "and" {
			return left, nil
		}
		p.consume()
		right, err := p.parseNot()
		if err != nil {
			return false, err
		}
		left = left && right
	}
}

func (p *parser) parseNot() (bool, error) {
	if tok, ok := p.peek(); ok && tok == "not" {
		p.consume()
		v, err := p.parseNot()
		if err != nil {
			return false, err
		}
		return !v, nil
	}
	return p.parseComparison()
}

func isComparisonOp(tok string) bool {
	switch tok {
	case "==", "!=", "<", ">", ">=", "<=":
		return true
	}
	return false
}

func (p *parser) parseComparison() (bool, error) {
	left, err := p.parseAtom()
	if err != nil {
		return false, err
	}

	tok, ok := p.peek()
	if !ok || !isComparisonOp(tok) {
		// No comparison operator: interpret the atom as a boolean.
		return isTruthy(stripQuotes(left)), nil
	}

	op := p.consume()
	right, err := p.parseAtom()
	if err != nil {
		return false, err
	}

	return compare(stripQuotes(left), op, stripQuotes(right))
}

func (p *parser) parseAtom() (string, error) {
	tok, ok := p.peek()
	if !ok {
		return "", fmt.Errorf("unexpected end of expression")
	}

	if tok == "(" {
		p.consume()
		result, err := p.parseOr()
		if err != nil {
			return "", err
		}
		next, ok := p.peek()
		if !ok || next != ")" {
			return "", fmt.Errorf("expected ')' to close parenthesized expression")
		}
		p.consume()
		if result {
			return "true", nil
		}
		return "false", nil
	}

	if tok == "and" || tok == "or" || tok == "not" {
		return "", fmt.Errorf("unexpected keyword %q where value expected", tok)
	}
	if tok == ")" || isComparisonOp(tok) {
		return "", fmt.Errorf("unexpected operator %q where value expected", tok)
	}

	return p.consume(), nil
}

// compare applies a comparison operator, numeric-first with string fallback.
func compare(left, op, right string) (bool, error) {
	ln, lok := tryNumeric(left)
	rn, rok := tryNumeric(right)

	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case "<":
			return ln < rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		case "<=":
			return ln <= rn, nil
		}
	}

	switch op {
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	case "<":
		return left < right, nil
	case ">":
		return left > right, nil
	case ">=":
		return left >= right, nil
	case "<=":
		return left <= right, nil
	}
	return false, fmt.Errorf("unknown comparison operator %q", op)
}

func stripQuotes(tok string) string {
	if len(tok) >= 2 {
		if (tok[0] == '\'' && tok[len(tok)-1] == '\'') || (tok[0] == '"' && tok[len(tok)-1] == '"') {
			return tok[1 : len(tok)-1]
		}
	}
	return tok
}

func tryNumeric(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// isTruthy applies boolean normalization to a bare value.
// Falsy: "false", "False", "", "0", "none", "None".
func isTruthy(v string) bool {
	switch v {
	case "false", "False", "", "0", "none", "None":
		return false
	}
	return true
}
