package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %q)", e.Position, e.Message, e.Token.Literal)
}

// Parser parses telemetry queries.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses the input and returns a Query.
func Parse(input string) (*Query, error) {
	p := NewParser(input)
	return p.ParseQuery()
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// errorf builds a ParseError at the current token.
func (p *Parser) errorf(format string, args ...interface{}) *ParseError {
	return &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Position: p.curToken.Pos,
		Token:    p.curToken,
	}
}

// ParseQuery parses a complete SELECT query.
func (p *Parser) ParseQuery() (*Query, error) {
	if !p.curTokenIs(TokenSelect) {
		return nil, p.errorf("expected SELECT")
	}
	p.nextToken()

	q := &Query{}

	if err := p.parseColumns(q); err != nil {
		return nil, err
	}

	if !p.curTokenIs(TokenFrom) {
		return nil, p.errorf("expected FROM")
	}
	p.nextToken()
	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected table name")
	}
	q.Table = p.curToken.Literal
	p.nextToken()

	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		where, err := p.parsePredicates()
		if err != nil {
			return nil, err
		}
		q.Where = where
	}

	if p.curTokenIs(TokenOrderBy) {
		p.nextToken()
		if !p.curTokenIs(TokenBy) {
			return nil, p.errorf("expected BY after ORDER")
		}
		p.nextToken()
		order, err := p.parseOrderClause()
		if err != nil {
			return nil, err
		}
		q.OrderBy = order
	}

	if p.curTokenIs(TokenLimit) {
		p.nextToken()
		if !p.curTokenIs(TokenNumber) {
			return nil, p.errorf("expected number after LIMIT")
		}
		limit, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
		if err != nil || limit < 0 {
			return nil, p.errorf("invalid LIMIT value")
		}
		q.Limit = &limit
		p.nextToken()
	}

	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorf("unexpected trailing input")
	}

	return q, nil
}

// parseColumns parses the projection list.
func (p *Parser) parseColumns(q *Query) error {
	if p.curTokenIs(TokenStar) {
		q.Star = true
		p.nextToken()
		return nil
	}

	for {
		if !p.curTokenIs(TokenIdent) {
			return p.errorf("expected column name")
		}
		q.Columns = append(q.Columns, p.curToken.Literal)
		p.nextToken()

		if !p.curTokenIs(TokenComma) {
			return nil
		}
		p.nextToken() // Skip comma
	}
}

// parseOrderClause parses the column and direction of an ORDER BY clause.
// Only timestamp ordering is supported: the store scan orders by timestamp,
// and accepting other columns would return rows in store order instead.
func (p *Parser) parseOrderClause() (*OrderClause, error) {
	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected column name after ORDER BY")
	}
	column := p.curToken.Literal
	if column != "timestamp" {
		return nil, p.errorf("ORDER BY supports only timestamp, got %q", column)
	}
	p.nextToken()

	order := &OrderClause{Column: column}
	switch p.curToken.Type {
	case TokenAsc:
		p.nextToken()
	case TokenDesc:
		order.Desc = true
		p.nextToken()
	}
	return order, nil
}

// parsePredicates parses an ANDed list of predicates.
func (p *Parser) parsePredicates() ([]Predicate, error) {
	var preds []Predicate

	for {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)

		if !p.curTokenIs(TokenAnd) {
			return preds, nil
		}
		p.nextToken() // Skip AND
	}
}

// parsePredicate parses a single predicate: comparison, IN, or BETWEEN.
func (p *Parser) parsePredicate() (Predicate, error) {
	if !p.curTokenIs(TokenIdent) {
		return Predicate{}, p.errorf("expected column name in WHERE clause")
	}
	column := p.curToken.Literal
	p.nextToken()

	switch p.curToken.Type {
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe:
		op := p.curToken.Literal
		p.nextToken()
		value, err := p.parseValue()
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{Type: PredicateCompare, Column: column, Operator: op, Value: value}, nil

	case TokenIn:
		p.nextToken()
		return p.parseInValues(column)

	case TokenBetween:
		p.nextToken()
		return p.parseBetweenBounds(column)

	default:
		return Predicate{}, p.errorf("expected comparison operator, IN, or BETWEEN")
	}
}

// parseInValues parses the value list of an IN predicate.
func (p *Parser) parseInValues(column string) (Predicate, error) {
	if !p.curTokenIs(TokenLParen) {
		return Predicate{}, p.errorf("expected ( after IN")
	}
	p.nextToken()

	var values []interface{}
	for {
		val, err := p.parseValue()
		if err != nil {
			return Predicate{}, err
		}
		values = append(values, val)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}

	if !p.curTokenIs(TokenRParen) {
		return Predicate{}, p.errorf("expected ) after IN values")
	}
	p.nextToken()

	return Predicate{Type: PredicateIn, Column: column, Operator: "IN", Values: values}, nil
}

// parseBetweenBounds parses the bounds of a BETWEEN predicate.
func (p *Parser) parseBetweenBounds(column string) (Predicate, error) {
	low, err := p.parseValue()
	if err != nil {
		return Predicate{}, err
	}

	if !p.curTokenIs(TokenAnd) {
		return Predicate{}, p.errorf("expected AND in BETWEEN predicate")
	}
	p.nextToken()

	high, err := p.parseValue()
	if err != nil {
		return Predicate{}, err
	}

	return Predicate{Type: PredicateBetween, Column: column, Operator: "BETWEEN", Low: low, High: high}, nil
}

// parseValue parses a literal value: string, number, or negative number.
func (p *Parser) parseValue() (interface{}, error) {
	negative := false
	if p.curTokenIs(TokenMinus) {
		negative = true
		p.nextToken()
	}

	switch p.curToken.Type {
	case TokenString:
		if negative {
			return nil, p.errorf("cannot negate a string literal")
		}
		val := p.curToken.Literal
		p.nextToken()
		return val, nil

	case TokenNumber:
		literal := p.curToken.Literal
		p.nextToken()
		if !strings.Contains(literal, ".") {
			if val, err := strconv.ParseInt(literal, 10, 64); err == nil {
				if negative {
					val = -val
				}
				return val, nil
			}
		}
		val, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number")
		}
		if negative {
			val = -val
		}
		return val, nil

	default:
		return nil, p.errorf("expected literal value")
	}
}
