package sqlanalyzer

import "fmt"

// ParserError wraps a syntax error encountered while parsing the input SQL.
type ParserError struct {
	Message string
}

func (e *ParserError) Error() string { return "sqlanalyzer: parse error: " + e.Message }

// UnsupportedStatement is returned when the input is not a query (DML/DDL,
// or anything other than SELECT/WITH).
type UnsupportedStatement struct {
	Keyword string
}

func (e *UnsupportedStatement) Error() string {
	return fmt.Sprintf("sqlanalyzer: unsupported statement: %s", e.Keyword)
}

type parser struct {
	toks        []token
	pos         int
	derivedSeen int
	pivotSeen   int
}

func newParser(toks []token) *parser { return &parser{toks: toks} }

// nextPlaceholderKey returns a deterministic per-parse placeholder identifier
// for an unaliased derived table, used only until the analyzer assigns its
// own synthetic key.
func (p *parser) nextPlaceholderKey() string {
	p.derivedSeen++
	return fmt.Sprintf("_derived_placeholder_%d", p.derivedSeen)
}

// nextPivotPlaceholderKey mirrors nextPlaceholderKey for an unaliased PIVOT,
// keeping the "_pivot_" prefix the final-reporting filter already expects.
func (p *parser) nextPivotPlaceholderKey() string {
	p.pivotSeen++
	return fmt.Sprintf("_pivot_placeholder_%d", p.pivotSeen)
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) peek(n int) token {
	if p.pos+n >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos+n]
}
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokIdent && t.upper == kw
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return &ParserError{Message: fmt.Sprintf("expected %s, got %q", kw, p.cur().text)}
	}
	p.advance()
	return nil
}

// parseTopLevel parses exactly one statement and reports UnsupportedStatement
// for anything that doesn't begin with SELECT or WITH.
func parseTopLevel(sql string) (*selectStatement, error) {
	toks := tokenize(sql)
	p := newParser(toks)
	if p.cur().kind != tokIdent || (p.cur().upper != "SELECT" && p.cur().upper != "WITH") {
		kw := p.cur().text
		return nil, &UnsupportedStatement{Keyword: kw}
	}
	stmt, err := p.parseSelectStatement()
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseSelectStatement() (*selectStatement, error) {
	stmt := &selectStatement{}

	if p.isKeyword("WITH") {
		p.advance()
		for {
			name := p.advance().text
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			sub, err := p.parseParenSubquery()
			if err != nil {
				return nil, err
			}
			stmt.ctes = append(stmt.ctes, cteDef{name: name, query: sub})
			if p.cur().kind == tokPunct && p.cur().text == "," {
				p.advance()
				continue
			}
			break
		}
	}

	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	// Skip DISTINCT/ALL modifiers.
	for p.isKeyword("DISTINCT") || p.isKeyword("ALL") {
		p.advance()
	}

	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.selectList = items

	if p.isKeyword("FROM") {
		p.advance()
		from, joins, err := p.parseFromClause()
		if err != nil {
			return nil, err
		}
		stmt.from = from
		stmt.joins = joins
	}

	if p.isKeyword("WHERE") {
		p.advance()
		stmt.where = p.captureUntilClauseKeyword()
	}
	if p.isKeyword("GROUP") {
		p.advance()
		p.expectKeyword("BY")
		stmt.groupBy = p.captureUntilClauseKeyword()
	}
	if p.isKeyword("HAVING") {
		p.advance()
		stmt.having = p.captureUntilClauseKeyword()
	}
	if p.isKeyword("ORDER") {
		p.advance()
		p.expectKeyword("BY")
		stmt.orderBy = p.captureUntilClauseKeyword()
	}
	// A trailing UNION/INTERSECT/EXCEPT names this statement's right-hand
	// branch; recursing into parseSelectStatement for it naturally handles
	// chains of more than two branches (SPEC_FULL.md §4.5).
	if p.isKeyword("UNION") || p.isKeyword("INTERSECT") || p.isKeyword("EXCEPT") {
		op := p.advance().upper
		if p.isKeyword("ALL") || p.isKeyword("DISTINCT") {
			p.advance()
		}
		right, err := p.parseSelectStatement()
		if err != nil {
			return nil, err
		}
		stmt.setOp = op
		stmt.setOpRight = right
	}
	// Discard LIMIT/OFFSET/FETCH and anything else trailing.
	return stmt, nil
}

var clauseKeywords = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true,
	"LIMIT": true, "OFFSET": true, "FETCH": true, "UNION": true,
	"INTERSECT": true, "EXCEPT": true, "WINDOW": true,
}

// captureUntilClauseKeyword collects raw tokens (tracking paren depth) up to
// the next top-level clause keyword or statement end.
func (p *parser) captureUntilClauseKeyword() []token {
	var out []token
	depth := 0
	for {
		t := p.cur()
		if t.kind == tokEOF {
			break
		}
		if t.kind == tokPunct && t.text == "(" {
			depth++
		}
		if t.kind == tokPunct && t.text == ")" {
			if depth == 0 {
				break
			}
			depth--
		}
		if depth == 0 && t.kind == tokIdent && clauseKeywords[t.upper] {
			break
		}
		out = append(out, t)
		p.advance()
	}
	return out
}

// parseSelectList reads comma-separated projection items until FROM or a
// clause keyword/EOF, tracking alias (explicit or implicit AS) and bare "*"
// / "t.*" wildcards.
func (p *parser) parseSelectList() ([]selectItem, error) {
	var items []selectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.cur().kind == tokPunct && p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *parser) parseSelectItem() (selectItem, error) {
	if p.cur().kind == tokStar {
		p.advance()
		return selectItem{star: true}, nil
	}
	if p.cur().kind == tokIdent && p.peek(1).kind == tokPunct && p.peek(1).text == "." && p.peek(2).kind == tokStar {
		q := p.advance().text
		p.advance()
		p.advance()
		return selectItem{star: true, qualifier: q}, nil
	}

	var exprToks []token
	depth := 0
	for {
		t := p.cur()
		if t.kind == tokEOF {
			break
		}
		if t.kind == tokPunct && t.text == "(" {
			depth++
		}
		if t.kind == tokPunct && t.text == ")" {
			if depth == 0 {
				break
			}
			depth--
		}
		if depth == 0 && t.kind == tokPunct && t.text == "," {
			break
		}
		if depth == 0 && t.kind == tokIdent && len(exprToks) > 0 &&
			(t.upper == "FROM" || t.upper == "AS" || clauseKeywords[t.upper]) {
			break
		}
		exprToks = append(exprToks, t)
		p.advance()
	}

	alias := ""
	if p.isKeyword("AS") {
		p.advance()
		alias = p.advance().text
	} else if p.cur().kind == tokIdent && !clauseKeywords[p.cur().upper] && p.cur().upper != "FROM" {
		alias = p.advance().text
	}

	return selectItem{expr: exprToks, alias: alias}, nil
}

// parseFromClause reads the first table factor and any subsequent JOINs.
func (p *parser) parseFromClause() ([]fromFactor, []joinClause, error) {
	first, err := p.parseTableFactor()
	if err != nil {
		return nil, nil, err
	}
	factors := []fromFactor{first}
	leftName := factorKey(first)

	var joins []joinClause
	for {
		kind, ok := p.peekJoinKind()
		if !ok {
			if p.cur().kind == tokPunct && p.cur().text == "," {
				p.advance()
				next, err := p.parseTableFactor()
				if err != nil {
					return nil, nil, err
				}
				factors = append(factors, next)
				leftName = factorKey(next)
				continue
			}
			break
		}
		p.consumeJoinKeywords()
		right, err := p.parseTableFactor()
		if err != nil {
			return nil, nil, err
		}
		jc := joinClause{left: leftName, right: right, kind: kind}
		if p.isKeyword("ON") {
			p.advance()
			jc.condition = p.captureBalancedExpr()
		} else if p.isKeyword("USING") {
			p.advance()
			jc.condition = p.captureParenList()
			jc.usingCols = true
		}
		joins = append(joins, jc)
		factors = append(factors, right)
		leftName = factorKey(right)
	}
	return factors, joins, nil
}

func factorKey(f fromFactor) string {
	if f.alias != "" {
		return f.alias
	}
	return f.identifier
}

var joinKeywords = map[string]bool{
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"CROSS": true, "NATURAL": true, "OUTER": true,
}

func (p *parser) peekJoinKind() (string, bool) {
	if p.cur().kind != tokIdent || !joinKeywords[p.cur().upper] {
		return "", false
	}
	kind := p.cur().upper
	return kind, true
}

func (p *parser) consumeJoinKeywords() {
	for p.cur().kind == tokIdent && joinKeywords[p.cur().upper] {
		p.advance()
	}
}

func (p *parser) captureBalancedExpr() []token {
	var out []token
	depth := 0
	for {
		t := p.cur()
		if t.kind == tokEOF {
			break
		}
		if t.kind == tokPunct && t.text == "(" {
			depth++
		}
		if t.kind == tokPunct && t.text == ")" && depth == 0 {
			break
		}
		if t.kind == tokPunct && t.text == ")" {
			depth--
		}
		if depth == 0 && t.kind == tokIdent {
			if joinKeywords[t.upper] || clauseKeywords[t.upper] {
				break
			}
		}
		if depth == 0 && t.kind == tokPunct && t.text == "," {
			break
		}
		out = append(out, t)
		p.advance()
	}
	return out
}

func (p *parser) captureParenList() []token {
	var out []token
	if p.cur().kind == tokPunct && p.cur().text == "(" {
		p.advance()
		for !(p.cur().kind == tokPunct && p.cur().text == ")") && p.cur().kind != tokEOF {
			out = append(out, p.advance())
		}
		if p.cur().kind == tokPunct && p.cur().text == ")" {
			p.advance()
		}
	}
	return out
}

// parseTableFactor parses one Table / Derived / Function factor plus its
// optional alias.
func (p *parser) parseTableFactor() (fromFactor, error) {
	if p.cur().kind == tokPunct && p.cur().text == "(" {
		sub, err := p.parseParenSubquery()
		if err != nil {
			return fromFactor{}, err
		}
		f := fromFactor{kind: factorDerived, subquery: sub}
		if p.isKeyword("PIVOT") {
			return p.parsePivot(f)
		}
		f.alias, f.columnList = p.parseOptionalAliasWithColumns()
		if f.alias == "" {
			f.identifier = p.nextPlaceholderKey()
		}
		return f, nil
	}

	parts := []string{p.advance().text}
	for p.cur().kind == tokPunct && p.cur().text == "." {
		p.advance()
		parts = append(parts, p.advance().text)
	}

	f := fromFactor{kind: factorTable}
	switch len(parts) {
	case 1:
		f.identifier = parts[0]
	case 2:
		f.schema, f.identifier = parts[0], parts[1]
	default:
		f.database, f.schema, f.identifier = parts[0], parts[1], parts[len(parts)-1]
	}

	if p.cur().kind == tokPunct && p.cur().text == "(" {
		f.kind = factorFunction
		p.advance()
		f.args = p.captureParenExprList()
	}

	if p.isKeyword("PIVOT") {
		return p.parsePivot(f)
	}

	f.alias, f.columnList = p.parseOptionalAliasWithColumns()
	return f, nil
}

// parsePivot wraps an already-parsed base table factor with a PIVOT,
// skipping its aggregation/FOR/IN body (not needed for table-reference
// resolution) and registering the result as a derived table under the
// pivot's own alias, per SPEC_FULL.md §4.5.
func (p *parser) parsePivot(base fromFactor) (fromFactor, error) {
	p.advance() // PIVOT
	if p.cur().kind == tokPunct && p.cur().text == "(" {
		p.advance()
		depth := 1
		for depth > 0 && p.cur().kind != tokEOF {
			if p.cur().kind == tokPunct && p.cur().text == "(" {
				depth++
			}
			if p.cur().kind == tokPunct && p.cur().text == ")" {
				depth--
				if depth == 0 {
					p.advance()
					break
				}
			}
			p.advance()
		}
	}
	underlying := base
	f := fromFactor{kind: factorPivot, underlying: &underlying}
	f.alias, f.columnList = p.parseOptionalAliasWithColumns()
	if f.alias == "" {
		f.identifier = p.nextPivotPlaceholderKey()
	}
	return f, nil
}

func (p *parser) captureParenExprList() []token {
	var out []token
	depth := 1
	for depth > 0 {
		t := p.cur()
		if t.kind == tokEOF {
			break
		}
		if t.kind == tokPunct && t.text == "(" {
			depth++
		}
		if t.kind == tokPunct && t.text == ")" {
			depth--
			if depth == 0 {
				p.advance()
				break
			}
		}
		out = append(out, t)
		p.advance()
	}
	return out
}

func (p *parser) parseOptionalAliasWithColumns() (alias string, columns []string) {
	if p.isKeyword("AS") {
		p.advance()
	}
	if p.cur().kind == tokIdent && !joinKeywords[p.cur().upper] && !clauseKeywords[p.cur().upper] &&
		p.cur().upper != "ON" && p.cur().upper != "USING" {
		alias = p.advance().text
		if p.cur().kind == tokPunct && p.cur().text == "(" {
			p.advance()
			for !(p.cur().kind == tokPunct && p.cur().text == ")") && p.cur().kind != tokEOF {
				if p.cur().kind == tokIdent {
					columns = append(columns, p.advance().text)
				} else {
					p.advance()
				}
			}
			if p.cur().kind == tokPunct && p.cur().text == ")" {
				p.advance()
			}
		}
	}
	return alias, columns
}

func (p *parser) parseParenSubquery() (*selectStatement, error) {
	if err := expectPunct(p, "("); err != nil {
		return nil, err
	}
	sub, err := p.parseSelectStatement()
	if err != nil {
		return nil, err
	}
	if err := expectPunct(p, ")"); err != nil {
		return nil, err
	}
	return sub, nil
}

func expectPunct(p *parser, text string) error {
	if p.cur().kind != tokPunct || p.cur().text != text {
		return &ParserError{Message: fmt.Sprintf("expected %q, got %q", text, p.cur().text)}
	}
	p.advance()
	return nil
}
