package sqlanalyzer

import "strings"

// keywordsNotColumns are tokens the expression visitor must never treat as
// identifiers even though they tokenize as tokIdent.
var keywordsNotColumns = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "NULL": true, "IS": true, "IN": true,
	"EXISTS": true, "BETWEEN": true, "LIKE": true, "ILIKE": true, "CASE": true,
	"WHEN": true, "THEN": true, "ELSE": true, "END": true, "ASC": true, "DESC": true,
	"NULLS": true, "FIRST": true, "LAST": true, "DISTINCT": true, "ALL": true,
	"ANY": true, "SOME": true, "TRUE": true, "FALSE": true, "INTERVAL": true,
	"CAST": true, "AS": true, "ON": true, "USING": true, "OVER": true,
	"PARTITION": true, "BY": true, "ROWS": true, "RANGE": true, "UNBOUNDED": true,
	"PRECEDING": true, "FOLLOWING": true, "CURRENT": true, "ROW": true,
	"FILTER": true, "WITHIN": true, "GROUP": true, "COLLATE": true, "ESCAPE": true,
}

var dateTimeKeywords = map[string]bool{
	"date": true, "timestamp": true, "time": true, "datetime": true,
	"created_at": true, "updated_at": true,
}

// visitExprTokens walks a raw expression token slice, attributing compound
// and unqualified identifiers per SPEC_FULL.md §4.5's expression visitor
// rules. withSelectAliases gates whether this-select's projection aliases
// are visible (true for WHERE/GROUP BY/HAVING/ORDER BY, false while visiting
// the select list itself and inside OVER(...) window specs).
func (a *queryAnalyzer) visitExprTokens(toks []token, withSelectAliases bool) {
	i := 0
	for i < len(toks) {
		t := toks[i]
		switch {
		case t.kind == tokPunct && t.text == "(":
			j := matchParen(toks, i)
			inner := toks[i+1 : min(j, len(toks))]
			if len(inner) > 0 && inner[0].kind == tokIdent && (inner[0].upper == "SELECT" || inner[0].upper == "WITH") {
				a.handleSubqueryExpr(inner)
			} else {
				a.visitExprTokens(inner, withSelectAliases)
			}
			i = j + 1

		case t.kind == tokIdent && t.upper == "OVER":
			if i+1 < len(toks) && toks[i+1].kind == tokPunct && toks[i+1].text == "(" {
				j := matchParen(toks, i+1)
				a.visitExprTokens(toks[i+2:min(j, len(toks))], false)
				i = j + 1
				continue
			}
			i++

		case t.kind == tokIdent && keywordsNotColumns[t.upper]:
			i++

		case t.kind == tokIdent:
			if i+1 < len(toks) && toks[i+1].kind == tokPunct && toks[i+1].text == "." {
				parts := []string{t.text}
				j := i + 1
				for j+1 < len(toks) && toks[j].kind == tokPunct && toks[j].text == "." && toks[j+1].kind == tokIdent {
					parts = append(parts, toks[j+1].text)
					j += 2
				}
				a.resolveCompound(parts[0], parts[len(parts)-1], withSelectAliases)
				i = j
				continue
			}
			if i+1 < len(toks) && toks[i+1].kind == tokPunct && toks[i+1].text == "(" {
				j := matchParen(toks, i+1)
				a.visitExprTokens(toks[i+2:min(j, len(toks))], withSelectAliases)
				i = j + 1
				continue
			}
			a.resolveUnqualified(t.text, withSelectAliases)
			i++

		default:
			i++
		}
	}
}

// matchParen returns the index of the "(" at toks[open]'s matching ")", or
// len(toks) if unbalanced.
func matchParen(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		if toks[i].kind == tokPunct && toks[i].text == "(" {
			depth++
		}
		if toks[i].kind == tokPunct && toks[i].text == ")" {
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(toks)
}

func (a *queryAnalyzer) handleSubqueryExpr(innerToks []token) {
	child := a.newChildAnalyzer()
	toks := append(append([]token{}, innerToks...), token{kind: tokEOF})
	p := newParser(toks)
	stmt, err := p.parseSelectStatement()
	if err != nil {
		return
	}
	_ = child.processQuery(stmt)
	if w := child.vagueReferenceWarning(); w != "" {
		a.warnings = append(a.warnings, w)
	}
	key := "expr_subquery_" + a.nextDerivedKey()
	a.tables = append(a.tables, &tableEntry{
		tbl:             &Table{Identifier: key, Kind: KindDerived, Subquery: child.buildSummary()},
		observedColumns: map[string]bool{},
	})
}

// resolveCompound implements the `q.col` branch of the expression visitor.
func (a *queryAnalyzer) resolveCompound(qualifier, column string, withSelectAliases bool) {
	if entry, ok := a.currentAliases[qualifier]; ok {
		a.attachColumn(entry, column)
		return
	}
	if entry, ok := a.parentAliases[qualifier]; ok {
		a.attachColumn(entry, column)
		return
	}
	if withSelectAliases && a.selectAliases[qualifier] {
		return
	}
	a.vagueTables = append(a.vagueTables, qualifier)
}

func (a *queryAnalyzer) attachColumn(entry *tableEntry, column string) {
	entry.addColumn(column)
	if a.dialect.NestedColSep != "" && strings.Contains(column, a.dialect.NestedColSep) {
		head := strings.SplitN(column, a.dialect.NestedColSep, 2)[0]
		entry.addColumn(head)
	}
}

// resolveUnqualified implements the bare `col` branch of the expression
// visitor, including the legacy "unqualified id is always vague" rule.
func (a *queryAnalyzer) resolveUnqualified(column string, withSelectAliases bool) {
	if withSelectAliases && a.selectAliases[column] {
		return
	}
	if column == "id" {
		a.vagueColumns = append(a.vagueColumns, column)
		return
	}

	sources := a.trueSources()

	if dateTimeKeywords[strings.ToLower(column)] {
		for _, e := range sources {
			if e.tbl.Kind == KindBase {
				a.attachColumn(e, column)
				return
			}
		}
	}

	switch len(sources) {
	case 0:
		// No FROM clause in scope: scalar expression, ignore.
		return
	case 1:
		entry := sources[0]
		a.attachColumn(entry, column)
	default:
		a.vagueColumns = append(a.vagueColumns, column)
	}
}

// trueSources returns the distinct table entries visible to unqualified
// column resolution: this query's FROM-clause tables plus inherited parent
// aliases, deduplicated by identity.
func (a *queryAnalyzer) trueSources() []*tableEntry {
	seen := map[*tableEntry]bool{}
	var out []*tableEntry
	for _, e := range a.currentAliases {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, e := range a.parentAliases {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
