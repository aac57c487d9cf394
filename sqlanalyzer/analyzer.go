package sqlanalyzer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// tableEntry is the analyzer's internal bookkeeping for one registered
// table-factor, wrapping the exported Table plus the bits only needed
// during resolution (its known-column set for CTEs, whether its projection
// included a wildcard).
type tableEntry struct {
	tbl             *Table
	knownColumns    map[string]bool
	hasWildcard     bool
	observedColumns map[string]bool
}

func (e *tableEntry) addColumn(name string) {
	if e.observedColumns[name] {
		return
	}
	e.observedColumns[name] = true
	e.tbl.ObservedColumns = append(e.tbl.ObservedColumns, name)
}

// queryAnalyzer implements the scope model of SPEC_FULL.md §4.5: a stack of
// known-CTE frames, current/parent alias maps, and the current select-list
// alias set.
type queryAnalyzer struct {
	dialect Dialect

	cteStack []map[string]bool

	currentAliases map[string]*tableEntry
	parentAliases  map[string]*tableEntry
	selectAliases  map[string]bool

	tables []*tableEntry
	joins  []Join

	vagueColumns []string
	vagueTables  []string
	warnings     []string

	cteNames []string

	derivedSeq *int
}

func newRootAnalyzer(d Dialect) *queryAnalyzer {
	seq := 0
	return &queryAnalyzer{
		dialect:        d,
		currentAliases: map[string]*tableEntry{},
		parentAliases:  map[string]*tableEntry{},
		selectAliases:  map[string]bool{},
		derivedSeq:     &seq,
	}
}

// newChildAnalyzer creates a child for a derived table, CTE body, or
// subquery expression, seeded with the combined current+parent aliases of
// its enclosing analyzer (SPEC_FULL.md §4.5 table-factor handling).
func (a *queryAnalyzer) newChildAnalyzer() *queryAnalyzer {
	parent := map[string]*tableEntry{}
	for k, v := range a.parentAliases {
		parent[k] = v
	}
	for k, v := range a.currentAliases {
		parent[k] = v
	}
	return &queryAnalyzer{
		dialect:        a.dialect,
		cteStack:       append([]map[string]bool{}, a.cteStack...),
		currentAliases: map[string]*tableEntry{},
		parentAliases:  parent,
		selectAliases:  map[string]bool{},
		derivedSeq:     a.derivedSeq,
	}
}

// newSetOperandAnalyzer creates a child for one branch of a UNION/INTERSECT/
// EXCEPT. Unlike newChildAnalyzer, it does not inherit the sibling branch's
// FROM-clause aliases as parent scope: the two branches are independent
// queries that merely share whatever scope already enclosed the whole set
// operation.
func (a *queryAnalyzer) newSetOperandAnalyzer() *queryAnalyzer {
	parent := map[string]*tableEntry{}
	for k, v := range a.parentAliases {
		parent[k] = v
	}
	return &queryAnalyzer{
		dialect:        a.dialect,
		cteStack:       append([]map[string]bool{}, a.cteStack...),
		currentAliases: map[string]*tableEntry{},
		parentAliases:  parent,
		selectAliases:  map[string]bool{},
		derivedSeq:     a.derivedSeq,
	}
}

func (a *queryAnalyzer) isKnownCTE(name string) bool {
	for _, frame := range a.cteStack {
		if frame[name] {
			return true
		}
	}
	return false
}

func (a *queryAnalyzer) nextDerivedKey() string {
	*a.derivedSeq++
	return fmt.Sprintf("_derived_%d", *a.derivedSeq)
}

// processQuery walks one selectStatement: CTEs, FROM/JOIN factors, then the
// select list, WHERE, GROUP BY, HAVING, and ORDER BY expressions.
func (a *queryAnalyzer) processQuery(stmt *selectStatement) error {
	frame := map[string]bool{}
	a.cteStack = append(a.cteStack, frame)

	for _, cte := range stmt.ctes {
		child := a.newChildAnalyzer()
		_ = child.processQuery(cte.query)
		entry := &tableEntry{
			tbl:             &Table{Identifier: cte.name, Alias: cte.name, Kind: KindCte, Subquery: child.buildSummary()},
			knownColumns:    projectedColumnNames(cte.query),
			hasWildcard:     hasStarProjection(cte.query),
			observedColumns: map[string]bool{},
		}
		entry.tbl.ObservedColumns = append(entry.tbl.ObservedColumns, sortedKeys(entry.knownColumns)...)
		for n := range entry.knownColumns {
			entry.observedColumns[n] = true
		}
		a.currentAliases[cte.name] = entry
		a.tables = append(a.tables, entry)
		frame[cte.name] = true
		a.cteNames = append(a.cteNames, cte.name)
	}

	for _, f := range stmt.from {
		a.processTableFactor(f)
	}
	for _, j := range stmt.joins {
		a.processJoin(j)
	}

	for _, item := range stmt.selectList {
		if item.star {
			continue
		}
		a.visitExprTokens(item.expr, false)
		if item.alias != "" {
			a.selectAliases[item.alias] = true
		}
	}
	if hasStarProjection(stmt) {
		a.warnings = append(a.warnings, "SELECT * used without an explicit column list; downstream column usage cannot be fully attributed")
	}

	a.visitExprTokens(stmt.where, true)
	a.visitExprTokens(stmt.groupBy, true)
	a.visitExprTokens(stmt.having, true)
	a.visitOrderBy(stmt)

	if stmt.setOpRight != nil {
		right := a.newSetOperandAnalyzer()
		_ = right.processQuery(stmt.setOpRight)
		a.mergeSetOperand(right)
	}

	a.cteStack = a.cteStack[:len(a.cteStack)-1]
	return nil
}

// mergeSetOperand folds a UNION/INTERSECT/EXCEPT right-hand branch's
// findings into this analyzer as if it had been processed directly: unlike
// a correlated subquery, both branches describe the same top-level query,
// so vague references are merged as real findings, not downgraded to
// warnings.
func (a *queryAnalyzer) mergeSetOperand(child *queryAnalyzer) {
	a.tables = append(a.tables, child.tables...)
	a.joins = append(a.joins, child.joins...)
	a.cteNames = append(a.cteNames, child.cteNames...)
	a.vagueColumns = append(a.vagueColumns, child.vagueColumns...)
	a.vagueTables = append(a.vagueTables, child.vagueTables...)
	a.warnings = append(a.warnings, child.warnings...)
}

// visitOrderBy resolves ORDER BY items. A bare ordinal position ("ORDER BY
// 2") is resolved against the corresponding select-list expression for
// attribution, since the position names a projection rather than a column
// reference in scope; any other item is visited as a normal expression.
func (a *queryAnalyzer) visitOrderBy(stmt *selectStatement) {
	for _, item := range splitOnTopLevelComma(stmt.orderBy) {
		if len(item) > 0 && item[0].kind == tokNumber {
			if pos, err := strconv.Atoi(item[0].text); err == nil && pos >= 1 && pos <= len(stmt.selectList) {
				a.visitExprTokens(stmt.selectList[pos-1].expr, false)
				continue
			}
		}
		a.visitExprTokens(item, true)
	}
}

// splitOnTopLevelComma splits a token slice on commas not nested inside
// parentheses, e.g. separating "col1, fn(a, b) DESC" into its two ORDER BY
// items.
func splitOnTopLevelComma(toks []token) [][]token {
	var out [][]token
	depth := 0
	start := 0
	for i, t := range toks {
		if t.kind == tokPunct && t.text == "(" {
			depth++
		} else if t.kind == tokPunct && t.text == ")" {
			depth--
		} else if t.kind == tokPunct && t.text == "," && depth == 0 {
			out = append(out, toks[start:i])
			start = i + 1
		}
	}
	if start < len(toks) {
		out = append(out, toks[start:])
	}
	return out
}

var recognizedTableFunctions = map[string]bool{
	"generate_series": true, "unnest": true, "json_each": true, "json_table": true,
}

func (a *queryAnalyzer) processTableFactor(f fromFactor) {
	switch f.kind {
	case factorDerived:
		child := a.newChildAnalyzer()
		_ = child.processQuery(f.subquery)
		if w := child.vagueReferenceWarning(); w != "" {
			a.warnings = append(a.warnings, w)
		}
		key := f.alias
		if key == "" {
			key = a.nextDerivedKey()
		}
		entry := &tableEntry{
			tbl:             &Table{Identifier: key, Alias: f.alias, Kind: KindDerived, Subquery: child.buildSummary()},
			observedColumns: map[string]bool{},
		}
		a.currentAliases[key] = entry
		a.tables = append(a.tables, entry)

	case factorPivot:
		if f.underlying != nil {
			a.processTableFactor(*f.underlying)
		}
		key := f.alias
		if key == "" {
			key = f.identifier
		}
		entry := &tableEntry{
			tbl:             &Table{Identifier: key, Alias: f.alias, Kind: KindDerived},
			observedColumns: map[string]bool{},
		}
		a.currentAliases[key] = entry
		a.tables = append(a.tables, entry)

	case factorFunction:
		key := f.alias
		if key == "" {
			key = f.identifier
		}
		entry := &tableEntry{
			tbl:             &Table{Identifier: f.identifier, Alias: f.alias, Kind: KindFunction},
			observedColumns: map[string]bool{},
		}
		if len(f.columnList) > 0 {
			entry.tbl.ObservedColumns = append(entry.tbl.ObservedColumns, f.columnList...)
			for _, c := range f.columnList {
				entry.observedColumns[c] = true
			}
		}
		a.currentAliases[key] = entry
		a.tables = append(a.tables, entry)

	default: // factorTable
		kind := KindBase
		if f.schema == "" && f.database == "" && a.isKnownCTE(f.identifier) {
			kind = KindCte
		}
		key := f.alias
		if key == "" {
			key = f.identifier
		}
		if existing, ok := a.currentAliases[key]; ok && kind != KindCte {
			a.tables = append(a.tables, existing)
			return
		}
		entry := &tableEntry{
			tbl: &Table{
				Database: f.database, Schema: f.schema, Identifier: f.identifier, Alias: f.alias, Kind: kind,
			},
			observedColumns: map[string]bool{},
		}
		if kind == KindCte {
			if cteEntry, ok := a.currentAliases[f.identifier]; ok {
				entry = cteEntry
			}
		}
		a.currentAliases[key] = entry
		a.tables = append(a.tables, entry)
	}
}

func (a *queryAnalyzer) processJoin(j joinClause) {
	a.processTableFactor(j.right)
	rightKey := j.right.alias
	if rightKey == "" {
		rightKey = j.right.identifier
	}

	condStr := ""
	if len(j.condition) > 0 {
		if j.usingCols {
			condStr = "USING(" + joinTokenText(j.condition) + ")"
			for _, t := range j.condition {
				if t.kind == tokIdent {
					a.vagueColumns = append(a.vagueColumns, t.text)
				}
			}
		} else {
			condStr = "ON " + joinTokenText(j.condition)
			a.visitExprTokens(j.condition, true)
		}
	} else if strings.Contains(j.kind, "NATURAL") {
		condStr = "NATURAL"
	} else if strings.Contains(j.kind, "CROSS") {
		condStr = "CROSS JOIN"
	}

	a.joins = append(a.joins, Join{Left: j.left, Right: rightKey, Condition: condStr})
}

func joinTokenText(toks []token) string {
	var sb strings.Builder
	for i, t := range toks {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.text)
	}
	return sb.String()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// projectedColumnNames best-effort extracts the simple output column names
// of a SELECT (used to seed a CTE's known-columns set). Wildcards and
// complex expressions without an alias are not resolvable and are skipped.
func projectedColumnNames(stmt *selectStatement) map[string]bool {
	out := map[string]bool{}
	for _, item := range stmt.selectList {
		if item.star {
			continue
		}
		if item.alias != "" {
			out[item.alias] = true
			continue
		}
		if len(item.expr) == 1 && item.expr[0].kind == tokIdent {
			out[item.expr[0].text] = true
		}
	}
	return out
}

func hasStarProjection(stmt *selectStatement) bool {
	for _, item := range stmt.selectList {
		if item.star {
			return true
		}
	}
	return false
}
