package sqlanalyzer

import (
	"fmt"
	"sort"
	"strings"
)

// filteredPrefixes marks synthetic keys that must never surface in a vague-
// reference report: derived-table placeholders, subquery placeholders, and
// recognised table-function names (SPEC_FULL.md §4.5 final reporting).
var filteredPrefixes = []string{
	"_derived_", "_function_", "_pivot_", "derived:", "inner_query", "set_op_", "expr_subquery_",
}

func isFilteredKey(key string) bool {
	if recognizedTableFunctions[key] {
		return true
	}
	for _, p := range filteredPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// buildSummary converts the analyzer's accumulated state into a QuerySummary
// without checking for vague references; used internally when a child
// analyzer's result is attached as a Subquery regardless of its own
// (non-propagating) vague findings.
func (a *queryAnalyzer) buildSummary() *QuerySummary {
	tables := make([]Table, 0, len(a.tables))
	seen := map[*tableEntry]bool{}
	for _, e := range a.tables {
		if seen[e] {
			continue
		}
		seen[e] = true
		tables = append(tables, *e.tbl)
	}
	return &QuerySummary{
		Tables:   mergeBaseTablesFromChildren(tables),
		Joins:    append([]Join{}, a.joins...),
		CTEs:     append([]string{}, a.cteNames...),
		Warnings: append([]string{}, a.warnings...),
	}
}

// mergeBaseTablesFromChildren implements the "recursively harvest Base
// tables from all CTE and derived subquery summaries" step of final
// reporting: Base tables nested inside a CTE or derived-table's own summary
// are hoisted into the top-level table list, without colliding with
// same-named CTEs.
func mergeBaseTablesFromChildren(tables []Table) []Table {
	existing := map[string]bool{}
	for _, t := range tables {
		if t.Kind == KindCte {
			existing[t.Identifier] = true
		}
	}
	out := append([]Table{}, tables...)
	var harvest func(sub *QuerySummary)
	seenBase := map[string]bool{}
	harvest = func(sub *QuerySummary) {
		if sub == nil {
			return
		}
		for _, t := range sub.Tables {
			if t.Kind == KindBase && !existing[t.Identifier] {
				key := t.Database + "." + t.Schema + "." + t.Identifier
				if !seenBase[key] {
					seenBase[key] = true
					out = append(out, Table{Database: t.Database, Schema: t.Schema, Identifier: t.Identifier, Kind: KindBase})
				}
			}
			harvest(t.Subquery)
		}
	}
	for _, t := range tables {
		harvest(t.Subquery)
	}
	return out
}

// intoSummary implements the final reporting step: filter synthetic/
// recognised-function keys out of the accumulated vague lists and either
// return the summary or a VagueReferences error.
func (a *queryAnalyzer) intoSummary() (*QuerySummary, error) {
	cols := dedupeSorted(a.vagueColumns)
	tbls := dedupeSorted(a.vagueTables)

	var filteredTables []string
	for _, t := range tbls {
		if !isFilteredKey(t) {
			filteredTables = append(filteredTables, t)
		}
	}

	if len(cols) == 0 && len(filteredTables) == 0 {
		return a.buildSummary(), nil
	}

	var lines []string
	if len(cols) > 0 {
		lines = append(lines, fmt.Sprintf("Vague or ambiguous columns: %s", strings.Join(cols, ", ")))
	}
	if len(filteredTables) > 0 {
		lines = append(lines, fmt.Sprintf("Unresolved table qualifiers: %s", strings.Join(filteredTables, ", ")))
	}
	return nil, &VagueReferences{Message: strings.Join(lines, "\n")}
}

// vagueReferenceWarning renders a's own accumulated vague columns/tables as
// a single warning line, or "" if there are none worth reporting. Used to
// fold a correlated subquery's vague findings into its parent's warnings
// instead of discarding them or elevating them to an outer error, per
// SPEC_FULL.md §4.5.
func (a *queryAnalyzer) vagueReferenceWarning() string {
	cols := dedupeSorted(a.vagueColumns)
	var tbls []string
	for _, t := range dedupeSorted(a.vagueTables) {
		if !isFilteredKey(t) {
			tbls = append(tbls, t)
		}
	}
	if len(cols) == 0 && len(tbls) == 0 {
		return ""
	}
	var parts []string
	if len(cols) > 0 {
		parts = append(parts, fmt.Sprintf("columns %s", strings.Join(cols, ", ")))
	}
	if len(tbls) > 0 {
		parts = append(parts, fmt.Sprintf("table qualifiers %s", strings.Join(tbls, ", ")))
	}
	return fmt.Sprintf("Vague or ambiguous reference in subquery: %s", strings.Join(parts, "; "))
}

func dedupeSorted(in []string) []string {
	set := map[string]bool{}
	for _, s := range in {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
