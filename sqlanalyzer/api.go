// AnalyzeQuery is the analyzer's sole entry point (SPEC_FULL.md §6
// "Analyzer API"). It parses sql under the named dialect and returns a
// QuerySummary, or one of *UnsupportedStatement, *VagueReferences, or
// *ParserError.
package sqlanalyzer

func AnalyzeQuery(sql, dialectName string) (*QuerySummary, error) {
	dialect := resolveDialect(dialectName)

	stmt, err := parseTopLevel(sql)
	if err != nil {
		return nil, err
	}

	a := newRootAnalyzer(dialect)
	if err := a.processQuery(stmt); err != nil {
		return nil, err
	}
	return a.intoSummary()
}
