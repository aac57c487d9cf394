package sqlanalyzer

// TableKind classifies how a table entry in a QuerySummary was introduced.
type TableKind string

const (
	KindBase    TableKind = "base"
	KindCte     TableKind = "cte"
	KindDerived TableKind = "derived"
	KindFunction TableKind = "function"
)

// Table is one resolved table reference.
type Table struct {
	Database         string
	Schema           string
	Identifier       string
	Alias            string
	Kind             TableKind
	ObservedColumns  []string
	Subquery         *QuerySummary
}

// Join is one extracted join relationship.
type Join struct {
	Left      string
	Right     string
	Condition string
}

// QuerySummary is the analyzer's successful result.
type QuerySummary struct {
	Tables   []Table
	Joins    []Join
	CTEs     []string
	Warnings []string
}

// VagueReferences is returned when the analyzer cannot uniquely attribute
// one or more column or table references.
type VagueReferences struct {
	Message string
}

func (e *VagueReferences) Error() string { return e.Message }
