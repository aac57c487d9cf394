package sqlanalyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeQuerySimpleSelect(t *testing.T) {
	summary, err := AnalyzeQuery(`SELECT email, name FROM customers`, "postgres")
	require.NoError(t, err)
	require.Len(t, summary.Tables, 1)
	assert.Equal(t, "customers", summary.Tables[0].Identifier)
	assert.Equal(t, KindBase, summary.Tables[0].Kind)
}

func TestAnalyzeQueryQualifiedColumnsResolveUnambiguously(t *testing.T) {
	summary, err := AnalyzeQuery(`
		SELECT o.id, c.name
		FROM orders o
		JOIN customers c ON o.customer_id = c.id`, "postgres")
	require.NoError(t, err)
	require.Len(t, summary.Joins, 1)
	assert.Equal(t, "o", summary.Joins[0].Left)
	assert.Equal(t, "c", summary.Joins[0].Right)
	assert.Contains(t, summary.Joins[0].Condition, "ON")
}

func TestAnalyzeQueryUsingJoinRecordsColumns(t *testing.T) {
	summary, err := AnalyzeQuery(`
		SELECT a.id
		FROM orders a
		JOIN customers b USING (customer_id)`, "postgres")
	require.NoError(t, err)
	require.Len(t, summary.Joins, 1)
	assert.Equal(t, "USING(customer_id)", summary.Joins[0].Condition)
}

func TestAnalyzeQueryAmbiguousUnqualifiedColumnIsVague(t *testing.T) {
	_, err := AnalyzeQuery(`
		SELECT name
		FROM orders o
		JOIN customers c ON o.customer_id = c.id`, "postgres")
	require.Error(t, err)
	var vague *VagueReferences
	require.ErrorAs(t, err, &vague)
	assert.Contains(t, vague.Message, "name")
}

func TestAnalyzeQuerySelectStarProducesWarningNotError(t *testing.T) {
	summary, err := AnalyzeQuery(`SELECT * FROM customers`, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, summary.Warnings)
	assert.Contains(t, summary.Warnings[0], "SELECT *")
}

func TestAnalyzeQueryOrderByPositionResolvesAgainstSelectList(t *testing.T) {
	summary, err := AnalyzeQuery(`
		SELECT o.id, o.total
		FROM orders o
		ORDER BY 2 DESC`, "postgres")
	require.NoError(t, err)
	require.Len(t, summary.Tables, 1)
	assert.Contains(t, summary.Tables[0].ObservedColumns, "total")
}

func TestAnalyzeQueryCTEHoistsBaseTables(t *testing.T) {
	summary, err := AnalyzeQuery(`
		WITH recent AS (SELECT id FROM orders)
		SELECT recent.id FROM recent`, "postgres")
	require.NoError(t, err)
	require.Len(t, summary.CTEs, 1)

	var sawBase bool
	for _, tbl := range summary.Tables {
		if tbl.Kind == KindBase && tbl.Identifier == "orders" {
			sawBase = true
		}
	}
	assert.True(t, sawBase, "expected orders to be hoisted as a base table")
}

func TestAnalyzeQueryUnsupportedStatementRejected(t *testing.T) {
	_, err := AnalyzeQuery(`DELETE FROM customers`, "postgres")
	require.Error(t, err)
}

func TestAnalyzeQuerySelectAliasMatchingIDIsResolved(t *testing.T) {
	summary, err := AnalyzeQuery(`
		SELECT foo AS id
		FROM customers
		WHERE id > 5`, "postgres")
	require.NoError(t, err)
	require.Len(t, summary.Tables, 1)
	assert.Equal(t, "customers", summary.Tables[0].Identifier)
}

func TestAnalyzeQueryUnqualifiedIDIsStillVagueWithoutAlias(t *testing.T) {
	_, err := AnalyzeQuery(`SELECT name FROM customers WHERE id > 5`, "postgres")
	require.Error(t, err)
	var vague *VagueReferences
	require.ErrorAs(t, err, &vague)
	assert.Contains(t, vague.Message, "id")
}

func TestAnalyzeQueryPivotRegistersDerivedTable(t *testing.T) {
	summary, err := AnalyzeQuery(`
		SELECT *
		FROM (SELECT category, amount FROM sales)
		PIVOT (SUM(amount) FOR category IN ('a', 'b')) AS p`, "postgres")
	require.NoError(t, err)

	var sawPivot bool
	for _, tbl := range summary.Tables {
		if tbl.Identifier == "p" && tbl.Kind == KindDerived {
			sawPivot = true
		}
	}
	assert.True(t, sawPivot, "expected the pivot result registered as a derived table under its alias")
}

func TestAnalyzeQueryUnionMergesBothBranches(t *testing.T) {
	summary, err := AnalyzeQuery(`
		SELECT order_id FROM orders
		UNION
		SELECT order_id FROM archived_orders`, "postgres")
	require.NoError(t, err)

	var names []string
	for _, tbl := range summary.Tables {
		names = append(names, tbl.Identifier)
	}
	assert.Contains(t, names, "orders")
	assert.Contains(t, names, "archived_orders")
}

func TestAnalyzeQueryUnionPropagatesVagueColumnsFromEitherBranch(t *testing.T) {
	_, err := AnalyzeQuery(`
		SELECT id FROM orders
		UNION
		SELECT name FROM orders o JOIN customers c ON o.customer_id = c.id`, "postgres")
	require.Error(t, err)
	var vague *VagueReferences
	require.ErrorAs(t, err, &vague)
	assert.Contains(t, vague.Message, "name")
}

func TestAnalyzeQuerySubqueryVagueColumnBecomesWarningNotError(t *testing.T) {
	summary, err := AnalyzeQuery(`
		SELECT o.id,
		       (SELECT name FROM customers c JOIN accounts a ON c.account_id = a.id) AS label
		FROM orders o`, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, summary.Warnings)

	var sawSubqueryWarning bool
	for _, w := range summary.Warnings {
		if strings.Contains(w, "name") {
			sawSubqueryWarning = true
		}
	}
	assert.True(t, sawSubqueryWarning, "expected the correlated subquery's vague column to surface as a warning")
}
