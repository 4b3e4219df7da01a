package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

func newTestValidator(t *testing.T) *AccessValidator {
	t.Helper()
	v, err := NewAccessValidator(AccessPolicy{
		Dialect: models.DialectBigQuery,
		AllowedRelations: []string{
			"mydigipal.company.clients_dim",
			"mydigipal.marts.client_profitability",
			"marts.employee_workload",
			"MyDigiPal.Marts.Client_Team_Breakdown",
		},
		DefaultQualifier: "mydigipal",
	})
	require.NoError(t, err)
	return v
}

func assertRejected(t *testing.T, err error, kind apperrors.Kind, fragment string) {
	t.Helper()
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, kind, appErr.Kind)
	assert.Equal(t, fragment, appErr.Fragment)
}

func TestAccessValidator_Approves(t *testing.T) {
	v := newTestValidator(t)

	queries := map[string]string{
		"fully qualified":        "SELECT * FROM mydigipal.company.clients_dim",
		"backticked":             "SELECT client_id FROM `mydigipal.marts.client_profitability` WHERE profit_gbp > 0",
		"backticked parts":       "SELECT 1 FROM `mydigipal`.`marts`.`client_profitability`",
		"default project":        "SELECT * FROM marts.client_profitability",
		"case insensitive":       "select * from MYDIGIPAL.COMPANY.CLIENTS_DIM",
		"allow-list mixed case":  "SELECT * FROM mydigipal.marts.client_team_breakdown",
		"join":                   "SELECT * FROM marts.client_profitability p JOIN mydigipal.company.clients_dim c ON p.client_id = c.client_id",
		"comma join":             "SELECT * FROM marts.client_profitability p, marts.employee_workload w WHERE p.client_id = w.client_id",
		"subquery":               "SELECT * FROM (SELECT client_id FROM marts.client_profitability) s",
		"in subquery":            "SELECT * FROM mydigipal.company.clients_dim WHERE client_id IN (SELECT client_id FROM marts.employee_workload)",
		"cte":                    "WITH recent AS (SELECT * FROM marts.client_profitability WHERE month >= '2025-01-01') SELECT * FROM recent",
		"two ctes":               "WITH a AS (SELECT 1 FROM marts.employee_workload), b AS (SELECT 2 FROM a) SELECT * FROM a, b",
		"extract from":           "SELECT EXTRACT(YEAR FROM month) AS y FROM marts.client_profitability",
		"is distinct from":       "SELECT * FROM marts.client_profitability WHERE client_id IS DISTINCT FROM 'x'",
		"unnest":                 "SELECT * FROM marts.client_profitability, UNNEST([1, 2, 3]) AS n",
		"cross join unnest":      "SELECT * FROM marts.client_profitability CROSS JOIN UNNEST(tags) AS tag",
		"FROM inside string":     "SELECT 'FROM mydigipal.secret.payroll' AS s FROM marts.client_profitability",
		"FROM inside comment":    "SELECT 1 FROM marts.client_profitability -- JOIN mydigipal.secret.payroll",
		"FROM in block comment":  "SELECT 1 /* FROM mydigipal.secret.payroll */ FROM marts.client_profitability",
		"keyword inside string":  "SELECT * FROM marts.client_profitability WHERE note = 'please drop me'",
		"keyword-like column":    "SELECT created_at, updated_by FROM marts.client_profitability",
		"trailing semicolon":     "SELECT * FROM marts.client_profitability;",
		"parenthesized query":    "(SELECT * FROM marts.client_profitability)",
		"pipe syntax":            "FROM marts.client_profitability |> WHERE profit_gbp > 0 |> AGGREGATE SUM(profit_gbp), COUNT(*)",
		"order by list":          "SELECT a, b FROM marts.client_profitability ORDER BY a, b",
		"parenthesized join":     "SELECT * FROM (marts.client_profitability p JOIN marts.employee_workload w ON p.client_id = w.client_id)",
		"function in select":     "SELECT SUBSTRING(client_name FROM 1 FOR 3) FROM marts.client_profitability",
		"no relation":            "SELECT 1",
		"window function":        "SELECT ROW_NUMBER() OVER (PARTITION BY client_id ORDER BY month) FROM marts.client_profitability",
		"join on with following": "SELECT * FROM marts.client_profitability p JOIN marts.employee_workload w ON p.client_id = w.client_id, mydigipal.company.clients_dim c",
	}

	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, v.Validate(q))
		})
	}
}

func TestAccessValidator_UnauthorizedRelation(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name     string
		query    string
		relation string
	}{
		{"other project", "SELECT * FROM other_project.secret.table", "other_project.secret.table"},
		{"allowed and forbidden", "SELECT c.name, p.salary FROM mydigipal.company.clients_dim c JOIN mydigipal.secret.payroll p ON c.id = p.id", "mydigipal.secret.payroll"},
		{"comma list", "SELECT * FROM marts.client_profitability, mydigipal.secret.payroll", "mydigipal.secret.payroll"},
		{"comma after alias and sample", "SELECT * FROM marts.client_profitability p TABLESAMPLE SYSTEM (10 PERCENT), secret.payroll", "secret.payroll"},
		{"in subquery", "SELECT * FROM marts.client_profitability WHERE id IN (SELECT id FROM secret.payroll)", "secret.payroll"},
		{"inside cte", "WITH x AS (SELECT * FROM secret.payroll) SELECT * FROM x", "secret.payroll"},
		{"backticks", "SELECT * FROM `mydigipal.secret.payroll`", "mydigipal.secret.payroll"},
		{"dashed project", "SELECT * FROM my-other-project.secret.payroll", "my-other-project.secret.payroll"},
		{"wildcard table", "SELECT * FROM marts.events_*", "marts.events_*"},
		{"unqualified", "SELECT * FROM payroll", "payroll"},
		{"table function", "SELECT * FROM ML.PREDICT(MODEL m, TABLE t)", "ml.predict"},
		{"parenthesized join", "SELECT * FROM (secret.payroll p CROSS JOIN marts.client_profitability c)", "secret.payroll"},
		{"nested parens join", "SELECT * FROM ((secret.payroll p CROSS JOIN marts.client_profitability c))", "secret.payroll"},
		{"distinct from is still a relation elsewhere", "SELECT DISTINCT a FROM secret.payroll", "secret.payroll"},
		{"pipe syntax", "FROM secret.payroll |> SELECT *", "secret.payroll"},
		{"lateral", "SELECT * FROM marts.client_profitability p, LATERAL (SELECT * FROM secret.payroll) x", "secret.payroll"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertRejected(t, v.Validate(tt.query), apperrors.KindUnauthorizedRelation, tt.relation)
		})
	}
}

func TestAccessValidator_ForbiddenOperation(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		query   string
		keyword string
	}{
		{"Drop", "Drop TABLE mydigipal.company.clients_dim", "DROP"},
		{"DROP", "DROP TABLE mydigipal.company.clients_dim", "DROP"},
		{"drop", "drop table mydigipal.company.clients_dim", "DROP"},
		{"delete", "DELETE FROM mydigipal.company.clients_dim WHERE 1=1", "DELETE"},
		{"insert", "INSERT INTO mydigipal.company.clients_dim VALUES (1)", "INSERT"},
		{"update", "UPDATE mydigipal.company.clients_dim SET a = 1", "UPDATE"},
		{"truncate", "TRUNCATE TABLE mydigipal.company.clients_dim", "TRUNCATE"},
		{"alter", "ALTER TABLE mydigipal.company.clients_dim ADD COLUMN x INT64", "ALTER"},
		{"create", "CREATE TABLE x AS SELECT 1", "CREATE"},
		{"keyword in cte", "WITH d AS (DELETE FROM mydigipal.company.clients_dim RETURNING *) SELECT * FROM d", "DELETE"},
		{"select into", "SELECT * INTO newtable FROM mydigipal.company.clients_dim", "INTO"},
		{"keyword after select", "SELECT 1 FROM mydigipal.company.clients_dim WHERE EXISTS (SELECT 1) AND drop", "DROP"},
		{"multiple statements", "SELECT 1 FROM mydigipal.company.clients_dim; SELECT 2", ";"},
		{"comment hides nothing", "SELECT 1; -- harmless\nDROP TABLE x", ";"},
		{"not a query", "DECLARE x INT64", "DECLARE"},
		{"execute immediate", "EXECUTE IMMEDIATE 'SELECT 1'", "EXECUTE"},
		{"unterminated string", "SELECT 'abc FROM mydigipal.company.clients_dim", "unterminated literal"},
		{"unterminated comment", "SELECT 1 /* DROP", "/*"},
		{"empty", "  ;  ", "empty statement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertRejected(t, v.Validate(tt.query), apperrors.KindForbiddenOperation, tt.keyword)
		})
	}
}

func TestAccessValidator_RejectionNeverEchoesQuery(t *testing.T) {
	v := newTestValidator(t)
	query := "SELECT salary, ssn FROM mydigipal.secret.payroll WHERE name = 'Alice'"

	err := v.Validate(query)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "salary")
	assert.NotContains(t, err.Error(), "Alice")
	assert.Contains(t, err.Error(), "mydigipal.secret.payroll")
}

func TestAccessValidator_IsDeterministic(t *testing.T) {
	v := newTestValidator(t)
	q := "SELECT * FROM mydigipal.company.clients_dim c JOIN mydigipal.secret.payroll p ON c.id = p.id JOIN other.secret.t o ON o.id = c.id"

	first := v.Validate(q)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, v.Validate(q))
	}
	assertRejected(t, first, apperrors.KindUnauthorizedRelation, "mydigipal.secret.payroll")
}

func TestAccessValidator_Approve_NormalizesText(t *testing.T) {
	v := newTestValidator(t)

	text, err := v.Approve("SELECT * FROM marts.client_profitability; -- trailing")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM marts.client_profitability", text)
}

func TestAccessValidator_Relations(t *testing.T) {
	v := newTestValidator(t)

	rels, err := v.Relations("WITH x AS (SELECT * FROM A.B) SELECT * FROM x JOIN `p.c.d` ON TRUE")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b", "p.c.d"}, rels)
}

func TestAccessValidator_Postgres(t *testing.T) {
	v, err := NewAccessValidator(AccessPolicy{
		Dialect:          models.DialectPostgres,
		AllowedRelations: []string{"public.client_profitability"},
		DefaultQualifier: "public",
	})
	require.NoError(t, err)

	assert.NoError(t, v.Validate(`SELECT * FROM client_profitability`))
	assert.NoError(t, v.Validate(`SELECT * FROM "public"."client_profitability"`))
	// A quoted name containing a dot is one identifier, not a path.
	assertRejected(t, v.Validate(`SELECT * FROM "public.client_profitability"`), apperrors.KindUnauthorizedRelation, "public.client_profitability")
	// Dollar quoting cannot hide a relation.
	assertRejected(t, v.Validate(`SELECT $$'$$ FROM secret --'`), apperrors.KindUnauthorizedRelation, "secret")
	assertRejected(t, v.Validate(`SELECT * FROM client_profitability FOR UPDATE`), apperrors.KindForbiddenOperation, "UPDATE")
}

func TestAccessValidator_AllowedRelations(t *testing.T) {
	v := newTestValidator(t)
	assert.Equal(t, []string{
		"mydigipal.company.clients_dim",
		"mydigipal.marts.client_profitability",
		"mydigipal.marts.client_team_breakdown",
		"mydigipal.marts.employee_workload",
	}, v.AllowedRelations())
}

func TestNewAccessValidator_RejectsMalformedEntries(t *testing.T) {
	for _, entry := range []string{"", "a..b", "a.b.c.d"} {
		_, err := NewAccessValidator(AccessPolicy{Dialect: models.DialectBigQuery, AllowedRelations: []string{entry}})
		assert.Error(t, err, entry)
	}
}

func newPostgresValidator(t *testing.T) *AccessValidator {
	t.Helper()
	v, err := NewAccessValidator(AccessPolicy{
		Dialect:          models.DialectPostgres,
		AllowedRelations: []string{"public.clients"},
		DefaultQualifier: "public",
	})
	require.NoError(t, err)
	return v
}

func newSQLServerValidator(t *testing.T) *AccessValidator {
	t.Helper()
	v, err := NewAccessValidator(AccessPolicy{
		Dialect:          models.DialectSQLServer,
		AllowedRelations: []string{"analytics.dbo.clients"},
		DefaultQualifier: "analytics",
	})
	require.NoError(t, err)
	return v
}

func TestAccessValidator_PostgresApproves(t *testing.T) {
	v := newPostgresValidator(t)

	queries := map[string]string{
		"cte named like a table":  "WITH payroll AS (SELECT * FROM clients) SELECT * FROM payroll",
		"recursive cte":           "WITH RECURSIVE n AS (SELECT 1 AS i UNION ALL SELECT i + 1 FROM n WHERE i < 5) SELECT * FROM n",
		"cte inside subquery":     "SELECT * FROM (WITH c AS (SELECT * FROM clients) SELECT * FROM c) s",
		"outer cte seen in inner": "WITH c AS (SELECT * FROM clients) SELECT * FROM clients WHERE id IN (SELECT id FROM c)",
		"quoted cte":              `WITH "Recent" AS (SELECT * FROM clients) SELECT * FROM "Recent"`,
		"table query on allowed":  "SELECT * FROM clients WHERE id IN (TABLE clients)",
		"only":                    "SELECT * FROM ONLY public.clients",
	}

	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, v.Validate(q))
		})
	}
}

func TestAccessValidator_PostgresAdversarial(t *testing.T) {
	v := newPostgresValidator(t)

	tests := []struct {
		name     string
		query    string
		kind     apperrors.Kind
		fragment string
	}{
		{"cte in subquery does not hide outer table",
			"SELECT * FROM (WITH payroll AS (SELECT 1 AS x) SELECT x FROM payroll) s CROSS JOIN payroll",
			apperrors.KindUnauthorizedRelation, "payroll"},
		{"cte body cannot name itself",
			"WITH payroll AS (SELECT * FROM payroll) SELECT * FROM payroll",
			apperrors.KindUnauthorizedRelation, "payroll"},
		{"later cte is not visible earlier",
			"WITH a AS (SELECT * FROM b), b AS (SELECT * FROM clients) SELECT * FROM a",
			apperrors.KindUnauthorizedRelation, "b"},
		{"quoted cte name is case sensitive",
			`WITH "Payroll" AS (SELECT * FROM clients) SELECT * FROM payroll`,
			apperrors.KindUnauthorizedRelation, "payroll"},
		{"table subquery", "SELECT * FROM public.clients WHERE id IN (TABLE payroll)",
			apperrors.KindUnauthorizedRelation, "payroll"},
		{"table after union", "SELECT * FROM clients UNION ALL TABLE secret.payroll",
			apperrors.KindUnauthorizedRelation, "secret.payroll"},
		{"table statement", "TABLE payroll", apperrors.KindForbiddenOperation, "TABLE"},
		{"sql in xml function", "SELECT query_to_xml('SELECT * FROM payroll', true, false, '')",
			apperrors.KindForbiddenOperation, "QUERY_TO_XML"},
		{"qualified sleep", "SELECT pg_catalog.pg_sleep(600) FROM clients",
			apperrors.KindForbiddenOperation, "PG_SLEEP"},
		{"quoted function name", `SELECT "pg_sleep"(600)`, apperrors.KindForbiddenOperation, "PG_SLEEP"},
		{"dblink", "SELECT * FROM dblink('dbname=hr', 'SELECT salary FROM payroll') AS t(salary int)",
			apperrors.KindForbiddenOperation, "DBLINK"},
		{"multiple statements", "SELECT * FROM clients; SELECT * FROM payroll", apperrors.KindForbiddenOperation, ";"},
		{"semicolon after dollar quote", "SELECT $x$;$x$ FROM clients; DROP TABLE clients", apperrors.KindForbiddenOperation, ";"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertRejected(t, v.Validate(tt.query), tt.kind, tt.fragment)
		})
	}
}

func TestAccessValidator_SQLServerApproves(t *testing.T) {
	v := newSQLServerValidator(t)

	queries := map[string]string{
		"top":               "SELECT TOP 10 * FROM dbo.clients",
		"brackets":          "SELECT [name] FROM [analytics].[dbo].[clients]",
		"table hint":        "SELECT * FROM dbo.clients WITH (NOLOCK)",
		"union all":         "SELECT id FROM dbo.clients UNION ALL SELECT id FROM dbo.clients",
		"except":            "SELECT id FROM dbo.clients EXCEPT SELECT id FROM analytics.dbo.clients",
		"cte":               "WITH c AS (SELECT * FROM dbo.clients) SELECT * FROM c",
		"recursive cte":     "WITH n AS (SELECT 1 AS i UNION ALL SELECT i + 1 FROM n WHERE i < 5) SELECT * FROM n",
		"offset fetch":      "SELECT * FROM dbo.clients ORDER BY id OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY",
		"parenthesized":     "(SELECT id FROM dbo.clients) UNION (SELECT id FROM dbo.clients)",
		"scalar subquery":   "SELECT (SELECT COUNT(*) FROM dbo.clients) AS n",
		"keyword in string": "SELECT * FROM dbo.clients WHERE note = 'EXEC later'",
	}

	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, v.Validate(q))
		})
	}
}

func TestAccessValidator_SQLServerBatches(t *testing.T) {
	v := newSQLServerValidator(t)

	tests := []struct {
		name     string
		query    string
		fragment string
	}{
		{"exec string", "SELECT * FROM dbo.clients EXEC('SELECT * FROM dbo.payroll')", "EXEC"},
		{"exec procedure", "SELECT * FROM dbo.clients EXEC sp_executesql N'SELECT * FROM dbo.payroll'", "EXEC"},
		{"waitfor", "SELECT * FROM dbo.clients WAITFOR DELAY '00:10:00'", "WAITFOR"},
		{"top then exec", "SELECT TOP 10 * FROM dbo.clients EXEC('SELECT * FROM dbo.payroll')", "EXEC"},
		{"declare", "SELECT * FROM dbo.clients DECLARE @x INT", "DECLARE"},
		{"set", "SELECT * FROM dbo.clients SET NOCOUNT ON", "SET"},
		{"use", "SELECT * FROM dbo.clients USE master", "USE"},
		{"backup", "SELECT * FROM dbo.clients BACKUP DATABASE analytics TO DISK = 'x'", "BACKUP"},
		{"second select", "SELECT * FROM dbo.clients SELECT * FROM dbo.clients", "SELECT"},
		{"second select after cte", "WITH c AS (SELECT * FROM dbo.clients) SELECT * FROM c SELECT 1", "SELECT"},
		{"select after parenthesized query", "(SELECT * FROM dbo.clients) SELECT 1", "SELECT"},
		{"openrowset", "SELECT * FROM OPENROWSET('SQLNCLI', 'Server=hr;Trusted_Connection=yes;', 'SELECT * FROM payroll')", "OPENROWSET"},
		{"openquery", "SELECT * FROM OPENQUERY(hr, 'SELECT * FROM payroll')", "OPENQUERY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertRejected(t, v.Validate(tt.query), apperrors.KindForbiddenOperation, tt.fragment)
		})
	}
}

func TestAccessValidator_SQLServerUnauthorizedRelation(t *testing.T) {
	v := newSQLServerValidator(t)

	assertRejected(t, v.Validate("SELECT * FROM dbo.clients c JOIN dbo.payroll p ON p.id = c.id"),
		apperrors.KindUnauthorizedRelation, "dbo.payroll")
	assertRejected(t, v.Validate("SELECT * FROM hr.analytics.dbo.clients"),
		apperrors.KindUnauthorizedRelation, "hr.analytics.dbo.clients")
	assertRejected(t, v.Validate("SELECT * FROM (SELECT * FROM [dbo].[payroll]) x"),
		apperrors.KindUnauthorizedRelation, "dbo.payroll")
}

func TestAccessValidator_NonIdentifierRelationIsNotEchoed(t *testing.T) {
	v := newPostgresValidator(t)

	err := v.Validate("SELECT * FROM 'salary of Alice is 90000'")
	assertRejected(t, err, apperrors.KindUnauthorizedRelation, nonIdentifierRelation)
	assert.NotContains(t, err.Error(), "Alice")
}

func TestAccessValidator_PolicyKeywordsExtendDefaults(t *testing.T) {
	v, err := NewAccessValidator(AccessPolicy{
		Dialect:           models.DialectBigQuery,
		AllowedRelations:  []string{"mydigipal.company.clients_dim"},
		ForbiddenKeywords: []string{" export "},
	})
	require.NoError(t, err)

	assertRejected(t, v.Validate("SELECT export FROM mydigipal.company.clients_dim"),
		apperrors.KindForbiddenOperation, "EXPORT")
	assertRejected(t, v.Validate("SELECT * FROM mydigipal.company.clients_dim WHERE drop"),
		apperrors.KindForbiddenOperation, "DROP")
}
