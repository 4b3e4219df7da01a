package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/sql"
)

func TestLoad_DefaultCatalog(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, models.DialectBigQuery, c.Dialect)
	assert.NotEmpty(t, c.Tables)

	b := sql.NewBuilder()
	require.NoError(t, c.Register(b))

	ids := b.IDs()
	assert.Contains(t, ids, "clients.rows")
	assert.Contains(t, ids, "client_detail.monthly")
	assert.Contains(t, ids, "client_detail.team")
	assert.Contains(t, ids, "budget_progress.clients")

	for _, id := range []string{"clients", "monthly", "employees", "employee_detail", "client_detail", "alerts", "date_range", "health_latest"} {
		_, ok := c.Endpoint(id)
		assert.True(t, ok, id)
	}
}

func TestLoad_DefaultCatalogBuildsWithoutParameters(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	b := sql.NewBuilder()
	require.NoError(t, c.Register(b))

	q, err := b.Build("clients.rows", nil)
	require.NoError(t, err)
	assert.Contains(t, q.Text, "`mydigipal.marts.client_profitability`")
	assert.NotContains(t, q.Text, "month >=")
	require.Len(t, q.Args, 1)
	assert.Equal(t, "include_paul", q.Args[0].Name)
	assert.Equal(t, false, q.Args[0].Value)
}

func TestLoad_DefaultsAndSources(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	detail, ok := c.Endpoint("client_detail")
	require.True(t, ok)
	assert.Equal(t, models.ShapeObject, detail.Shape)
	assert.Equal(t, DefaultTTL, detail.TTL)
	p, ok := detail.Param("client_id")
	require.True(t, ok)
	assert.Equal(t, models.SourcePath, p.Source)
	assert.True(t, p.Required)
	assert.Equal(t, []string{"client_id"}, p.Keys)

	clients, _ := c.Endpoint("clients")
	assert.Equal(t, models.ShapeRows, clients.Shape)
	assert.Equal(t, 10*time.Minute, clients.TTL)
	period, ok := clients.Param("period")
	require.True(t, ok)
	assert.Equal(t, models.SourceQuery, period.Source)
	assert.Equal(t, []string{"date_from", "date_to"}, period.Keys)

	dr, _ := c.Endpoint("date_range")
	assert.Equal(t, models.ShapeFirst, dr.Shape)
}

func TestLoad_PaidMediaCombinesPlatforms(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	ep, ok := c.Endpoint("analytics_paid_media")
	require.True(t, ok)
	assert.Equal(t, "/api/analytics/paid-media", ep.Route)
	assert.Equal(t, models.ShapeObject, ep.Shape)

	single := make(map[string]bool)
	var names []string
	for _, s := range ep.Sections {
		names = append(names, s.Name)
		single[s.Name] = s.Single
	}
	assert.Equal(t, []string{"summary", "timeline", "platform_breakdown", "platforms_available"}, names)
	assert.Equal(t, map[string]bool{
		"summary": true, "timeline": false, "platform_breakdown": false, "platforms_available": true,
	}, single)

	period, ok := ep.Param("period")
	require.True(t, ok)
	assert.Equal(t, []string{"date_from", "date_to"}, period.Keys)

	b := sql.NewBuilder()
	require.NoError(t, c.Register(b))
	from, err := models.ParseDate("2025-01-01")
	require.NoError(t, err)
	rng, err := models.NewDateRange(&from, nil)
	require.NoError(t, err)

	q, err := b.Build(ep.TemplateID("platform_breakdown"), models.ParameterSet{
		"client_id": models.Identifier("acme"),
		"period":    rng,
	})
	require.NoError(t, err)
	for _, table := range []string{"meta_ads_daily", "google_ads_daily", "linkedin_ads_daily"} {
		assert.Contains(t, q.Text, "`mydigipal.marts."+table+"`")
	}
	assert.Equal(t, 3, strings.Count(q.Text, "date >= @period_from"))
	assert.NotContains(t, q.Text, "date <=")
}

func TestTemplates_RestrictParamsPerSection(t *testing.T) {
	c, err := Parse([]byte(`
relations:
  t: a.b.c
endpoints:
  - id: combo
    route: /api/combo
    params:
      - {name: client_id, type: identifier, required: true}
      - {name: period, type: date_range}
    sections:
      - name: totals
        sql: SELECT 1 FROM {{ref:t}} WHERE client_id = {{client_id}}
      - name: trend
        sql: SELECT 2 FROM {{ref:t}} WHERE client_id = {{client_id}} [[AND d >= {{period.from}}]]
`))
	require.NoError(t, err)

	templates := c.Templates()
	require.Len(t, templates, 2)
	assert.Equal(t, "combo.totals", templates[0].ID)
	require.Len(t, templates[0].Params, 1)
	assert.Equal(t, "client_id", templates[0].Params[0].Name)
	assert.Len(t, templates[1].Params, 2)

	require.NoError(t, c.Register(sql.NewBuilder()))
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad dialect",
			yaml:    "dialect: oracle",
			wantErr: "oracle",
		},
		{
			name: "bad id",
			yaml: `
endpoints:
  - {id: Bad-Id, route: /x, sections: [{name: rows, sql: SELECT 1}]}`,
			wantErr: "must match",
		},
		{
			name: "duplicate id",
			yaml: `
endpoints:
  - {id: a, route: /a, sections: [{name: rows, sql: SELECT 1}]}
  - {id: a, route: /b, sections: [{name: rows, sql: SELECT 1}]}`,
			wantErr: "declared twice",
		},
		{
			name: "duplicate route",
			yaml: `
endpoints:
  - {id: a, route: /a, sections: [{name: rows, sql: SELECT 1}]}
  - {id: b, route: /a, sections: [{name: rows, sql: SELECT 1}]}`,
			wantErr: "already used",
		},
		{
			name: "relative route",
			yaml: `
endpoints:
  - {id: a, route: api/a, sections: [{name: rows, sql: SELECT 1}]}`,
			wantErr: "must start with /",
		},
		{
			name: "no sections",
			yaml: `
endpoints:
  - {id: a, route: /a}`,
			wantErr: "no sections",
		},
		{
			name: "rows shape with two sections",
			yaml: `
endpoints:
  - id: a
    route: /a
    shape: rows
    sections: [{name: x, sql: SELECT 1}, {name: y, sql: SELECT 2}]`,
			wantErr: "exactly one section",
		},
		{
			name: "single section outside object shape",
			yaml: `
endpoints:
  - {id: a, route: /a, shape: first, sections: [{name: rows, single: true, sql: SELECT 1}]}`,
			wantErr: "is single",
		},
		{
			name: "unknown shape",
			yaml: `
endpoints:
  - {id: a, route: /a, shape: csv, sections: [{name: rows, sql: SELECT 1}]}`,
			wantErr: "unknown shape",
		},
		{
			name: "unused parameter",
			yaml: `
endpoints:
  - id: a
    route: /a
    params: [{name: x, type: text}]
    sections: [{name: rows, sql: SELECT 1}]`,
			wantErr: "defined but not used",
		},
		{
			name: "unknown parameter type",
			yaml: `
endpoints:
  - id: a
    route: /a
    params: [{name: x, type: blob}]
    sections: [{name: rows, sql: "SELECT {{x}}"}]`,
			wantErr: "blob",
		},
		{
			name: "route segment without parameter",
			yaml: `
endpoints:
  - {id: a, route: "/a/{id}", sections: [{name: rows, sql: SELECT 1}]}`,
			wantErr: "has no parameter",
		},
		{
			name: "date range from path",
			yaml: `
endpoints:
  - id: a
    route: "/a/{p}"
    params: [{name: p, type: date_range}]
    sections: [{name: rows, sql: "SELECT 1 [[WHERE d >= {{p.from}}]]"}]`,
			wantErr: "cannot come from the path",
		},
		{
			name: "path source not in route",
			yaml: `
endpoints:
  - id: a
    route: /a
    params: [{name: x, type: text, source: path}]
    sections: [{name: rows, sql: "SELECT {{x}}"}]`,
			wantErr: "not in route",
		},
		{
			name: "wrong key count",
			yaml: `
endpoints:
  - id: a
    route: /a
    params: [{name: p, type: date_range, keys: [start]}]
    sections: [{name: rows, sql: "SELECT 1 [[WHERE d >= {{p.from}}]]"}]`,
			wantErr: "needs 2 request key(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegister_SurfacesTemplateErrors(t *testing.T) {
	c, err := Parse([]byte(`
endpoints:
  - id: a
    route: /a
    params: [{name: name, type: text}]
    sections: [{name: rows, sql: "SELECT 1 WHERE n = {{name}}"}]
`))
	require.NoError(t, err)

	err = c.Register(sql.NewBuilder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.rows")
}

func TestTableNames(t *testing.T) {
	c := &Catalog{Tables: []Table{{Name: "z.b"}, {Name: "a.b"}}}
	assert.Equal(t, []string{"a.b", "z.b"}, c.TableNames())
}
