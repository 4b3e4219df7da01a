// Package catalog loads report endpoint definitions: routes, parameters and
// the SQL templates behind them, plus the static relation aliases templates
// may splice and the table descriptions offered to the chat model.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/sql"
)

//go:embed reports.yaml
var defaultCatalog []byte

// DefaultTTL applies to endpoints that do not set one.
const DefaultTTL = 5 * time.Minute

var (
	idPattern        = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	pathParamPattern = regexp.MustCompile(`\{([a-zA-Z_]\w*)\}`)
)

// Table describes a relation the chat model may query.
type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Columns     []string `yaml:"columns" json:"columns,omitempty"`
}

// Catalog is the parsed report catalog.
type Catalog struct {
	Dialect   models.Dialect     `yaml:"dialect"`
	Relations map[string]string  `yaml:"relations"`
	Tables    []Table            `yaml:"tables"`
	Endpoints []*models.Endpoint `yaml:"endpoints"`
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if c.Dialect == "" {
		c.Dialect = models.DialectBigQuery
	}
	if _, err := models.ParseDialect(string(c.Dialect)); err != nil {
		return nil, err
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() error {
	ids := make(map[string]bool)
	routes := make(map[string]bool)

	for _, ep := range c.Endpoints {
		if !idPattern.MatchString(ep.ID) {
			return fmt.Errorf("endpoint id %q must match %s", ep.ID, idPattern)
		}
		if ids[ep.ID] {
			return fmt.Errorf("endpoint %q is declared twice", ep.ID)
		}
		ids[ep.ID] = true

		if !strings.HasPrefix(ep.Route, "/") {
			return fmt.Errorf("endpoint %q: route must start with /", ep.ID)
		}
		if routes[ep.Route] {
			return fmt.Errorf("endpoint %q: route %s is already used", ep.ID, ep.Route)
		}
		routes[ep.Route] = true

		if ep.TTL == 0 {
			ep.TTL = DefaultTTL
		}
		if len(ep.Sections) == 0 {
			return fmt.Errorf("endpoint %q has no sections", ep.ID)
		}
		if err := normalizeShape(ep); err != nil {
			return err
		}
		if err := normalizeParams(ep); err != nil {
			return err
		}
	}
	return nil
}

func normalizeShape(ep *models.Endpoint) error {
	switch ep.Shape {
	case "":
		ep.Shape = models.ShapeRows
		if len(ep.Sections) > 1 {
			ep.Shape = models.ShapeObject
		}
	case models.ShapeObject:
	case models.ShapeRows, models.ShapeFirst:
		if len(ep.Sections) > 1 {
			return fmt.Errorf("endpoint %q: shape %q needs exactly one section", ep.ID, ep.Shape)
		}
	default:
		return fmt.Errorf("endpoint %q: unknown shape %q", ep.ID, ep.Shape)
	}

	seen := make(map[string]bool)
	for _, s := range ep.Sections {
		if !idPattern.MatchString(s.Name) {
			return fmt.Errorf("endpoint %q: section name %q must match %s", ep.ID, s.Name, idPattern)
		}
		if seen[s.Name] {
			return fmt.Errorf("endpoint %q: section %q is declared twice", ep.ID, s.Name)
		}
		seen[s.Name] = true
		if s.Single && ep.Shape != models.ShapeObject {
			return fmt.Errorf("endpoint %q: section %q is single but shape is %q", ep.ID, s.Name, ep.Shape)
		}
	}
	return nil
}

func normalizeParams(ep *models.Endpoint) error {
	pathParams := make(map[string]bool)
	for _, m := range pathParamPattern.FindAllStringSubmatch(ep.Route, -1) {
		pathParams[m[1]] = true
	}

	used := make(map[string]bool)
	for _, s := range ep.Sections {
		for _, name := range sql.ExtractParameters(s.SQL) {
			used[name] = true
		}
	}

	for i := range ep.Params {
		p := &ep.Params[i]
		if _, err := models.ParseParamType(string(p.Type)); err != nil {
			return fmt.Errorf("endpoint %q: parameter %q: %w", ep.ID, p.Name, err)
		}
		if !used[p.Name] {
			return fmt.Errorf("endpoint %q: parameter '%s' is defined but not used in SQL", ep.ID, p.Name)
		}

		if p.Source == "" {
			p.Source = models.SourceQuery
			if pathParams[p.Name] {
				p.Source = models.SourcePath
			}
		}
		switch p.Source {
		case models.SourcePath:
			if !pathParams[p.Name] {
				return fmt.Errorf("endpoint %q: path parameter %q is not in route %s", ep.ID, p.Name, ep.Route)
			}
			if p.Type == models.ParamDateRange {
				return fmt.Errorf("endpoint %q: date range %q cannot come from the path", ep.ID, p.Name)
			}
			p.Required = true
		case models.SourceQuery:
		default:
			return fmt.Errorf("endpoint %q: parameter %q has unknown source %q", ep.ID, p.Name, p.Source)
		}

		if len(p.Keys) == 0 {
			if p.Type == models.ParamDateRange {
				p.Keys = []string{"date_from", "date_to"}
			} else {
				p.Keys = []string{p.Name}
			}
		}
		want := 1
		if p.Type == models.ParamDateRange {
			want = 2
		}
		if len(p.Keys) != want {
			return fmt.Errorf("endpoint %q: parameter %q needs %d request key(s)", ep.ID, p.Name, want)
		}
		delete(pathParams, p.Name)
	}

	for name := range pathParams {
		return fmt.Errorf("endpoint %q: route segment {%s} has no parameter", ep.ID, name)
	}
	return nil
}

// Endpoint returns the endpoint with the given id.
func (c *Catalog) Endpoint(id string) (*models.Endpoint, bool) {
	for _, ep := range c.Endpoints {
		if ep.ID == id {
			return ep, true
		}
	}
	return nil, false
}

// TableNames returns the described tables, sorted.
func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}

// Templates expands every endpoint section into a builder template. Each
// template declares only the endpoint parameters its SQL references.
func (c *Catalog) Templates() []sql.Template {
	var out []sql.Template
	for _, ep := range c.Endpoints {
		for _, s := range ep.Sections {
			referenced := make(map[string]bool)
			for _, name := range sql.ExtractParameters(s.SQL) {
				referenced[name] = true
			}
			var params []models.ParamDef
			for _, p := range ep.Params {
				if referenced[p.Name] {
					params = append(params, p)
				}
			}
			out = append(out, sql.Template{
				ID:        ep.TemplateID(s.Name),
				SQL:       s.SQL,
				Dialect:   c.Dialect,
				Params:    params,
				Relations: c.Relations,
			})
		}
	}
	return out
}

// Register loads every section template into b.
func (c *Catalog) Register(b *sql.Builder) error {
	for _, t := range c.Templates() {
		if err := b.Register(t); err != nil {
			return err
		}
	}
	return nil
}
