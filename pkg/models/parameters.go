package models

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
)

// ParamType names the declared type of a template parameter.
type ParamType string

const (
	ParamDate        ParamType = "date"
	ParamDateRange   ParamType = "date_range"
	ParamText        ParamType = "text"
	ParamIdentifier  ParamType = "identifier"
	ParamStringArray ParamType = "string_array"
	ParamInteger     ParamType = "integer"
	ParamBool        ParamType = "bool"
)

var paramTypes = map[ParamType]bool{
	ParamDate:        true,
	ParamDateRange:   true,
	ParamText:        true,
	ParamIdentifier:  true,
	ParamStringArray: true,
	ParamInteger:     true,
	ParamBool:        true,
}

// ParseParamType validates a type name from configuration.
func ParseParamType(s string) (ParamType, error) {
	t := ParamType(strings.ToLower(strings.TrimSpace(s)))
	if !paramTypes[t] {
		return "", fmt.Errorf("unknown parameter type %q", s)
	}
	return t, nil
}

// Value is a typed parameter value. The set of implementations is closed:
// Date, DateRange, Text, Identifier, StringArray, Integer and Bool.
type Value interface {
	Type() ParamType
	// Canonical is the fixed textual form used for cache keys. Equivalent
	// inputs (date spellings, boolean casing) produce the same string.
	Canonical() string
	isValue()
}

type Date struct {
	civil.Date
}

type DateRange struct {
	From *Date
	To   *Date
}

type Text string

type Identifier string

type StringArray []string

type Integer int64

type Bool bool

func (Date) Type() ParamType        { return ParamDate }
func (DateRange) Type() ParamType   { return ParamDateRange }
func (Text) Type() ParamType        { return ParamText }
func (Identifier) Type() ParamType  { return ParamIdentifier }
func (StringArray) Type() ParamType { return ParamStringArray }
func (Integer) Type() ParamType     { return ParamInteger }
func (Bool) Type() ParamType        { return ParamBool }

func (Date) isValue()        {}
func (DateRange) isValue()   {}
func (Text) isValue()        {}
func (Identifier) isValue()  {}
func (StringArray) isValue() {}
func (Integer) isValue()     {}
func (Bool) isValue()        {}

func (d Date) Canonical() string { return d.Date.String() }

func (r DateRange) Canonical() string {
	var from, to string
	if r.From != nil {
		from = r.From.Canonical()
	}
	if r.To != nil {
		to = r.To.Canonical()
	}
	return from + ".." + to
}

func (t Text) Canonical() string       { return string(t) }
func (i Identifier) Canonical() string { return string(i) }
func (n Integer) Canonical() string    { return strconv.FormatInt(int64(n), 10) }
func (b Bool) Canonical() string       { return strconv.FormatBool(bool(b)) }

func (a StringArray) Canonical() string {
	quoted := make([]string, len(a))
	for i, s := range a {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.From == nil && r.To == nil
}

// NewDate builds a Date from calendar components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{civil.Date{Year: year, Month: month, Day: day}}
}

// NewDateRange builds a range, rejecting a lower bound after the upper bound.
func NewDateRange(from, to *Date) (DateRange, error) {
	if from != nil && to != nil && from.After(to.Date) {
		return DateRange{}, apperrors.InvalidParameter("date_range", "range start %s is after end %s", from.Canonical(), to.Canonical())
	}
	return DateRange{From: from, To: to}, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseDate accepts the date spellings browsers and scripts send and returns
// the calendar day they name.
func ParseDate(raw string) (Date, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{civil.DateOf(t)}, nil
		}
	}
	return Date{}, fmt.Errorf("%q is not an ISO-8601 date", raw)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,128}$`)

// ParseValue converts raw request text into a typed value.
// Errors are InvalidParameter errors naming the parameter.
func ParseValue(name string, t ParamType, raw string) (Value, error) {
	switch t {
	case ParamDate:
		d, err := ParseDate(raw)
		if err != nil {
			return nil, apperrors.InvalidParameter(name, "%v", err)
		}
		return d, nil

	case ParamDateRange:
		from, to, ok := strings.Cut(raw, "..")
		if !ok {
			return nil, apperrors.InvalidParameter(name, "date range must be written as FROM..TO")
		}
		var r DateRange
		if strings.TrimSpace(from) != "" {
			d, err := ParseDate(from)
			if err != nil {
				return nil, apperrors.InvalidParameter(name, "%v", err)
			}
			r.From = &d
		}
		if strings.TrimSpace(to) != "" {
			d, err := ParseDate(to)
			if err != nil {
				return nil, apperrors.InvalidParameter(name, "%v", err)
			}
			r.To = &d
		}
		if r.From != nil && r.To != nil && r.From.After(r.To.Date) {
			return nil, apperrors.InvalidParameter(name, "range start %s is after end %s", r.From.Canonical(), r.To.Canonical())
		}
		return r, nil

	case ParamText:
		return Text(raw), nil

	case ParamIdentifier:
		s := strings.TrimSpace(raw)
		if !identifierPattern.MatchString(s) {
			return nil, apperrors.InvalidParameter(name, "%q is not a valid identifier", raw)
		}
		return Identifier(s), nil

	case ParamStringArray:
		var out StringArray
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if out == nil {
			out = StringArray{}
		}
		return out, nil

	case ParamInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, apperrors.InvalidParameter(name, "%q is not an integer", raw)
		}
		return Integer(n), nil

	case ParamBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes", "on":
			return Bool(true), nil
		case "false", "0", "no", "off":
			return Bool(false), nil
		}
		return nil, apperrors.InvalidParameter(name, "%q is not a boolean", raw)
	}

	return nil, apperrors.InvalidParameter(name, "unsupported parameter type %q", t)
}

// ParameterSet maps parameter names to typed values for one request.
type ParameterSet map[string]Value

// Names returns the parameter names in sorted order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Canonical serializes the set independently of insertion order and of how
// each value was spelled on input.
func (p ParameterSet) Canonical() string {
	var b strings.Builder
	for i, name := range p.Names() {
		if i > 0 {
			b.WriteByte('&')
		}
		v := p[name]
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(string(v.Type()))
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(v.Canonical()))
	}
	return b.String()
}

// Subset returns the values whose names are listed. Missing names are skipped.
func (p ParameterSet) Subset(names []string) ParameterSet {
	out := make(ParameterSet, len(names))
	for _, name := range names {
		if v, ok := p[name]; ok {
			out[name] = v
		}
	}
	return out
}

// Get returns the value for name, or nil.
func (p ParameterSet) Get(name string) Value {
	return p[name]
}
