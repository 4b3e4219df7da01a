package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// InjectionCheckResult describes a parameter value that looks like SQL.
type InjectionCheckResult struct {
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string
	ParamValue  string
}

// CheckParameterForInjection runs libinjection over a string value.
//
// A match is a signal for logging only. Values are always bound, so an
// injection-shaped value is inert; rejecting it would break legitimate
// searches for text that happens to look like SQL.
//
// Example:
//
//	result := CheckParameterForInjection("search", "'; DROP TABLE users--")
//	// result.Fingerprint == "s&1c" (or similar)
func CheckParameterForInjection(paramName, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Fingerprint: string(fingerprint),
		ParamName:   paramName,
		ParamValue:  value,
	}
}

// CheckAllParameters checks every text-like value in a ParameterSet.
// Dates, numbers and booleans are typed and cannot carry SQL.
func CheckAllParameters(params models.ParameterSet) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, name := range params.Names() {
		switch v := params[name].(type) {
		case models.Text:
			if r := CheckParameterForInjection(name, string(v)); r != nil {
				results = append(results, r)
			}
		case models.Identifier:
			if r := CheckParameterForInjection(name, string(v)); r != nil {
				results = append(results, r)
			}
		case models.StringArray:
			for _, s := range v {
				if r := CheckParameterForInjection(name, s); r != nil {
					results = append(results, r)
				}
			}
		}
	}
	return results
}
