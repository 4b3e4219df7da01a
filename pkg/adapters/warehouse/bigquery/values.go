package bigquery

import (
	"math/big"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// queryParameters maps bound arguments to named BigQuery parameters. The
// client infers the SQL type from the Go type: civil.Date is DATE, []string
// is ARRAY<STRING>, int64 is INT64.
func queryParameters(args []models.NamedArg) []bigquery.QueryParameter {
	if len(args) == 0 {
		return nil
	}
	params := make([]bigquery.QueryParameter, len(args))
	for i, a := range args {
		params[i] = bigquery.QueryParameter{Name: a.Name, Value: a.Value}
	}
	return params
}

func convertRow(row map[string]bigquery.Value) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = convertValue(v)
	}
	return out
}

// convertValue turns driver values into JSON-friendly ones. NUMERIC arrives
// as *big.Rat and is reported as a float, matching what the dashboard
// charts expect; dates become ISO strings.
func convertValue(v bigquery.Value) any {
	switch val := v.(type) {
	case *big.Rat:
		if val == nil {
			return nil
		}
		f, _ := val.Float64()
		return f
	case civil.Date:
		return val.String()
	case civil.DateTime:
		return val.String()
	case civil.Time:
		return val.String()
	case []bigquery.Value:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = convertValue(elem)
		}
		return out
	case map[string]bigquery.Value:
		return convertRow(val)
	}
	return v
}
