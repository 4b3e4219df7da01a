package sql

/*
Report Template Syntax

# Overview

Report queries are SQL templates stored in the report catalog. A template is
plain warehouse SQL plus three kinds of markers:

	{{name}}          a bound parameter
	{{name.from}}     lower bound of a date_range parameter
	{{name.to}}       upper bound of a date_range parameter
	{{ref:alias}}     a relation from the catalog's static relations map
	[[ ... ]]         an optional clause

Parameter names must start with a letter or underscore followed by letters,
digits or underscores: [a-zA-Z_]\w*

# Binding

Parameter values are never written into query text. Each {{name}} becomes a
placeholder in the dialect of the template and the value travels separately:

| Dialect   | Placeholder | Arrays                              |
|-----------|-------------|-------------------------------------|
| bigquery  | @name       | ARRAY<STRING> parameter             |
| postgres  | $1, $2, ... | text[] parameter                    |
| sqlserver | @name       | expanded to @name_0, @name_1, ...   |

Date range bounds bind as name_from and name_to. A parameter used more than
once binds once.

{{ref:alias}} is the only marker rendered into the text. Its value comes from
configuration and is quoted for the dialect (`a.b.c`, "a"."b", [a].[b].[c]).

# Optional Clauses

A clause inside [[ ]] is emitted only when every parameter it references has a
value; otherwise the whole clause is dropped. Each clause is independent:

	SELECT month, SUM(hours_worked) AS hours
	FROM {{ref:client_profitability}}
	WHERE client_id != 'mydigipal'
	  [[AND month >= {{period.from}}]]
	  [[AND month <= {{period.to}}]]
	GROUP BY 1

With only date_from supplied the second clause disappears; there is no
sentinel upper bound. Clauses cannot nest.

# Registration Rules

A template is rejected when it is registered if:

  - a placeholder names an undeclared parameter or unknown relation alias
  - a declared parameter is never referenced
  - an optional parameter without a default appears outside [[ ]]
  - a date_range is referenced without .from or .to, or outside [[ ]]
  - a placeholder sits inside a string literal ('... {{x}} ...')
  - a default does not parse as the declared type

# Parameter Types

| Type         | Request form               | Bound Go value  |
|--------------|----------------------------|-----------------|
| date         | 2025-01-31, 20250131, ...  | civil.Date      |
| date_range   | two request keys           | civil.Date x2   |
| text         | any string                 | string          |
| identifier   | [A-Za-z0-9_.:@-]{1,128}    | string          |
| string_array | comma separated            | []string        |
| integer      | decimal digits             | int64           |
| bool         | true/false/1/0/yes/no      | bool            |

Text values that look like SQL injection are logged (libinjection) and still
bound unchanged.
*/
