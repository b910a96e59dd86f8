// Package domain models the two public-health datasets joined by the ETL and
// the pure transforms that align them by state and month.
//
// # Data Sources
//
// Dengue notifications arrive as pipe-delimited text, one row per municipality
// and epidemiological week:
//
//	id|data_iniSE|casos|ibge_code|cidade|uf|cep|latitude|longitude
//	1|2015-01-03|10|230010|Abaiara|CE|63240-000|-7.3|-39.0
//
// data_iniSE is the first day of the epidemiological week ("YYYY-MM-DD").
// casos is free text in the source extract: empty strings, "NaN" and other
// non-numeric markers occur and count as zero cases. Fractional counts such
// as "3.0" are truncated toward zero.
//
// Rainfall readings arrive as comma-delimited text, one row per station reading:
//
//	data,mm,uf
//	2015-01-15,504.0,CE
//
// Negative millimeter values are sensor sentinels and are clamped to zero.
// A non-numeric mm value is a hard decode error (see [ErrInvalidRainfall]).
//
// # Aggregate Keys
//
// Both datasets are reduced to an [AggregateKey] of the form "UF-YYYY-MM",
// e.g. "CE-2015-01". The year-month part is the first two "-" separated tokens
// of the date column. Malformed dates are not rejected: "2015" yields "2015"
// and the key becomes "CE-2015", which then fails to decompose at output time
// only if it survives the join.
//
// # Join
//
// Aggregates are co-grouped by key into a [JoinedRecord]. Keys missing either
// side are dropped, so the output is exactly the inner join of both aggregates.
// Each surviving key is decomposed back into uf, year and month and serialized
// as a ";" delimited row under the fixed [Header].
//
// All functions in this package are pure and safe to call from any number of
// goroutines. The aggregation combiners ([SumCases], [SumRainfall]) are
// associative and commutative so partial sums can be merged in any order.
package domain
