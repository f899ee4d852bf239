// SPDX-License-Identifier: Apache-2.0

// Package normalize implements the per-engine value normalization
// contract (spec §4.3.4): map a raw source cell string to a Go value
// ready to bind as a PostgreSQL parameter, applying NULL sentinels and
// safe defaults for invalid dates/numerics. This policy is source→lake
// only and MUST NOT run on PG→PG transfers (spec §4.3.4).
package normalize

import (
	"strconv"
	"strings"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/source"
)

// MaxNumericPrecision caps NUMERIC precision/scale; values declared beyond
// this are replaced with NUMERIC(18,4) (spec §4.3.4).
const MaxNumericPrecision = 1000

// FallbackNumeric is substituted when a column declares a NUMERIC
// precision/scale over MaxNumericPrecision.
const FallbackNumeric = "NUMERIC(18,4)"

var allZeroDates = []string{"0000-00-00", "0000-00-00 00:00:00", "1900-01-01", "1970-01-01"}

// IsNullSentinel reports whether raw should be treated as SQL NULL: the
// adapter's own NullSentinel, an empty string, the literal "NULL"
// (case-insensitive), backslash escapes, all-zero dates, or any byte
// outside printable ASCII except tab/LF/CR (spec §4.3.4).
func IsNullSentinel(raw string) bool {
	if raw == source.NullSentinel || raw == "" || raw == `\N` || raw == `\0` {
		return true
	}
	if strings.EqualFold(raw, "NULL") {
		return true
	}
	for _, z := range allZeroDates {
		if strings.HasPrefix(raw, z) {
			return true
		}
	}
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b == 0x09 || b == 0x0A || b == 0x0D {
			continue
		}
		if b < 0x20 || b > 0x7E {
			return true
		}
	}
	return false
}

// pgCategory buckets a source type string into the handful of PG-literal
// families the normalizer cares about. Dialect-specific type names (e.g.
// "varchar2" on Oracle, "nvarchar" on MSSQL) are folded to the same
// category as their PostgreSQL analogue.
type pgCategory int

const (
	categoryText pgCategory = iota
	categoryNumeric
	categoryBoolean
	categoryTimestamp
	categoryDate
	categoryTime
)

func categorize(sourceType string) pgCategory {
	t := strings.ToLower(sourceType)
	switch {
	case strings.Contains(t, "bool"):
		return categoryBoolean
	case strings.Contains(t, "bit") && t == "bit":
		return categoryBoolean
	case strings.Contains(t, "timestamp"), strings.Contains(t, "datetime"):
		return categoryTimestamp
	case t == "date":
		return categoryDate
	case t == "time":
		return categoryTime
	case strings.Contains(t, "int"), strings.Contains(t, "numeric"), strings.Contains(t, "decimal"),
		strings.Contains(t, "float"), strings.Contains(t, "double"), strings.Contains(t, "real"):
		return categoryNumeric
	default:
		return categoryText
	}
}

// nullDefault returns the safe substitute for NULL in the given category,
// per the table in spec §4.3.4. TEXT returns (nil, true) — a genuine SQL
// NULL — since the spec only requires substitutes for the other families.
func nullDefault(cat pgCategory) (value any, isNull bool) {
	switch cat {
	case categoryNumeric:
		return 0, false
	case categoryBoolean:
		return false, false
	case categoryTimestamp:
		return "1970-01-01 00:00:00", false
	case categoryDate:
		return "1970-01-01", false
	case categoryTime:
		return "00:00:00", false
	default:
		return nil, true
	}
}

// Value normalizes one raw source cell into a Go value bindable as a PG
// parameter. engine gates the policy: PostgreSQL sources are passed
// through untouched since this is a source→lake-only policy.
func Value(engine catalog.Engine, raw string, col source.Column) any {
	if engine == catalog.EnginePostgreSQL {
		if raw == source.NullSentinel {
			return nil
		}
		return raw
	}

	cat := categorize(col.Type)

	if IsNullSentinel(raw) {
		v, isNull := nullDefault(cat)
		if isNull {
			return nil
		}
		return v
	}

	switch cat {
	case categoryBoolean:
		return normalizeBoolean(raw)
	case categoryNumeric:
		return normalizeNumeric(raw)
	default:
		return raw
	}
}

// normalizeBoolean coerces the MySQL/MSSQL boolean vocabulary onto PG
// boolean literals (spec §4.3.4): N|0|false -> false, Y|1|true -> true.
func normalizeBoolean(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "n", "0", "false":
		return false
	case "y", "1", "true":
		return true
	default:
		return false
	}
}

// normalizeNumeric returns raw unchanged if it parses as a number, else
// "0" — a defensive fallback for malformed numeric literals from the
// source, consistent with the Count() parsing policy in pkg/source.
func normalizeNumeric(raw string) string {
	if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err != nil {
		return "0"
	}
	return raw
}

// EffectiveNumericType returns the declared NUMERIC(precision,scale) type,
// or FallbackNumeric if precision/scale exceeds MaxNumericPrecision (spec
// §4.3.4).
func EffectiveNumericType(col source.Column) string {
	if col.Precision > MaxNumericPrecision || col.Scale > MaxNumericPrecision {
		return FallbackNumeric
	}
	return ""
}

// EffectiveVarcharType returns "" (meaning: use the declared length) or
// "VARCHAR" (unsized fallback) when the column's length metadata is
// invalid, per spec §4.3.4 ("VARCHAR with invalid length metadata falls
// back to unsized VARCHAR").
func EffectiveVarcharType(col source.Column) string {
	if col.Length <= 0 {
		return "VARCHAR"
	}
	return ""
}
