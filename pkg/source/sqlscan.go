// SPDX-License-Identifier: Apache-2.0

package source

import (
	"database/sql"
)

// ScanRows drains *sql.Rows into []Row, marking SQL NULL with NullSentinel
// and truncating any cell over MaxCellBytes. Shared by every
// database/sql-backed adapter (MariaDB, MSSQL, Oracle, PostgreSQL) so the
// NULL/truncation contract in spec §4.2 is enforced in exactly one place.
func ScanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	raw := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		row := Row{
			Cells:     make([]string, len(cols)),
			Truncated: make([]bool, len(cols)),
		}
		for i, v := range raw {
			if !v.Valid {
				row.Cells[i] = NullSentinel
				continue
			}
			cell := v.String
			if len(cell) > MaxCellBytes {
				cell = cell[:MaxCellBytes]
				row.Truncated[i] = true
			}
			row.Cells[i] = cell
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ParseCountDefensive parses a COUNT(*) scan result defensively: a parse
// failure or negative count yields 0 rather than propagating (spec §4.1
// Step 0: "any parse failure or overflow yields 0").
func ParseCountDefensive(n int64, err error) int64 {
	if err != nil || n < 0 {
		return 0
	}
	return n
}
