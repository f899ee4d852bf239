// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/source"
)

func TestIsNullSentinel(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"", true},
		{"NULL", true},
		{"null", true},
		{`\N`, true},
		{`\0`, true},
		{"0000-00-00", true},
		{"1970-01-01", true},
		{"1970-01-01 12:00:00", true},
		{"hello", false},
		{"1970-02-01", false},
		{"\x01bad", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, IsNullSentinel(c.raw), "raw=%q", c.raw)
	}
}

func TestValueBoolean(t *testing.T) {
	col := source.Column{Type: "tinyint(1)"}
	// tinyint doesn't match "bool" category by name, so use an explicit bool type.
	col.Type = "boolean"

	assert.Equal(t, true, Value(catalog.EngineMariaDB, "Y", col))
	assert.Equal(t, true, Value(catalog.EngineMariaDB, "1", col))
	assert.Equal(t, false, Value(catalog.EngineMariaDB, "N", col))
	assert.Equal(t, false, Value(catalog.EngineMariaDB, "0", col))
}

func TestValueNullDefaults(t *testing.T) {
	numCol := source.Column{Type: "decimal"}
	assert.Equal(t, 0, Value(catalog.EngineMSSQL, "NULL", numCol))

	tsCol := source.Column{Type: "datetime"}
	assert.Equal(t, "1970-01-01 00:00:00", Value(catalog.EngineMSSQL, "NULL", tsCol))

	textCol := source.Column{Type: "varchar"}
	assert.Nil(t, Value(catalog.EngineMSSQL, "NULL", textCol))
}

func TestValueIdempotent(t *testing.T) {
	col := source.Column{Type: "int"}
	v1 := Value(catalog.EngineOracle, "42", col)
	v2 := Value(catalog.EngineOracle, v1.(string), col)
	assert.Equal(t, v1, v2)
}

func TestPostgresPassthrough(t *testing.T) {
	col := source.Column{Type: "boolean"}
	assert.Equal(t, "Y", Value(catalog.EnginePostgreSQL, "Y", col))
	assert.Nil(t, Value(catalog.EnginePostgreSQL, source.NullSentinel, col))
}

func TestEffectiveNumericType(t *testing.T) {
	assert.Equal(t, FallbackNumeric, EffectiveNumericType(source.Column{Precision: 2000}))
	assert.Equal(t, "", EffectiveNumericType(source.Column{Precision: 10, Scale: 2}))
}

func TestEffectiveVarcharType(t *testing.T) {
	assert.Equal(t, "VARCHAR", EffectiveVarcharType(source.Column{Length: 0}))
	assert.Equal(t, "", EffectiveVarcharType(source.Column{Length: 255}))
}
