// SPDX-License-Identifier: Apache-2.0

package dsn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/pkg/catalog"
)

func TestParse(t *testing.T) {
	t.Run("mariadb with defaults", func(t *testing.T) {
		p, err := Parse(catalog.EngineMariaDB, "SERVER=db1;DATABASE=hr;UID=repl;PWD=s3cret")
		require.NoError(t, err)
		assert.Equal(t, "db1", p.Host)
		assert.Equal(t, 3306, p.Port)
		assert.Equal(t, "hr", p.Database)
		assert.Equal(t, "repl", p.User)
		assert.Equal(t, "s3cret", p.Password)
	})

	t.Run("lowercase keys and explicit port", func(t *testing.T) {
		p, err := Parse(catalog.EnginePostgreSQL, "host=lake; db=warehouse; user=ingest; password=pw; PORT=5433")
		require.NoError(t, err)
		assert.Equal(t, "lake", p.Host)
		assert.Equal(t, 5433, p.Port)
		assert.Equal(t, "warehouse", p.Database)
	})

	t.Run("unknown keys ignored", func(t *testing.T) {
		p, err := Parse(catalog.EngineMSSQL, "SERVER=s;DATABASE=d;UID=u;PWD=p;TrustServerCertificate=true")
		require.NoError(t, err)
		assert.Equal(t, "s", p.Host)
	})

	t.Run("out of range port falls back to default", func(t *testing.T) {
		p, err := Parse(catalog.EngineMSSQL, "SERVER=s;DATABASE=d;UID=u;PWD=p;PORT=70000")
		require.NoError(t, err)
		assert.Equal(t, 1433, p.Port)
	})

	t.Run("oracle accepts service in place of database", func(t *testing.T) {
		p, err := Parse(catalog.EngineOracle, "SERVER=ora1;service=ORCLPDB1;UID=repl;PWD=pw")
		require.NoError(t, err)
		assert.Equal(t, "ORCLPDB1", p.Service)
		assert.Empty(t, p.Database)
	})

	t.Run("missing required field fails early", func(t *testing.T) {
		_, err := Parse(catalog.EngineMariaDB, "DATABASE=hr;UID=repl;PWD=pw")
		require.Error(t, err)
	})
}
