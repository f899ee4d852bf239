// SPDX-License-Identifier: Apache-2.0

// Package dsn parses the permissive KEY=VALUE;-separated connection
// strings used by every catalog entry (spec §6). It generalizes the
// teacher's internal/connstr, which only knew how to rewrite a single
// Postgres URL option, into a grammar shared across five source engines.
package dsn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/synerr"
)

// Params is the parsed, engine-agnostic result of a connection string.
// Adapters read the fields they need and ignore the rest.
type Params struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Service  string // Oracle TNS service name, used in place of Database when set
}

// defaultPort per engine, applied when PORT is absent from the string.
var defaultPort = map[catalog.Engine]int{
	catalog.EngineMariaDB:    3306,
	catalog.EngineMSSQL:      1433,
	catalog.EngineOracle:     1521,
	catalog.EnginePostgreSQL: 5432,
	catalog.EngineMongoDB:    27017,
}

// Parse splits raw on ';', then each pair on the first '=', trims
// whitespace, and folds recognised keys (case-sensitive per spec §6) onto
// Params. Unknown keys are ignored rather than rejected, matching the
// permissive grammar in the spec.
func Parse(engine catalog.Engine, raw string) (Params, error) {
	p := Params{Port: defaultPort[engine]}

	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "SERVER", "host":
			p.Host = value
		case "DATABASE", "db":
			p.Database = value
		case "UID", "user":
			p.User = value
		case "PWD", "password":
			p.Password = value
		case "PORT":
			port, err := strconv.Atoi(value)
			if err != nil {
				return Params{}, &synerr.ConnectionError{Engine: string(engine), Err: fmt.Errorf("invalid PORT %q: %w", value, err)}
			}
			p.Port = port
		case "service":
			p.Service = value
		}
	}

	if p.Port < 1 || p.Port > 65535 {
		p.Port = defaultPort[engine]
	}

	return p, p.validate(engine)
}

// validate enforces the required fields per engine: host, user, and
// (database or, for Oracle, service) must be present. Missing fields fail
// early with ConnectionError rather than surfacing as a driver-level
// error later (spec §4.2: "missing required fields ... fail early").
func (p Params) validate(engine catalog.Engine) error {
	var missing []string
	if p.Host == "" {
		missing = append(missing, "server/host")
	}
	if p.User == "" {
		missing = append(missing, "uid/user")
	}
	if engine == catalog.EngineOracle {
		if p.Database == "" && p.Service == "" {
			missing = append(missing, "database or service")
		}
	} else if p.Database == "" {
		missing = append(missing, "database/db")
	}

	if len(missing) > 0 {
		return &synerr.ConnectionError{
			Engine: string(engine),
			Err:    fmt.Errorf("missing required connection fields: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
