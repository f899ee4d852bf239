// SPDX-License-Identifier: Apache-2.0

package cdc

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/lib/pq"
)

// functionTemplate is the PL/pgSQL trigger function installed once per
// replicated table (spec §4.6 "Trigger setup"). It writes pk_values (from
// the table's PK columns, or a row hash for no-PK tables) and a full row
// snapshot into ds_change_log on every insert/update/delete.
const functionTemplate = `CREATE OR REPLACE FUNCTION {{ .FunctionName | qi }}() RETURNS TRIGGER
    LANGUAGE PLPGSQL
    AS $$
    DECLARE
      pk_json JSONB;
      row_json JSONB;
    BEGIN
      IF TG_OP = 'DELETE' THEN
        row_json := to_jsonb(OLD);
      ELSE
        row_json := to_jsonb(NEW);
      END IF;

      {{ if .PKColumns -}}
      pk_json := jsonb_build_object({{ range $i, $c := .PKColumns }}{{ if $i }}, {{ end }}{{ $c | ql }}, (row_json ->> {{ $c | ql }}){{ end }});
      {{- else -}}
      pk_json := jsonb_build_object('_hash', md5(row_json::text));
      {{- end }}

      INSERT INTO {{ .ChangeLogSchema | qi }}.{{ .ChangeLogTable | qi }}
        (change_time, operation, schema_name, table_name, pk_values, row_data)
      VALUES
        (now(), substring(TG_OP, 1, 1), {{ .SchemaName | ql }}, {{ .TableName | ql }}, pk_json, row_json);

      IF TG_OP = 'DELETE' THEN
        RETURN OLD;
      END IF;
      RETURN NEW;
    END; $$
`

// triggerTemplate fires functionName after the named operation.
const triggerTemplate = `CREATE TRIGGER {{ .TriggerName | qi }} AFTER {{ .Operation }} ON {{ .SchemaName | qi }}.{{ .TableName | qi }}
  FOR EACH ROW EXECUTE FUNCTION {{ .FunctionName | qi }}();
`

type functionConfig struct {
	FunctionName    string
	ChangeLogSchema string
	ChangeLogTable  string
	SchemaName      string
	TableName       string
	PKColumns       []string
}

type triggerConfig struct {
	TriggerName  string
	Operation    string
	SchemaName   string
	TableName    string
	FunctionName string
}

func buildFunctionSQL(cfg functionConfig) (string, error) {
	return executeTemplate("function", functionTemplate, cfg)
}

func buildTriggerSQL(cfg triggerConfig) (string, error) {
	return executeTemplate("trigger", triggerTemplate, cfg)
}

func executeTemplate(name, content string, cfg any) (string, error) {
	tmpl := template.Must(template.
		New(name).
		Funcs(template.FuncMap{
			"ql": pq.QuoteLiteral,
			"qi": pq.QuoteIdentifier,
			"join": strings.Join,
		}).
		Parse(content))

	buf := bytes.Buffer{}
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
