package connectors

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

const clickhouseIntrospectAllQuery = `
	SELECT database, table, name, type
	FROM system.columns
	WHERE database NOT IN ('system', 'information_schema', 'INFORMATION_SCHEMA')
	ORDER BY database, table, position`

const clickhouseIntrospectSchemaQuery = `
	SELECT database, table, name, type
	FROM system.columns
	WHERE database = ?
	ORDER BY database, table, position`

type ClickHouseConnector struct {
	log *logger.Logger
}

func NewClickHouseConnector(baseLog *logger.Logger) *ClickHouseConnector {
	return &ClickHouseConnector{log: baseLog.With("connector", "clickhouse")}
}

func quoteClickHouseIdentifier(value, fieldName string) (string, error) {
	validated, err := ValidateIdentifier(value, fieldName)
	if err != nil {
		return "", err
	}
	return "`" + validated + "`", nil
}

func (c *ClickHouseConnector) open(creds Credentials) *sql.DB {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", creds.Host, creds.Port)},
		Auth: clickhouse.Auth{
			Database: creds.Database,
			Username: creds.User,
			Password: creds.Password,
		},
	}
	if creds.TLSMode != "" && !strings.EqualFold(creds.TLSMode, "disable") {
		opts.TLS = &tls.Config{}
	}
	return clickhouse.OpenDB(opts)
}

func (c *ClickHouseConnector) Introspect(ctx context.Context, creds Credentials, schemaFilter string) ([]Table, error) {
	query := clickhouseIntrospectAllQuery
	args := []any{}
	if schemaFilter != "" {
		query = clickhouseIntrospectSchemaQuery
		args = append(args, schemaFilter)
	}

	db := c.open(creds)
	defer db.Close()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ConnectorError{Engine: "clickhouse", Cause: err}
	}
	defer rows.Close()

	builder := newTableBuilder()
	for rows.Next() {
		var schemaName, tableName, columnName, columnType string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &columnType); err != nil {
			return nil, &ConnectorError{Engine: "clickhouse", Cause: err}
		}
		builder.add(schemaName, tableName, Column{
			Name: columnName,
			Type: columnType,
			// ClickHouse encodes nullability in the type wrapper.
			Nullable: strings.HasPrefix(columnType, "Nullable("),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &ConnectorError{Engine: "clickhouse", Cause: err}
	}
	return builder.tables(), nil
}

func (c *ClickHouseConnector) StreamRows(ctx context.Context, creds Credentials, schema, table string, columns []string, batchSize int) (*RowStream, error) {
	query, names, err := buildBatchQuery(schema, table, columns, quoteClickHouseIdentifier, "?", "?")
	if err != nil {
		return nil, err
	}
	db := c.open(creds)

	fetch := func(ctx context.Context, limit, offset int) ([]map[string]any, error) {
		rows, err := db.QueryContext(ctx, query, limit, offset)
		if err != nil {
			return nil, &ConnectorError{Engine: "clickhouse", Cause: err}
		}
		defer rows.Close()

		var batch []map[string]any
		for rows.Next() {
			values := make([]any, len(names))
			dests := make([]any, len(names))
			for i := range values {
				dests[i] = &values[i]
			}
			if err := rows.Scan(dests...); err != nil {
				return nil, &ConnectorError{Engine: "clickhouse", Cause: err}
			}
			row := make(map[string]any, len(names))
			for i, name := range names {
				row[name] = values[i]
			}
			batch = append(batch, row)
		}
		if err := rows.Err(); err != nil {
			return nil, &ConnectorError{Engine: "clickhouse", Cause: err}
		}
		return batch, nil
	}

	return NewRowStream(fetch, db.Close, batchSize), nil
}
