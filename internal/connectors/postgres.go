package connectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

const postgresIntrospectQuery = `
	SELECT
		c.table_schema,
		c.table_name,
		c.column_name,
		c.data_type,
		c.is_nullable
	FROM information_schema.columns AS c
	JOIN information_schema.tables AS t
	  ON c.table_schema = t.table_schema
	 AND c.table_name = t.table_name
	WHERE t.table_type = 'BASE TABLE'
	  AND c.table_schema NOT IN ('information_schema', 'pg_catalog')
	%s
	ORDER BY c.table_schema, c.table_name, c.ordinal_position`

type PostgresConnector struct {
	log *logger.Logger
}

func NewPostgresConnector(baseLog *logger.Logger) *PostgresConnector {
	return &PostgresConnector{log: baseLog.With("connector", "postgres")}
}

func quotePostgresIdentifier(value, fieldName string) (string, error) {
	validated, err := ValidateIdentifier(value, fieldName)
	if err != nil {
		return "", err
	}
	return `"` + validated + `"`, nil
}

func postgresDSN(creds Credentials) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   fmt.Sprintf("%s:%d", creds.Host, creds.Port),
		Path:   "/" + creds.Database,
	}
	if creds.TLSMode != "" {
		q := url.Values{}
		q.Set("sslmode", creds.TLSMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *PostgresConnector) connect(ctx context.Context, creds Credentials) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, postgresDSN(creds))
	if err != nil {
		return nil, &ConnectorError{Engine: "postgres", Cause: err}
	}
	return conn, nil
}

func (c *PostgresConnector) Introspect(ctx context.Context, creds Credentials, schemaFilter string) ([]Table, error) {
	query := fmt.Sprintf(postgresIntrospectQuery, "")
	args := []any{}
	if schemaFilter != "" {
		query = fmt.Sprintf(postgresIntrospectQuery, "AND c.table_schema = $1")
		args = append(args, schemaFilter)
	}

	conn, err := c.connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, &ConnectorError{Engine: "postgres", Cause: err}
	}
	defer rows.Close()

	builder := newTableBuilder()
	for rows.Next() {
		var schemaName, tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, &ConnectorError{Engine: "postgres", Cause: err}
		}
		builder.add(schemaName, tableName, Column{
			Name:     columnName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &ConnectorError{Engine: "postgres", Cause: err}
	}
	return builder.tables(), nil
}

func (c *PostgresConnector) StreamRows(ctx context.Context, creds Credentials, schema, table string, columns []string, batchSize int) (*RowStream, error) {
	query, names, err := buildBatchQuery(schema, table, columns, quotePostgresIdentifier, "$1", "$2")
	if err != nil {
		return nil, err
	}
	conn, err := c.connect(ctx, creds)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, limit, offset int) ([]map[string]any, error) {
		rows, err := conn.Query(ctx, query, limit, offset)
		if err != nil {
			return nil, &ConnectorError{Engine: "postgres", Cause: err}
		}
		defer rows.Close()

		var batch []map[string]any
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, &ConnectorError{Engine: "postgres", Cause: err}
			}
			row := make(map[string]any, len(names))
			for i, name := range names {
				if i < len(values) {
					row[name] = values[i]
				}
			}
			batch = append(batch, row)
		}
		if err := rows.Err(); err != nil {
			return nil, &ConnectorError{Engine: "postgres", Cause: err}
		}
		return batch, nil
	}

	return NewRowStream(fetch, func() error { return conn.Close(context.Background()) }, batchSize), nil
}

// buildBatchQuery assembles the paginated SELECT with every identifier
// validated and quoted; limit and offset stay bound parameters.
func buildBatchQuery(schema, table string, columns []string, quote func(value, fieldName string) (string, error), limitPlaceholder, offsetPlaceholder string) (string, []string, error) {
	quotedColumns := make([]string, 0, len(columns))
	names := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted, err := quote(column, "column")
		if err != nil {
			return "", nil, err
		}
		quotedColumns = append(quotedColumns, quoted)
		names = append(names, column)
	}
	quotedSchema, err := quote(schema, "schema")
	if err != nil {
		return "", nil, err
	}
	quotedTable, err := quote(table, "table")
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s.%s LIMIT %s OFFSET %s",
		strings.Join(quotedColumns, ", "),
		quotedSchema,
		quotedTable,
		limitPlaceholder,
		offsetPlaceholder,
	)
	return query, names, nil
}

// tableBuilder groups introspection rows by (schema, table) preserving the
// query's ordering.
type tableBuilder struct {
	order []string
	index map[string]int
	out   []Table
}

func newTableBuilder() *tableBuilder {
	return &tableBuilder{index: map[string]int{}}
}

func (b *tableBuilder) add(schema, table string, column Column) {
	key := schema + "." + table
	i, ok := b.index[key]
	if !ok {
		i = len(b.out)
		b.index[key] = i
		b.order = append(b.order, key)
		b.out = append(b.out, Table{Schema: schema, Table: table})
	}
	b.out[i].Columns = append(b.out[i].Columns, column)
}

func (b *tableBuilder) tables() []Table {
	return b.out
}
