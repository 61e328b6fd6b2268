// Package connectors introspects and streams relational tables that back
// DB sources. Each call opens one connection and releases it when the
// introspection finishes or the stream is closed.
package connectors

import (
	"context"
	"fmt"

	"github.com/yungbote/sourcebridge-backend/internal/domain"
	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

// DefaultBatchSize is the row batch size used when the caller passes 0.
const DefaultBatchSize = 500

// Credentials are the decrypted connection parameters of a DB source.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	// TLSMode follows the Postgres sslmode vocabulary; for ClickHouse
	// anything other than "" or "disable" enables TLS.
	TLSMode string `json:"sslmode,omitempty"`
}

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type Table struct {
	Schema  string   `json:"schema"`
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// Connector is the contract both relational engines implement.
type Connector interface {
	// Introspect lists base tables and their columns, excluding system
	// schemas, optionally scoped to one schema.
	Introspect(ctx context.Context, creds Credentials, schemaFilter string) ([]Table, error)

	// StreamRows returns a pull-based iterator over row batches. The query
	// paginates with bound limit/offset parameters; identifiers are
	// validated and quoted before interpolation. The caller must Close the
	// stream to release the connection.
	StreamRows(ctx context.Context, creds Credentials, schema, table string, columns []string, batchSize int) (*RowStream, error)
}

// ConnectorError wraps any transport or query failure from a relational
// engine. Callers convert it into a pipeline failure.
type ConnectorError struct {
	Engine string
	Cause  error
}

func (e *ConnectorError) Error() string {
	if e == nil {
		return "source db connector failed"
	}
	return fmt.Sprintf("source db connector failed (engine=%s): %v", e.Engine, e.Cause)
}

func (e *ConnectorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// RowStream pulls row batches one at a time. Pagination state is explicit:
// the offset advances by each batch's actual length and the stream ends on
// the first empty batch. Restart is re-invocation with offset 0, not rewind.
type RowStream struct {
	fetch  func(ctx context.Context, limit, offset int) ([]map[string]any, error)
	close  func() error
	limit  int
	offset int
	done   bool
}

// NewRowStream wraps a fetch function into a paginated stream. closeFn may be
// nil; batchSize falls back to DefaultBatchSize when non-positive.
func NewRowStream(fetch func(ctx context.Context, limit, offset int) ([]map[string]any, error), closeFn func() error, batchSize int) *RowStream {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RowStream{fetch: fetch, close: closeFn, limit: batchSize}
}

// Next returns the next batch, or nil once the stream is exhausted.
func (s *RowStream) Next(ctx context.Context) ([]map[string]any, error) {
	if s.done {
		return nil, nil
	}
	batch, err := s.fetch(ctx, s.limit, s.offset)
	if err != nil {
		s.done = true
		return nil, err
	}
	if len(batch) == 0 {
		s.done = true
		return nil, nil
	}
	s.offset += len(batch)
	return batch, nil
}

// Offset reports how many rows have been consumed so far.
func (s *RowStream) Offset() int {
	return s.offset
}

func (s *RowStream) Close() error {
	if s.close == nil {
		return nil
	}
	closeFn := s.close
	s.close = nil
	return closeFn()
}

// ForType maps a DB source type tag onto its connector.
func ForType(log *logger.Logger, sourceType domain.SourceType) (Connector, error) {
	switch sourceType {
	case domain.SourceTypePostgres:
		return NewPostgresConnector(log), nil
	case domain.SourceTypeClickHouse:
		return NewClickHouseConnector(log), nil
	default:
		return nil, fmt.Errorf("unsupported DB source type: %s", sourceType)
	}
}
