// Package pipeline drives a source from CREATED through indexing and
// summarization to COMPLETED, or to FAILED on any step's failure. Transitions
// are one-directional; FAILED and COMPLETED are terminal for a single run,
// and the run loop itself provides the coarse, bounded retry.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/sourcebridge-backend/internal/connectors"
	"github.com/yungbote/sourcebridge-backend/internal/data/repos/sources"
	"github.com/yungbote/sourcebridge-backend/internal/domain"
	"github.com/yungbote/sourcebridge-backend/internal/ingestion/chunker"
	"github.com/yungbote/sourcebridge-backend/internal/ingestion/extractor"
	"github.com/yungbote/sourcebridge-backend/internal/platform/crypto"
	"github.com/yungbote/sourcebridge-backend/internal/platform/envutil"
	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
	"github.com/yungbote/sourcebridge-backend/internal/platform/qdrant"
)

const (
	upsertBatchSize   = 64
	upsertConcurrency = 4
)

// VectorStore is the slice of the qdrant store the pipeline consumes.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string) error
	UpsertTexts(ctx context.Context, collection string, points []qdrant.Point) error
	DeleteCollection(ctx context.Context, name string) error
	DeletePoints(ctx context.Context, collection string, ids []string) error
	SourcesIndexCollection() string
}

// Summarizer is the external language-model call producing the source summary.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string) (string, error)
}

// MissingBackingDataError reports a source whose backing row (file content or
// relational mapping) is absent; the source is marked FAILED before it is
// returned.
type MissingBackingDataError struct {
	SourceID int64
	Kind     string
}

func (e *MissingBackingDataError) Error() string {
	if e == nil {
		return "missing backing data"
	}
	return fmt.Sprintf("no %s found for source %d", e.Kind, e.SourceID)
}

type Config struct {
	RunTimeout time.Duration
	RunRetries int
	BatchSize  int

	// Digest bounds keep summarization cost flat regardless of table size.
	DigestSampleLimit   int
	DigestPreviewLength int

	MasterKey string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		RunTimeout:          envutil.Dur("PIPELINE_RUN_TIMEOUT", 2*time.Hour),
		RunRetries:          envutil.Int("PIPELINE_RUN_RETRIES", 3),
		BatchSize:           envutil.Int("PIPELINE_BATCH_SIZE", connectors.DefaultBatchSize),
		DigestSampleLimit:   envutil.Int("PIPELINE_DIGEST_SAMPLE_LIMIT", 50),
		DigestPreviewLength: envutil.Int("PIPELINE_DIGEST_PREVIEW_LENGTH", 200),
		MasterKey:           envutil.Str("MASTER_KEY", ""),
	}
	if cfg.MasterKey == "" {
		return Config{}, fmt.Errorf("MASTER_KEY is required")
	}
	if cfg.RunRetries <= 0 {
		cfg.RunRetries = 1
	}
	return cfg, nil
}

type Service struct {
	log        *logger.Logger
	cfg        Config
	sourceRepo sources.SourceRepo
	fileRepo   sources.SourceFileRepo
	dbRepo     sources.SourceDbRepo
	store      VectorStore
	summarizer Summarizer
	connector  func(domain.SourceType) (connectors.Connector, error)
	gate       *sourceGate
}

func NewService(
	log *logger.Logger,
	cfg Config,
	sourceRepo sources.SourceRepo,
	fileRepo sources.SourceFileRepo,
	dbRepo sources.SourceDbRepo,
	store VectorStore,
	summarizer Summarizer,
) *Service {
	svcLog := log.With("service", "SourcePipeline")
	return &Service{
		log:        svcLog,
		cfg:        cfg,
		sourceRepo: sourceRepo,
		fileRepo:   fileRepo,
		dbRepo:     dbRepo,
		store:      store,
		summarizer: summarizer,
		connector: func(t domain.SourceType) (connectors.Connector, error) {
			return connectors.ForType(svcLog, t)
		},
		gate: newSourceGate(),
	}
}

// Run processes one source end to end: index, summarize, complete. The whole
// run is bounded by the configured timeout and retried a fixed number of
// times; point upserts are idempotent so a retry restarts safely.
func (s *Service) Run(ctx context.Context, sourceID int64) error {
	release := s.gate.Acquire(sourceID)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.RunRetries; attempt++ {
		chunks, err := s.IndexSource(ctx, sourceID)
		if err == nil {
			err = s.SummarizeAndComplete(ctx, sourceID, chunks)
		}
		if err == nil {
			s.log.Info("source processed", "source_id", sourceID, "attempt", attempt)
			return nil
		}
		lastErr = err
		s.log.Warn("source processing attempt failed",
			"source_id", sourceID, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("process source %d: %w", sourceID, lastErr)
}

// IndexSource marks the source PROCESSED, branches on the backing kind and
// returns the digest chunks for summarization.
func (s *Service) IndexSource(ctx context.Context, sourceID int64) ([]string, error) {
	source, err := s.sourceRepo.UpdateByID(ctx, sourceID, map[string]any{
		"status": domain.SourceStatusProcessed,
	})
	if err != nil {
		return nil, fmt.Errorf("mark source processed: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("source %d not found", sourceID)
	}

	if err := s.store.EnsureCollection(ctx, source.Collection); err != nil {
		s.markFailed(ctx, sourceID)
		return nil, err
	}

	if source.Type.IsDB() {
		mapping, err := s.dbRepo.GetBySourceID(ctx, sourceID)
		if err != nil {
			s.markFailed(ctx, sourceID)
			return nil, fmt.Errorf("load source db mapping: %w", err)
		}
		if mapping == nil {
			s.markFailed(ctx, sourceID)
			return nil, &MissingBackingDataError{SourceID: sourceID, Kind: "source_db mapping"}
		}
		return s.indexDBSource(ctx, source, mapping)
	}

	file, err := s.fileRepo.GetBySourceID(ctx, sourceID)
	if err != nil {
		s.markFailed(ctx, sourceID)
		return nil, fmt.Errorf("load source file: %w", err)
	}
	if file == nil {
		s.markFailed(ctx, sourceID)
		return nil, &MissingBackingDataError{SourceID: sourceID, Kind: "file content"}
	}
	return s.indexFileSource(ctx, source, file.Content)
}

func (s *Service) indexFileSource(ctx context.Context, source *domain.Source, content []byte) ([]string, error) {
	text, err := extractor.Extract(source.Type, content)
	if err != nil {
		s.markFailed(ctx, source.ID)
		return nil, err
	}
	chunks := chunker.Split(text, chunker.DefaultMaxSize)

	points := make([]qdrant.Point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, qdrant.Point{
			ID:   fmt.Sprintf("file:%d", i),
			Text: chunk,
			Payload: map[string]any{
				"source_id":      source.ID,
				"source_name":    source.Name,
				"source_type":    string(source.Type),
				"source_backend": "file",
				"chunk_id":       i,
			},
		})
	}

	// Deterministic ids make batch order irrelevant, so batches upsert in
	// parallel.
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(upsertConcurrency)
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		group.Go(func() error {
			return s.store.UpsertTexts(groupCtx, source.Collection, batch)
		})
	}
	if err := group.Wait(); err != nil {
		s.markFailed(ctx, source.ID)
		return nil, err
	}

	s.log.Info("file source indexed", "source_id", source.ID, "chunks", len(chunks))
	return chunks, nil
}

func (s *Service) indexDBSource(ctx context.Context, source *domain.Source, mapping *domain.SourceDb) ([]string, error) {
	connectionJSON, err := crypto.Decrypt(s.cfg.MasterKey, mapping.ConnectionEncrypted)
	if err != nil {
		s.markFailed(ctx, source.ID)
		return nil, fmt.Errorf("decrypt connection: %w", err)
	}
	var creds connectors.Credentials
	if err := json.Unmarshal([]byte(connectionJSON), &creds); err != nil {
		s.markFailed(ctx, source.ID)
		return nil, fmt.Errorf("parse connection: %w", err)
	}

	connector, err := s.connector(source.Type)
	if err != nil {
		s.markFailed(ctx, source.ID)
		return nil, err
	}

	columns := projectionColumns(mapping)
	stream, err := connector.StreamRows(ctx, creds, mapping.SchemaName, mapping.TableName, columns, s.cfg.BatchSize)
	if err != nil {
		s.markFailed(ctx, source.ID)
		return nil, fmt.Errorf("stream db source: %w", err)
	}
	defer stream.Close()

	digest := []string{digestHeader(source.Name, mapping)}
	rowCount := 0
	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			s.markFailed(ctx, source.ID)
			return nil, fmt.Errorf("stream db source: %w", err)
		}
		if batch == nil {
			break
		}

		points := make([]qdrant.Point, 0, len(batch))
		for _, row := range batch {
			point, rowID, text, ok := prepareRowPoint(source, mapping, row)
			if !ok {
				continue
			}
			points = append(points, point)
			if len(digest) < s.cfg.DigestSampleLimit {
				digest = append(digest, fmt.Sprintf("row %s: %s", rowID, truncateRunes(text, s.cfg.DigestPreviewLength)))
			}
		}
		if len(points) > 0 {
			if err := s.store.UpsertTexts(ctx, source.Collection, points); err != nil {
				s.markFailed(ctx, source.ID)
				return nil, err
			}
			rowCount += len(points)
		}
	}

	s.log.Info("db source indexed",
		"source_id", source.ID,
		"schema", mapping.SchemaName,
		"table", mapping.TableName,
		"rows", rowCount,
	)
	return digest, nil
}

// SummarizeAndComplete persists the summary, marks the source COMPLETED and
// writes its single point into the sources index collection.
func (s *Service) SummarizeAndComplete(ctx context.Context, sourceID int64, chunks []string) error {
	summary, err := s.summarizer.Summarize(ctx, chunks)
	if err != nil {
		s.markFailed(ctx, sourceID)
		return err
	}

	source, err := s.sourceRepo.UpdateByID(ctx, sourceID, map[string]any{
		"status":  domain.SourceStatusCompleted,
		"summary": summary,
	})
	if err != nil {
		return fmt.Errorf("complete source: %w", err)
	}
	if source == nil {
		return fmt.Errorf("source %d not found", sourceID)
	}

	return s.store.UpsertTexts(ctx, s.store.SourcesIndexCollection(), []qdrant.Point{{
		ID:   fmt.Sprintf("source-%d", source.ID),
		Text: summary,
		Payload: map[string]any{
			"source_id":   source.ID,
			"source_name": source.Name,
			"source_type": string(source.Type),
		},
	}})
}

// Introspect lists table metadata for the given engine tag, for callers
// registering a DB source.
func (s *Service) Introspect(ctx context.Context, sourceType domain.SourceType, creds connectors.Credentials, schemaFilter string) ([]connectors.Table, error) {
	connector, err := s.connector(sourceType)
	if err != nil {
		return nil, err
	}
	return connector.Introspect(ctx, creds, schemaFilter)
}

// DeleteSourceArtifacts drops the source's collection and its point in the
// sources index. Both deletions are idempotent.
func (s *Service) DeleteSourceArtifacts(ctx context.Context, sourceID int64, collection string) error {
	if err := s.store.DeleteCollection(ctx, collection); err != nil {
		return err
	}
	return s.store.DeletePoints(ctx, s.store.SourcesIndexCollection(), []string{
		fmt.Sprintf("source-%d", sourceID),
	})
}

func (s *Service) markFailed(ctx context.Context, sourceID int64) {
	if _, err := s.sourceRepo.UpdateByID(ctx, sourceID, map[string]any{
		"status": domain.SourceStatusFailed,
	}); err != nil {
		s.log.Error("failed to mark source failed", "source_id", sourceID, "error", err)
	}
}

// projectionColumns is the minimal deduplicated projection, order-preserving:
// id field, search field, then declared filter fields.
func projectionColumns(mapping *domain.SourceDb) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 2+len(mapping.FilterFields))
	for _, column := range append([]string{mapping.IDField, mapping.SearchField}, mapping.FilterFields...) {
		if _, ok := seen[column]; ok {
			continue
		}
		seen[column] = struct{}{}
		out = append(out, column)
	}
	return out
}

func digestHeader(sourceName string, mapping *domain.SourceDb) string {
	filterFields := "-"
	if len(mapping.FilterFields) > 0 {
		filterFields = strings.Join(mapping.FilterFields, ", ")
	}
	return fmt.Sprintf(
		"Source %s: table %s.%s; search_field=%s; filter_fields=%s",
		sourceName,
		mapping.SchemaName,
		mapping.TableName,
		mapping.SearchField,
		filterFields,
	)
}

// prepareRowPoint builds one point from a row, or reports ok=false for rows
// with a missing id or blank search text.
func prepareRowPoint(source *domain.Source, mapping *domain.SourceDb, row map[string]any) (qdrant.Point, string, string, bool) {
	rowIDValue, ok := row[mapping.IDField]
	if !ok || rowIDValue == nil {
		return qdrant.Point{}, "", "", false
	}
	rowID := scalarString(rowIDValue)

	text := strings.TrimSpace(scalarString(row[mapping.SearchField]))
	if text == "" {
		return qdrant.Point{}, "", "", false
	}

	payload := map[string]any{
		"source_id":      source.ID,
		"source_name":    source.Name,
		"source_type":    string(source.Type),
		"source_backend": "db",
		"schema_name":    mapping.SchemaName,
		"table_name":     mapping.TableName,
		"row_id":         rowID,
	}
	for _, field := range mapping.FilterFields {
		payload[field] = normalizePayloadValue(row[field])
	}

	point := qdrant.Point{
		ID:      fmt.Sprintf("db:%d:%s", source.ID, rowID),
		Text:    text,
		Payload: payload,
	}
	return point, rowID, text, true
}

// normalizePayloadValue keeps scalars as-is and coerces everything else to
// strings so the payload stays queryable.
func normalizePayloadValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case []any:
		normalized := make([]any, 0, len(v))
		for _, item := range v {
			switch item.(type) {
			case string, bool,
				int, int8, int16, int32, int64,
				uint, uint8, uint16, uint32, uint64,
				float32, float64:
				normalized = append(normalized, item)
			default:
				normalized = append(normalized, fmt.Sprintf("%v", item))
			}
		}
		return normalized
	default:
		return fmt.Sprintf("%v", v)
	}
}

func scalarString(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
