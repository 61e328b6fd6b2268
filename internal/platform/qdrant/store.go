// Package qdrant talks to a Qdrant instance over its HTTP API.
//
// Every source owns one collection; the store creates collections lazily with
// the configured dimensionality and distance metric. Point identity is
// deterministic: the caller hands in a logical key ("file:3",
// "db:12:row-9", "source-12") and the store maps it into a namespaced UUID,
// so re-upserting the same logical key overwrites instead of duplicating.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sourcebridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

// Embedder turns text batches into vectors. Implemented by the openai client.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Point is one logical record to upsert: Text is embedded and also stored in
// the payload under the "document" key.
type Point struct {
	ID      string
	Text    string
	Payload map[string]any
}

// ScoredPoint is one search result carrying the raw engine score. Use
// RelevanceScore to compare scores across distance metrics.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type Store struct {
	log      *logger.Logger
	cfg      Config
	baseURL  string
	distance string
	embedder Embedder
	http     *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewStore(log *logger.Logger, cfg Config, embedder Embedder) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	s := &Store{
		log:      log.With("service", "QdrantStore"),
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		distance: normalizeDistance(cfg.Distance),
		embedder: embedder,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	log.Info("qdrant store configured",
		"url", s.baseURL,
		"vector_dim", cfg.VectorDim,
		"distance", s.distance,
		"sources_index_collection", cfg.SourcesIndexCollection,
	)
	return s, nil
}

// SourcesIndexCollection names the shared collection holding one summary
// point per completed source.
func (s *Store) SourcesIndexCollection() string {
	return s.cfg.SourcesIndexCollection
}

// PointID maps a logical key into the deterministic UUID Qdrant stores.
func (s *Store) PointID(logicalID string) string {
	return uuid.NewSHA1(s.cfg.PointIDNamespace, []byte(logicalID)).String()
}

// RelevanceScore normalizes a raw engine score so that higher always means
// better. Euclid/Manhattan report distances (lower is better) and are negated;
// Cosine/Dot similarities pass through unchanged.
func (s *Store) RelevanceScore(raw float64) float64 {
	switch s.distance {
	case DistanceEuclid, DistanceManhattan:
		return -raw
	default:
		return raw
	}
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	const op = "collection_exists"
	var result struct {
		Exists bool `json:"exists"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, "/collections/"+name+"/exists", nil, &result); err != nil {
		return false, err
	}
	return result.Exists, nil
}

// EnsureCollection creates the collection with the configured vector params
// if it does not exist yet.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	const op = "ensure_collection"
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	req := map[string]any{
		"vectors": map[string]any{
			"size":     s.cfg.VectorDim,
			"distance": s.distance,
		},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, "/collections/"+name, req, nil); err != nil {
		return err
	}
	s.log.Info("collection created", "collection", name)
	return nil
}

// UpsertTexts embeds every point's text and writes the batch with wait=true.
// The collection is created on first use.
func (s *Store) UpsertTexts(ctx context.Context, collection string, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
	}

	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	texts := make([]string, len(points))
	for i, p := range points {
		texts[i] = p.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return opErr(op, OperationErrorEmbedFailed, "embed points failed", err)
	}
	if len(vectors) != len(points) {
		return opErr(op, OperationErrorEmbedFailed,
			fmt.Sprintf("embedding count mismatch: want=%d got=%d", len(points), len(vectors)), nil)
	}

	raw := make([]map[string]any, 0, len(points))
	for i, p := range points {
		if s.cfg.VectorDim > 0 && len(vectors[i]) != s.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", p.ID, s.cfg.VectorDim, len(vectors[i])), nil)
		}
		payload := make(map[string]any, len(p.Payload)+1)
		payload["document"] = p.Text
		for k, v := range p.Payload {
			payload[k] = v
		}
		raw = append(raw, map[string]any{
			"id":      s.PointID(p.ID),
			"vector":  vectors[i],
			"payload": payload,
		})
	}

	req := map[string]any{"points": raw}
	return s.doJSON(ctx, op, http.MethodPut, "/collections/"+collection+"/points?wait=true", req, nil)
}

// Search embeds the query and runs a similarity search. A missing collection
// or non-positive limit yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, collection string, queryText string, limit int, filter *Filter) ([]ScoredPoint, error) {
	const op = "search"
	if limit <= 0 {
		return nil, nil
	}
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, opErr(op, OperationErrorEmbedFailed, "embed query failed", err)
	}
	if len(vectors) != 1 {
		return nil, opErr(op, OperationErrorEmbedFailed,
			fmt.Sprintf("embedding count mismatch: want=1 got=%d", len(vectors)), nil)
	}

	req := map[string]any{
		"vector":       vectors[0],
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if filter != nil {
		req["filter"] = filter.asMap()
	}

	var items []searchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, "/collections/"+collection+"/points/search", req, &items); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(items))
	for _, item := range items {
		out = append(out, ScoredPoint{
			ID:      decodePointID(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return out, nil
}

// DeleteCollection drops the collection. A no-op if it does not exist.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	const op = "delete_collection"
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return s.doJSON(ctx, op, http.MethodDelete, "/collections/"+name, nil, nil)
}

// DeletePoints removes points by logical key. A no-op if the collection does
// not exist.
func (s *Store) DeletePoints(ctx context.Context, collection string, ids []string) error {
	const op = "delete_points"
	if len(ids) == 0 {
		return nil
	}
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	pointIDs := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		pid := s.PointID(id)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		pointIDs = append(pointIDs, pid)
	}
	if len(pointIDs) == 0 {
		return nil
	}

	req := map[string]any{"points": pointIDs}
	return s.doJSON(ctx, op, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", req, nil)
}

func (s *Store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") || strings.EqualFold(statusString, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}
