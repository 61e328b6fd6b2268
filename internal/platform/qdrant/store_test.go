package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

type recordedRequest struct {
	method string
	path   string
	body   []byte
}

type fakeTransport struct {
	requests []recordedRequest
	handler  func(method, path string, body []byte) (int, string)
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	f.requests = append(f.requests, recordedRequest{method: req.Method, path: path, body: body})

	status, respBody := http.StatusOK, `{"result":null,"status":"ok","time":0.001}`
	if f.handler != nil {
		status, respBody = f.handler(req.Method, path, body)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(respBody))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

type fakeEmbedder struct {
	dim   int
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32(i + 1)
		}
		out[i] = vec
	}
	return out, nil
}

func newTestStore(t *testing.T, distance string, transport *fakeTransport, embedder Embedder) *Store {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	cfg := Config{
		URL:                    "http://qdrant.test:6333",
		VectorDim:              3,
		Distance:               distance,
		PointIDNamespace:       uuid.MustParse(defaultPointIDNamespace),
		SourcesIndexCollection: "sources_index",
	}
	if embedder == nil {
		embedder = &fakeEmbedder{dim: 3}
	}
	store, err := NewStore(log, cfg, embedder)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if transport != nil {
		store.http = &http.Client{Transport: transport}
	}
	return store
}

func TestPointIDDeterministic(t *testing.T) {
	store := newTestStore(t, DistanceCosine, nil, nil)

	first := store.PointID("db:12:row-9")
	second := store.PointID("db:12:row-9")
	if first != second {
		t.Fatalf("PointID stability: want=%q got=%q", first, second)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("PointID not a UUID: %v", err)
	}
	if other := store.PointID("db:12:row-10"); other == first {
		t.Fatalf("distinct logical ids mapped to the same point id %q", first)
	}
}

func TestRelevanceScoreByDistanceFamily(t *testing.T) {
	cases := []struct {
		distance string
		raw      float64
		want     float64
	}{
		{DistanceCosine, 0.87, 0.87},
		{DistanceDot, 12.5, 12.5},
		{DistanceEuclid, 3.2, -3.2},
		{DistanceManhattan, 7.0, -7.0},
	}
	for _, tc := range cases {
		store := newTestStore(t, tc.distance, nil, nil)
		if got := store.RelevanceScore(tc.raw); got != tc.want {
			t.Fatalf("RelevanceScore(%s, %v): want=%v got=%v", tc.distance, tc.raw, tc.want, got)
		}
	}
}

func TestUpsertTextsRequestShape(t *testing.T) {
	transport := &fakeTransport{
		handler: func(method, path string, _ []byte) (int, string) {
			if strings.HasSuffix(path, "/exists") {
				return http.StatusOK, `{"result":{"exists":true},"status":"ok","time":0.001}`
			}
			return http.StatusOK, `{"result":{"operation_id":1,"status":"completed"},"status":"ok","time":0.001}`
		},
	}
	store := newTestStore(t, DistanceCosine, transport, nil)

	points := []Point{
		{ID: "file:0", Text: "first chunk", Payload: map[string]any{"chunk_id": 0}},
		{ID: "file:1", Text: "second chunk", Payload: map[string]any{"chunk_id": 1}},
	}
	if err := store.UpsertTexts(context.Background(), "source_7", points); err != nil {
		t.Fatalf("UpsertTexts: %v", err)
	}

	if len(transport.requests) != 2 {
		t.Fatalf("request count: want=2 got=%d", len(transport.requests))
	}
	upsert := transport.requests[1]
	if upsert.method != http.MethodPut {
		t.Fatalf("upsert method: want=PUT got=%s", upsert.method)
	}
	if upsert.path != "/collections/source_7/points?wait=true" {
		t.Fatalf("upsert path: want=%q got=%q", "/collections/source_7/points?wait=true", upsert.path)
	}

	var req struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float64      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	if err := json.Unmarshal(upsert.body, &req); err != nil {
		t.Fatalf("decode upsert body: %v", err)
	}
	if len(req.Points) != 2 {
		t.Fatalf("points in body: want=2 got=%d", len(req.Points))
	}
	if req.Points[0].ID != store.PointID("file:0") {
		t.Fatalf("point id: want=%q got=%q", store.PointID("file:0"), req.Points[0].ID)
	}
	if len(req.Points[0].Vector) != 3 {
		t.Fatalf("vector dim: want=3 got=%d", len(req.Points[0].Vector))
	}
	if got := req.Points[0].Payload["document"]; got != "first chunk" {
		t.Fatalf("payload document: want=%q got=%v", "first chunk", got)
	}
	if got := req.Points[1].Payload["chunk_id"]; got != float64(1) {
		t.Fatalf("payload chunk_id: want=1 got=%v", got)
	}
}

func TestUpsertTextsCreatesMissingCollection(t *testing.T) {
	transport := &fakeTransport{
		handler: func(method, path string, _ []byte) (int, string) {
			if strings.HasSuffix(path, "/exists") {
				return http.StatusOK, `{"result":{"exists":false},"status":"ok","time":0.001}`
			}
			return http.StatusOK, `{"result":true,"status":"ok","time":0.001}`
		},
	}
	store := newTestStore(t, DistanceEuclid, transport, nil)

	err := store.UpsertTexts(context.Background(), "source_9", []Point{{ID: "file:0", Text: "chunk"}})
	if err != nil {
		t.Fatalf("UpsertTexts: %v", err)
	}

	if len(transport.requests) != 3 {
		t.Fatalf("request count: want=3 got=%d", len(transport.requests))
	}
	create := transport.requests[1]
	if create.method != http.MethodPut || create.path != "/collections/source_9" {
		t.Fatalf("create collection: want=PUT /collections/source_9 got=%s %s", create.method, create.path)
	}
	var body struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	if err := json.Unmarshal(create.body, &body); err != nil {
		t.Fatalf("decode create body: %v", err)
	}
	if body.Vectors.Size != 3 {
		t.Fatalf("create size: want=3 got=%d", body.Vectors.Size)
	}
	if body.Vectors.Distance != DistanceEuclid {
		t.Fatalf("create distance: want=%q got=%q", DistanceEuclid, body.Vectors.Distance)
	}
}

func TestUpsertTextsRejectsBlankPointID(t *testing.T) {
	transport := &fakeTransport{}
	store := newTestStore(t, DistanceCosine, transport, nil)

	err := store.UpsertTexts(context.Background(), "source_1", []Point{{ID: "  ", Text: "chunk"}})
	opError, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("error type: want=*OperationError got=%T (%v)", err, err)
	}
	if opError.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, opError.Code)
	}
	if len(transport.requests) != 0 {
		t.Fatalf("no requests expected, got %d", len(transport.requests))
	}
}

func TestSearchMissingCollectionReturnsEmpty(t *testing.T) {
	transport := &fakeTransport{
		handler: func(_, path string, _ []byte) (int, string) {
			if strings.HasSuffix(path, "/exists") {
				return http.StatusOK, `{"result":{"exists":false},"status":"ok","time":0.001}`
			}
			return http.StatusInternalServerError, `{"status":{"error":"unexpected"}}`
		},
	}
	embedder := &fakeEmbedder{dim: 3}
	store := newTestStore(t, DistanceCosine, transport, embedder)

	got, err := store.Search(context.Background(), "missing", "query", 5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != nil {
		t.Fatalf("Search result: want=nil got=%v", got)
	}
	if embedder.calls != 0 {
		t.Fatalf("embedder calls: want=0 got=%d", embedder.calls)
	}
}

func TestSearchNonPositiveLimitShortCircuits(t *testing.T) {
	transport := &fakeTransport{}
	store := newTestStore(t, DistanceCosine, transport, nil)

	got, err := store.Search(context.Background(), "source_1", "query", 0, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != nil {
		t.Fatalf("Search result: want=nil got=%v", got)
	}
	if len(transport.requests) != 0 {
		t.Fatalf("no requests expected, got %d", len(transport.requests))
	}
}

func TestSearchSendsFilterAndDecodesResults(t *testing.T) {
	transport := &fakeTransport{
		handler: func(_, path string, _ []byte) (int, string) {
			if strings.HasSuffix(path, "/exists") {
				return http.StatusOK, `{"result":{"exists":true},"status":"ok","time":0.001}`
			}
			return http.StatusOK, `{"result":[{"id":"aaaaaaaa-0000-0000-0000-000000000001","score":0.9,"payload":{"document":"hit","source_id":3}}],"status":"ok","time":0.001}`
		},
	}
	store := newTestStore(t, DistanceCosine, transport, nil)

	filter, err := BuildFilter(map[string]any{"region": "emea"}, []string{"region"})
	if err != nil {
		t.Fatalf("BuildFilter: %v", err)
	}
	got, err := store.Search(context.Background(), "source_3", "query", 4, filter)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("result count: want=1 got=%d", len(got))
	}
	if got[0].Score != 0.9 {
		t.Fatalf("score: want=0.9 got=%v", got[0].Score)
	}
	if doc := got[0].Payload["document"]; doc != "hit" {
		t.Fatalf("payload document: want=%q got=%v", "hit", doc)
	}

	search := transport.requests[1]
	var req struct {
		Limit       int            `json:"limit"`
		WithPayload bool           `json:"with_payload"`
		Filter      map[string]any `json:"filter"`
	}
	if err := json.Unmarshal(search.body, &req); err != nil {
		t.Fatalf("decode search body: %v", err)
	}
	if req.Limit != 4 {
		t.Fatalf("limit: want=4 got=%d", req.Limit)
	}
	if !req.WithPayload {
		t.Fatalf("with_payload: want=true got=false")
	}
	must, ok := req.Filter["must"].([]any)
	if !ok || len(must) != 1 {
		t.Fatalf("filter must: want one condition got=%v", req.Filter)
	}
}

func TestDeletePointsMissingCollectionIsNoop(t *testing.T) {
	transport := &fakeTransport{
		handler: func(_, path string, _ []byte) (int, string) {
			return http.StatusOK, `{"result":{"exists":false},"status":"ok","time":0.001}`
		},
	}
	store := newTestStore(t, DistanceCosine, transport, nil)

	if err := store.DeletePoints(context.Background(), "gone", []string{"source-3"}); err != nil {
		t.Fatalf("DeletePoints: %v", err)
	}
	if len(transport.requests) != 1 {
		t.Fatalf("request count: want=1 got=%d", len(transport.requests))
	}
}

func TestDeletePointsDeduplicatesLogicalIDs(t *testing.T) {
	transport := &fakeTransport{
		handler: func(_, path string, _ []byte) (int, string) {
			if strings.HasSuffix(path, "/exists") {
				return http.StatusOK, `{"result":{"exists":true},"status":"ok","time":0.001}`
			}
			return http.StatusOK, `{"result":{"status":"completed"},"status":"ok","time":0.001}`
		},
	}
	store := newTestStore(t, DistanceCosine, transport, nil)

	err := store.DeletePoints(context.Background(), "source_2", []string{"source-2", "source-2", " "})
	if err != nil {
		t.Fatalf("DeletePoints: %v", err)
	}
	var req struct {
		Points []string `json:"points"`
	}
	if err := json.Unmarshal(transport.requests[1].body, &req); err != nil {
		t.Fatalf("decode delete body: %v", err)
	}
	if len(req.Points) != 1 {
		t.Fatalf("deleted points: want=1 got=%d", len(req.Points))
	}
	if req.Points[0] != store.PointID("source-2") {
		t.Fatalf("deleted point id: want=%q got=%q", store.PointID("source-2"), req.Points[0])
	}
}

func TestDoJSONSurfacesHTTPErrors(t *testing.T) {
	transport := &fakeTransport{
		handler: func(_, _ string, _ []byte) (int, string) {
			return http.StatusServiceUnavailable, `{"status":{"error":"collection busy"}}`
		},
	}
	store := newTestStore(t, DistanceCosine, transport, nil)

	_, err := store.CollectionExists(context.Background(), "source_1")
	opError, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("error type: want=*OperationError got=%T (%v)", err, err)
	}
	if opError.Code != OperationErrorQueryFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorQueryFailed, opError.Code)
	}
	if opError.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code: want=503 got=%d", opError.StatusCode)
	}
}

func TestDoJSONRejectsErrorEnvelopeStatus(t *testing.T) {
	transport := &fakeTransport{
		handler: func(_, _ string, _ []byte) (int, string) {
			return http.StatusOK, `{"result":null,"status":{"error":"wrong vector size"},"time":0.001}`
		},
	}
	store := newTestStore(t, DistanceCosine, transport, nil)

	_, err := store.CollectionExists(context.Background(), "source_1")
	if err == nil {
		t.Fatalf("CollectionExists: want error for error status")
	}
	if !strings.Contains(err.Error(), "wrong vector size") {
		t.Fatalf("error message: want to contain %q got=%q", "wrong vector size", err.Error())
	}
}

func TestUpsertTextsEmbedFailure(t *testing.T) {
	transport := &fakeTransport{
		handler: func(_, path string, _ []byte) (int, string) {
			return http.StatusOK, `{"result":{"exists":true},"status":"ok","time":0.001}`
		},
	}
	embedder := &fakeEmbedder{dim: 3, err: fmt.Errorf("quota exceeded")}
	store := newTestStore(t, DistanceCosine, transport, embedder)

	err := store.UpsertTexts(context.Background(), "source_1", []Point{{ID: "file:0", Text: "chunk"}})
	opError, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("error type: want=*OperationError got=%T (%v)", err, err)
	}
	if opError.Code != OperationErrorEmbedFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorEmbedFailed, opError.Code)
	}
}
