// Package retrieval answers free-text queries with a two-stage search:
// shortlist candidate sources from the sources index collection, then search
// each shortlisted source's own collection and rank, deduplicate and format
// the passages. Retrieval is queried opportunistically, so failures the
// caller can act on degrade to descriptive sentinel strings.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/sourcebridge-backend/internal/data/repos/sources"
	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
	"github.com/yungbote/sourcebridge-backend/internal/platform/qdrant"
)

const (
	MinResults = 1
	MaxResults = 20

	DefaultNResults = 5
	DefaultNSources = 3
)

// Sentinels returned instead of errors for conditions the caller should see
// as normal outcomes.
const (
	NoSourcesMessage = "No sources attached to this session"
	NoResultsMessage = "No data results found"
)

// Searcher is the slice of the qdrant store retrieval consumes.
type Searcher interface {
	Search(ctx context.Context, collection string, queryText string, limit int, filter *qdrant.Filter) ([]qdrant.ScoredPoint, error)
	RelevanceScore(raw float64) float64
	SourcesIndexCollection() string
}

// Scope is the per-query access scope: which sources this session may see
// and how wide the search fans out. Constructed fresh per query.
type Scope struct {
	AllowedSourceIDs []int64
	NResults         int
	NSources         int
}

type Engine struct {
	log        *logger.Logger
	searcher   Searcher
	sourceRepo sources.SourceRepo
	dbRepo     sources.SourceDbRepo
}

func NewEngine(log *logger.Logger, searcher Searcher, sourceRepo sources.SourceRepo, dbRepo sources.SourceDbRepo) *Engine {
	return &Engine{
		log:        log.With("service", "RetrievalEngine"),
		searcher:   searcher,
		sourceRepo: sourceRepo,
		dbRepo:     dbRepo,
	}
}

type rankedChunk struct {
	score    float64
	sourceID int64
	document string
	rowID    string
	hasRowID bool
}

// Retrieve runs the two-stage search. nResults overrides the scope default
// when positive; the effective count is always clamped to [MinResults,
// MaxResults]. A malformed filter map fails the whole call with a sentinel
// naming the problem rather than partially applying it.
func (e *Engine) Retrieve(ctx context.Context, query string, scope Scope, filters map[string]any, nResults int) (string, error) {
	if len(scope.AllowedSourceIDs) == 0 {
		return NoSourcesMessage, nil
	}

	effectiveNResults := normalizeNResults(nResults, scope.NResults)
	nSources := scope.NSources
	if nSources <= 0 {
		nSources = DefaultNSources
	}

	stageOneLimit := 4 * nSources
	if stageOneLimit < nSources {
		stageOneLimit = nSources
	}
	stageOne, err := e.searcher.Search(ctx, e.searcher.SourcesIndexCollection(), query, stageOneLimit, nil)
	if err != nil {
		return "", fmt.Errorf("source selection search: %w", err)
	}

	selected := selectSourceIDs(stageOne, scope.AllowedSourceIDs, nSources)
	if len(selected) == 0 {
		return NoResultsMessage, nil
	}

	ranked, err := e.collectRankedChunks(ctx, query, selected, effectiveNResults, filters)
	if err != nil {
		var invalid *qdrant.InvalidFilterError
		if errors.As(err, &invalid) {
			return fmt.Sprintf("Invalid retrieve filters: %s", invalid.Message), nil
		}
		return "", err
	}
	if len(ranked) == 0 {
		return NoResultsMessage, nil
	}

	return formatRankedChunks(ranked, effectiveNResults), nil
}

func normalizeNResults(requested, scopeDefault int) int {
	n := requested
	if n <= 0 {
		n = scopeDefault
	}
	if n <= 0 {
		n = DefaultNResults
	}
	if n < MinResults {
		n = MinResults
	}
	if n > MaxResults {
		n = MaxResults
	}
	return n
}

// selectSourceIDs walks stage-1 results in score order keeping the first
// nSources distinct in-scope ids; out-of-scope and duplicate ids are skipped
// without consuming a slot.
func selectSourceIDs(results []qdrant.ScoredPoint, allowed []int64, nSources int) []int64 {
	allowedSet := make(map[int64]struct{}, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = struct{}{}
	}

	selected := make([]int64, 0, nSources)
	seen := make(map[int64]struct{}, nSources)
	for _, point := range results {
		sourceID, ok := parseSourceID(point.Payload)
		if !ok {
			continue
		}
		if _, inScope := allowedSet[sourceID]; !inScope {
			continue
		}
		if _, dup := seen[sourceID]; dup {
			continue
		}
		seen[sourceID] = struct{}{}
		selected = append(selected, sourceID)
		if len(selected) >= nSources {
			break
		}
	}
	return selected
}

func parseSourceID(payload map[string]any) (int64, bool) {
	raw, ok := payload["source_id"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

// collectRankedChunks searches each selected source's collection in stage-1
// order. Per-source filters are built only for sources that declare filter
// fields, validated against that source's allowed set.
func (e *Engine) collectRankedChunks(ctx context.Context, query string, selected []int64, limit int, filters map[string]any) ([]rankedChunk, error) {
	var ranked []rankedChunk
	for _, sourceID := range selected {
		source, err := e.sourceRepo.GetByID(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("load source %d: %w", sourceID, err)
		}
		if source == nil {
			continue
		}

		var filter *qdrant.Filter
		if len(filters) > 0 {
			mapping, err := e.dbRepo.GetBySourceID(ctx, sourceID)
			if err != nil {
				return nil, fmt.Errorf("load source db mapping %d: %w", sourceID, err)
			}
			if mapping != nil {
				filter, err = qdrant.BuildFilter(filters, mapping.FilterFields)
				if err != nil {
					return nil, err
				}
			}
		}

		points, err := e.searcher.Search(ctx, source.Collection, query, limit, filter)
		if err != nil {
			return nil, fmt.Errorf("search source %d: %w", sourceID, err)
		}
		for _, point := range points {
			document, _ := point.Payload["document"].(string)
			if strings.TrimSpace(document) == "" {
				continue
			}
			chunk := rankedChunk{
				score:    e.searcher.RelevanceScore(point.Score),
				sourceID: sourceID,
				document: document,
			}
			if rowID, ok := point.Payload["row_id"]; ok && rowID != nil {
				chunk.rowID = fmt.Sprintf("%v", rowID)
				chunk.hasRowID = true
			}
			ranked = append(ranked, chunk)
		}
	}
	return ranked, nil
}

// formatRankedChunks sorts by relevance descending (stable, so first-seen
// wins ties), drops exact-duplicate documents and truncates at nResults.
func formatRankedChunks(ranked []rankedChunk, nResults int) string {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	seen := make(map[string]struct{}, nResults)
	out := make([]string, 0, nResults)
	for _, chunk := range ranked {
		if _, dup := seen[chunk.document]; dup {
			continue
		}
		seen[chunk.document] = struct{}{}
		if chunk.hasRowID {
			out = append(out, fmt.Sprintf("[source:%d row:%s] %s", chunk.sourceID, chunk.rowID, chunk.document))
		} else {
			out = append(out, fmt.Sprintf("[source:%d] %s", chunk.sourceID, chunk.document))
		}
		if len(out) >= nResults {
			break
		}
	}
	return strings.Join(out, "\n\n")
}
