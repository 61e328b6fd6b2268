package qdrant

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/sourcebridge-backend/internal/platform/envutil"
)

// Distance metrics supported by the store. DistanceEuclid and DistanceManhattan
// are distance-family metrics: lower raw scores are better and RelevanceScore
// flips them.
const (
	DistanceCosine    = "Cosine"
	DistanceDot       = "Dot"
	DistanceEuclid    = "Euclid"
	DistanceManhattan = "Manhattan"
)

const defaultPointIDNamespace = "d8a0d157-c9dd-4af8-ad5e-4b3a6a4d1f15"

type Config struct {
	URL string

	// VectorDim is the dimensionality every collection is created with.
	VectorDim int
	Distance  string

	// PointIDNamespace seeds the deterministic logical-key -> UUID mapping.
	// Changing it orphans every previously written point.
	PointIDNamespace uuid.UUID

	// SourcesIndexCollection holds one summary point per completed source.
	SourcesIndexCollection string
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL        ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL        ConfigErrorCode = "invalid_url"
	ConfigErrorInvalidVectorDim  ConfigErrorCode = "invalid_vector_dim"
	ConfigErrorInvalidDistance   ConfigErrorCode = "invalid_distance"
	ConfigErrorMissingCollection ConfigErrorCode = "missing_collection"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid qdrant config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "QDRANT_URL is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid QDRANT_URL=%q; expected absolute URL like http://qdrant:6333", e.Value)
	case ConfigErrorInvalidVectorDim:
		return fmt.Sprintf("invalid QDRANT_VECTOR_DIM=%q; expected positive integer", e.Value)
	case ConfigErrorInvalidDistance:
		return fmt.Sprintf("invalid QDRANT_DISTANCE=%q; expected Cosine, Dot, Euclid or Manhattan", e.Value)
	case ConfigErrorMissingCollection:
		return "QDRANT_SOURCES_INDEX_COLLECTION is required"
	default:
		return "invalid qdrant config"
	}
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:                    envutil.Str("QDRANT_URL", "http://qdrant:6333"),
		VectorDim:              envutil.Int("QDRANT_VECTOR_DIM", 384),
		Distance:               envutil.Str("QDRANT_DISTANCE", DistanceCosine),
		SourcesIndexCollection: envutil.Str("QDRANT_SOURCES_INDEX_COLLECTION", "sources_index"),
	}
	ns, err := uuid.Parse(envutil.Str("QDRANT_POINT_ID_NAMESPACE", defaultPointIDNamespace))
	if err != nil {
		return Config{}, fmt.Errorf("invalid QDRANT_POINT_ID_NAMESPACE: %w", err)
	}
	cfg.PointIDNamespace = ns
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: cfg.URL}
	}
	if cfg.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrorInvalidVectorDim, Value: fmt.Sprintf("%d", cfg.VectorDim)}
	}
	switch normalizeDistance(cfg.Distance) {
	case DistanceCosine, DistanceDot, DistanceEuclid, DistanceManhattan:
	default:
		return &ConfigError{Code: ConfigErrorInvalidDistance, Value: cfg.Distance}
	}
	if strings.TrimSpace(cfg.SourcesIndexCollection) == "" {
		return &ConfigError{Code: ConfigErrorMissingCollection}
	}
	return nil
}

func normalizeDistance(distance string) string {
	switch strings.ToLower(strings.TrimSpace(distance)) {
	case "cosine":
		return DistanceCosine
	case "dot":
		return DistanceDot
	case "euclid", "euclidean":
		return DistanceEuclid
	case "manhattan":
		return DistanceManhattan
	default:
		return strings.TrimSpace(distance)
	}
}
