// Package domain holds the persisted records of the ingestion pipeline.
package domain

import "time"

type SourceStatus string

const (
	SourceStatusCreated   SourceStatus = "created"
	SourceStatusProcessed SourceStatus = "processed"
	SourceStatusCompleted SourceStatus = "completed"
	SourceStatusFailed    SourceStatus = "failed"
)

type SourceType string

const (
	SourceTypeTXT  SourceType = "txt"
	SourceTypeMD   SourceType = "md"
	SourceTypeHTML SourceType = "html"
	SourceTypeHTM  SourceType = "htm"
	SourceTypePDF  SourceType = "pdf"
	SourceTypeDOCX SourceType = "docx"
	SourceTypeRTF  SourceType = "rtf"
	SourceTypeODT  SourceType = "odt"
	SourceTypeEPUB SourceType = "epub"
	SourceTypePPTX SourceType = "pptx"
	SourceTypeXLSX SourceType = "xlsx"
	SourceTypeEML  SourceType = "eml"

	SourceTypePostgres   SourceType = "postgres"
	SourceTypeClickHouse SourceType = "clickhouse"
)

// FileTypes lists the file-backed source types with a registered extractor.
func FileTypes() []SourceType {
	return []SourceType{
		SourceTypeTXT, SourceTypeMD, SourceTypeHTML, SourceTypeHTM,
		SourceTypePDF, SourceTypeDOCX, SourceTypeRTF, SourceTypeODT,
		SourceTypeEPUB, SourceTypePPTX, SourceTypeXLSX, SourceTypeEML,
	}
}

// DBTypes lists the relational engine tags with a registered connector.
func DBTypes() []SourceType {
	return []SourceType{SourceTypePostgres, SourceTypeClickHouse}
}

func (t SourceType) IsDB() bool {
	switch t {
	case SourceTypePostgres, SourceTypeClickHouse:
		return true
	default:
		return false
	}
}

// Source is one registered unit of knowledge. It owns exactly one vector
// collection for its whole lifetime; only the pipeline mutates Status.
type Source struct {
	ID         int64        `gorm:"primaryKey"`
	Name       string       `gorm:"not null"`
	Type       SourceType   `gorm:"not null"`
	Status     SourceStatus `gorm:"not null;default:created"`
	Collection string       `gorm:"not null;uniqueIndex"`
	Summary    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SourceFile owns the raw bytes of a file-backed source. Immutable after
// creation, consumed once by ingestion.
type SourceFile struct {
	ID        int64  `gorm:"primaryKey"`
	SourceID  int64  `gorm:"not null;uniqueIndex"`
	Content   []byte `gorm:"not null"`
	CreatedAt time.Time
}

// SourceDb owns the relational mapping of a DB-backed source.
type SourceDb struct {
	ID                  int64    `gorm:"primaryKey"`
	SourceID            int64    `gorm:"not null;uniqueIndex"`
	ConnectionEncrypted string   `gorm:"not null"`
	SchemaName          string   `gorm:"not null"`
	TableName           string   `gorm:"not null"`
	IDField             string   `gorm:"not null"`
	SearchField         string   `gorm:"not null"`
	FilterFields        []string `gorm:"serializer:json"`
	CreatedAt           time.Time
}
