// Package job tracks the lifecycle of individual backup attempts.
package job

import (
	"time"

	"github.com/jorgepascosoto/vaultdb/internal/backup"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one execution attempt. A retry produces a new Record.
type Record struct {
	ID            string     `bson:"_id" json:"id"`
	SettingsID    string     `bson:"settings_id" json:"settingsId"`
	DisplayName   string     `bson:"settings_name" json:"settingsName"`
	Family        string     `bson:"family" json:"family"`
	CorrelationID string     `bson:"correlation_id" json:"correlationId"`
	Status        Status     `bson:"status" json:"status"`
	FilePath      string     `bson:"file_path,omitempty" json:"filePath,omitempty"`
	FileSize      int64      `bson:"file_size" json:"fileSize"`
	StorageURL    string     `bson:"storage_url,omitempty" json:"storageUrl,omitempty"`
	DurationMs    int64      `bson:"duration_ms" json:"durationMs"`
	ErrorMessage  string     `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	StartedAt     time.Time  `bson:"started_at" json:"startedAt"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
	Metadata      Metadata   `bson:"metadata" json:"metadata"`
}

type Metadata struct {
	DatabaseType       string               `bson:"database_type" json:"databaseType"`
	DatabaseName       string               `bson:"database_name" json:"databaseName"`
	Host               string               `bson:"host" json:"host"`
	Tables             []backup.EntityStats `bson:"tables,omitempty" json:"tables,omitempty"`
	TotalRows          int64                `bson:"total_rows" json:"totalRows"`
	TotalTables        int                  `bson:"total_tables" json:"totalTables"`
	Collections        []backup.EntityStats `bson:"collections,omitempty" json:"collections,omitempty"`
	ChunkedCollections int                  `bson:"chunked_collections" json:"chunkedCollections"`
	Note               string               `bson:"note,omitempty" json:"note,omitempty"`
}

// Stats aggregates over every stored record. TotalSize sums FileSize.
type Stats struct {
	Total     int64 `json:"total" bson:"total"`
	Completed int64 `json:"completed" bson:"completed"`
	Failed    int64 `json:"failed" bson:"failed"`
	Running   int64 `json:"running" bson:"running"`
	TotalSize int64 `json:"totalSize" bson:"totalSize"`
}

// Page is one slice of the newest-first record listing.
type Page struct {
	Items      []*Record `json:"data"`
	Total      int64     `json:"total"`
	Page       int64     `json:"page"`
	Limit      int64     `json:"limit"`
	TotalPages int64     `json:"totalPages"`
}
