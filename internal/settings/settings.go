// Package settings stores the saved backup configurations jobs are built from.
package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jorgepascosoto/vaultdb/internal/backup"
	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const timestampLayout = "2006-01-02T15-04-05Z"

type Settings struct {
	ID               string         `bson:"_id" json:"id"`
	Name             string         `bson:"name" json:"name"`
	DatabaseType     string         `bson:"database_type" json:"databaseType"`
	ConnectionString string         `bson:"connection_string" json:"-"`
	Host             string         `bson:"host" json:"host"`
	Port             int            `bson:"port" json:"port"`
	Username         string         `bson:"username" json:"username"`
	Password         string         `bson:"password" json:"-"`
	Database         string         `bson:"database" json:"database"`
	StorageType      string         `bson:"storage_type" json:"storageType"`
	StorageConfig    map[string]any `bson:"storage_config" json:"-"`
	Compress         bool           `bson:"compress" json:"compress"`
	Encrypt          bool           `bson:"encrypt" json:"encrypt"`
	CronSchedule     string         `bson:"cron_schedule" json:"cronSchedule"`
	Enabled          bool           `bson:"enabled" json:"enabled"`
	RetentionDays    int            `bson:"retention_days" json:"retentionDays"`
	CreatedAt        time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// Kind normalizes the stored database type.
func (s *Settings) Kind() config.DatabaseType {
	return config.ParseDatabaseType(s.DatabaseType)
}

// DatabaseName falls back to the name embedded in the connection string.
func (s *Settings) DatabaseName() string {
	if s.Database != "" {
		return s.Database
	}
	if s.ConnectionString != "" {
		if parsed, err := config.ParseConnectionString(s.ConnectionString, s.Kind()); err == nil && parsed.Name != "" {
			return parsed.Name
		}
	}
	return "backup"
}

// OutputPath is where one job writes, unique per job id.
func OutputPath(dir, database, jobID string, now time.Time) string {
	prefix := jobID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	name := strings.NewReplacer("/", "_", "\\", "_", ".", "_", " ", "_").Replace(database)
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s", name, now.UTC().Format(timestampLayout), prefix))
}

// ToRequest builds the export request for one job.
func (s *Settings) ToRequest(cfg config.BackupConfig, jobID string, now time.Time) backup.Request {
	return backup.Request{
		Kind: s.Kind(),
		Connection: backup.Connection{
			Host:             s.Host,
			Port:             s.Port,
			User:             s.Username,
			Password:         s.Password,
			Database:         s.DatabaseName(),
			ConnectionString: s.ConnectionString,
		},
		OutputPath: OutputPath(cfg.Dir, s.DatabaseName(), jobID, now),
		Options: backup.Options{
			Compress:                 s.Compress,
			ChunkSize:                cfg.ChunkSize,
			LargeCollectionThreshold: cfg.LargeCollectionThreshold,
		},
	}
}

type Store interface {
	Get(ctx context.Context, id string) (*Settings, error)
	List(ctx context.Context) ([]*Settings, error)
	// Save inserts or replaces s, assigning an id when it has none.
	Save(ctx context.Context, s *Settings) error
}

// stamp fills the id and timestamps Save is responsible for.
func stamp(s *Settings, now time.Time) {
	if s.ID == "" {
		s.ID = primitive.NewObjectID().Hex()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]*Settings
}

func NewMemoryStore(items ...*Settings) *MemoryStore {
	m := &MemoryStore{settings: make(map[string]*Settings)}
	for _, s := range items {
		m.Put(s)
	}
	return m
}

func (m *MemoryStore) Put(s *Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings[s.ID] = &cp
}

func (m *MemoryStore) Save(ctx context.Context, s *Settings) error {
	m.mu.RLock()
	if prev, ok := m.settings[s.ID]; ok && s.CreatedAt.IsZero() {
		s.CreatedAt = prev.CreatedAt
	}
	m.mu.RUnlock()

	stamp(s, time.Now().UTC())
	m.Put(s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[id]
	if !ok {
		return nil, fmt.Errorf("settings %s: %w", id, errors.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Settings, 0, len(m.settings))
	for _, s := range m.settings {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
