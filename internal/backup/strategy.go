package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const (
	DefaultChunkSize                = 1000
	DefaultLargeCollectionThreshold = 10000

	metadataVersion = "1.0"
)

// Strategy exports one database to files under Request.OutputPath. Execute
// never returns an error or panics: every failure is reported through a
// Result with Success set to false.
type Strategy interface {
	Execute(ctx context.Context, req Request) Result
	DatabaseType() string
}

// Connection holds everything needed to reach the source database. Either the
// discrete fields or ConnectionString may be set; ConnectionString wins for
// any field it carries.
type Connection struct {
	Host             string `json:"host" validate:"required_without=ConnectionString"`
	Port             int    `json:"port" validate:"gte=0,lte=65535"`
	User             string `json:"user,omitempty"`
	Password         string `json:"password,omitempty"`
	Database         string `json:"database" validate:"required"`
	ConnectionString string `json:"connectionString,omitempty"`
}

type Options struct {
	Compress                 bool `json:"compress"`
	ChunkSize                int  `json:"chunkSize" validate:"gt=0"`
	LargeCollectionThreshold int  `json:"largeCollectionThreshold" validate:"gt=0"`
}

// Request is the input to one export attempt. It is serialized into the
// queue message and is not modified after enqueue.
type Request struct {
	Kind       config.DatabaseType `json:"kind" validate:"required"`
	Connection Connection          `json:"connection"`
	OutputPath string              `json:"outputPath" validate:"required"`
	Options    Options             `json:"options"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid backup request: %w", err)
	}
	return nil
}

// resolved returns the connection with blank fields filled in from the
// connection string and the kind's default port.
func (c Connection) resolved(kind config.DatabaseType) Connection {
	out := c
	if c.ConnectionString != "" {
		if parsed, err := config.ParseConnectionString(c.ConnectionString, kind); err == nil {
			if out.Host == "" {
				out.Host = parsed.Host
			}
			if out.Port == 0 {
				out.Port = parsed.Port
			}
			if out.User == "" {
				out.User = parsed.User
			}
			if out.Password == "" {
				out.Password = parsed.Password
			}
			if out.Database == "" {
				out.Database = parsed.Name
			}
		}
	}
	if out.Port == 0 {
		out.Port = config.DefaultPort(kind)
	}
	return out
}

// EntityStats describes one exported collection or table.
type EntityStats struct {
	Name    string `json:"name"`
	Count   int64  `json:"rows"`
	Size    int64  `json:"size"`
	Chunked bool   `json:"chunked"`
	Chunks  int    `json:"chunks,omitempty"`
	// File is the artifact base name when it differs from Name.
	File    string `json:"file,omitempty"`
}

// Statistics is produced once per successful export.
type Statistics struct {
	Entities      []EntityStats
	TotalEntities int
	TotalCount    int64
	TotalSize     int64
	DurationMs    int64
}

func newStatistics(entities []EntityStats) Statistics {
	stats := Statistics{
		Entities:      entities,
		TotalEntities: len(entities),
	}
	for _, e := range entities {
		stats.TotalCount += e.Count
		stats.TotalSize += e.Size
	}
	return stats
}

// ChunkedEntities counts entities exported in chunked mode.
func (s Statistics) ChunkedEntities() int {
	n := 0
	for _, e := range s.Entities {
		if e.Chunked {
			n++
		}
	}
	return n
}

type Result struct {
	Success  bool
	FilePath string
	Size     int64
	Duration time.Duration
	Error    string
	// Note explains a degraded success, e.g. a statistics-only artifact.
	Note  string
	Stats Statistics
}

func failure(start time.Time, err error) Result {
	return Result{
		Success:  false,
		Error:    err.Error(),
		Duration: time.Since(start),
	}
}

// recoverResult turns a panic inside Execute into a failed Result.
func recoverResult(start time.Time, res *Result) {
	if r := recover(); r != nil {
		*res = failure(start, fmt.Errorf("export aborted: %v", r))
	}
}

// Registry selects the Strategy for a database kind.
type Registry struct {
	cfg        *config.Config
	factory    func(kind config.DatabaseType) (Strategy, error)
	strategies map[config.DatabaseType]Strategy
}

func NewRegistry(cfg *config.Config, factory func(kind config.DatabaseType) (Strategy, error)) *Registry {
	return &Registry{
		cfg:        cfg,
		factory:    factory,
		strategies: make(map[config.DatabaseType]Strategy),
	}
}

// Register pins a strategy for kind, taking precedence over the factory.
func (r *Registry) Register(kind config.DatabaseType, s Strategy) {
	r.strategies[kind] = s
}

func (r *Registry) Lookup(kind config.DatabaseType) (Strategy, error) {
	if s, ok := r.strategies[kind]; ok {
		return s, nil
	}
	if r.cfg != nil && r.cfg.IsSimulated(kind) {
		return NewSimulatedStrategy(kind), nil
	}
	if r.factory == nil {
		return nil, unsupported(kind)
	}
	return r.factory(kind)
}

// Execute runs the strategy matching req.Kind. Unknown kinds fail before any
// file is touched.
func (r *Registry) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	s, err := r.Lookup(req.Kind)
	if err != nil {
		return failure(start, err)
	}
	return s.Execute(ctx, req)
}

func unsupported(kind config.DatabaseType) error {
	return errors.Kind(errors.ErrUnsupportedType, fmt.Errorf("unsupported database type: %s", kind))
}
