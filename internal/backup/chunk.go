package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const (
	manifestFileName = "_manifest.json"
	progressEvery    = 10
)

// Manifest marks a chunked collection export as complete. It is written only
// after the last chunk file.
type Manifest struct {
	Collection     string `json:"collection"`
	TotalDocuments int64  `json:"totalDocuments"`
	ChunkSize      int    `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	Compressed     bool   `json:"compressed"`
}

func chunking(opts Options) (chunkSize, threshold int) {
	chunkSize, threshold = opts.ChunkSize, opts.LargeCollectionThreshold
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if threshold <= 0 {
		threshold = DefaultLargeCollectionThreshold
	}
	return chunkSize, threshold
}

type chunkedExporter struct {
	src       documentSource
	dir       string
	chunkSize int
	threshold int
	compress  bool
	logger    zerolog.Logger

	// used holds the artifact names taken so far in this export.
	used map[string]struct{}
}

// artifactName maps a collection name to a file or directory name that no
// other collection of this export has taken. A collision gets a numeric
// suffix, so "a/b" and "a_b" become "a_b" and "a_b_2".
func (e *chunkedExporter) artifactName(name string) string {
	if e.used == nil {
		e.used = make(map[string]struct{})
	}

	base := safeFileName(name)
	candidate := base
	for n := 2; ; n++ {
		if _, taken := e.used[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
	e.used[candidate] = struct{}{}

	if candidate != base {
		e.logger.Warn().Str("collection", name).Str("file", candidate).Msg("artifact name collides, using suffix")
	}
	return candidate
}

func (e *chunkedExporter) exportCollection(ctx context.Context, name string) (EntityStats, error) {
	count, err := e.src.Count(ctx, name)
	if err != nil {
		return EntityStats{}, errors.Kind(errors.ErrConnectionFailed, fmt.Errorf("failed to count %s: %w", name, err))
	}

	file := e.artifactName(name)
	stats := EntityStats{Name: name, Count: count}
	if file != name {
		stats.File = file
	}

	if count > int64(e.threshold) {
		size, chunks, err := e.exportChunked(ctx, name, file, count)
		if err != nil {
			return EntityStats{}, err
		}
		stats.Size = size
		stats.Chunked = true
		stats.Chunks = chunks
		return stats, nil
	}

	size, err := e.exportFull(ctx, name, file)
	if err != nil {
		return EntityStats{}, err
	}
	stats.Size = size
	return stats, nil
}

func (e *chunkedExporter) exportFull(ctx context.Context, name, file string) (int64, error) {
	docs, err := e.src.Page(ctx, name, 0, 0)
	if err != nil {
		return 0, errors.Kind(errors.ErrConnectionFailed, fmt.Errorf("failed to read %s: %w", name, err))
	}

	path := filepath.Join(e.dir, file+jsonExtension(e.compress))
	return writeArtifact(path, e.compress, func(w io.Writer) error {
		return encodeDocuments(w, docs)
	})
}

// TotalChunks is ceil(count / chunkSize).
func TotalChunks(count int64, chunkSize int) int {
	if chunkSize <= 0 || count <= 0 {
		return 0
	}
	return int((count + int64(chunkSize) - 1) / int64(chunkSize))
}

func chunkFileName(index int, gz bool) string {
	return fmt.Sprintf("chunk_%05d%s", index, jsonExtension(gz))
}

// exportChunked writes one file per page in index order, then the manifest.
// A failed chunk leaves the earlier chunks in place and no manifest.
func (e *chunkedExporter) exportChunked(ctx context.Context, name, file string, count int64) (int64, int, error) {
	totalChunks := TotalChunks(count, e.chunkSize)

	chunkDir := filepath.Join(e.dir, file)
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return 0, 0, errors.Kind(errors.ErrIOFailed, fmt.Errorf("failed to create chunk directory for %s: %w", name, err))
	}

	var totalSize int64
	for index := 0; index < totalChunks; index++ {
		skip := int64(index) * int64(e.chunkSize)

		docs, err := e.src.Page(ctx, name, skip, int64(e.chunkSize))
		if err != nil {
			return 0, 0, errors.Kind(errors.ErrPartialChunk,
				fmt.Errorf("failed to read chunk %d/%d of %s: %w", index+1, totalChunks, name, err))
		}

		path := filepath.Join(chunkDir, chunkFileName(index, e.compress))
		size, err := writeArtifact(path, e.compress, func(w io.Writer) error {
			return encodeDocuments(w, docs)
		})
		if err != nil {
			return 0, 0, errors.Kind(errors.ErrPartialChunk,
				fmt.Errorf("failed to write chunk %d/%d of %s: %w", index+1, totalChunks, name, err))
		}
		totalSize += size

		if (index+1)%progressEvery == 0 || index == totalChunks-1 {
			e.logger.Info().Str("collection", name).Msgf("exported chunk %d/%d", index+1, totalChunks)
		}
	}

	manifest := Manifest{
		Collection:     name,
		TotalDocuments: count,
		ChunkSize:      e.chunkSize,
		TotalChunks:    totalChunks,
		Compressed:     e.compress,
	}
	if _, err := writeJSON(filepath.Join(chunkDir, manifestFileName), manifest); err != nil {
		return 0, 0, err
	}

	return totalSize, totalChunks, nil
}

// encodeDocuments writes docs as a JSON array of relaxed extended JSON.
func encodeDocuments(w io.Writer, docs []bson.Raw) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, doc := range docs {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		b, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}
