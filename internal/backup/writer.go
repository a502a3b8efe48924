package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jorgepascosoto/vaultdb/internal/compress"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// writeArtifact creates path, lets fill write the payload (through gzip when
// gz is true) and returns the number of bytes that reached the disk.
func writeArtifact(path string, gz bool, fill func(w io.Writer) error) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Kind(errors.ErrIOFailed, fmt.Errorf("failed to create %s: %w", path, err))
	}

	cw := &countingWriter{w: f}
	var w io.Writer = cw

	var zw io.WriteCloser
	if gz {
		zw, err = compress.NewGzipCompressorLevel(-1).NewWriter(cw)
		if err != nil {
			f.Close()
			return 0, errors.Kind(errors.ErrCompressionFailed, err)
		}
		w = zw
	}

	if err := fill(w); err != nil {
		f.Close()
		return 0, errors.Kind(errors.ErrIOFailed, fmt.Errorf("failed to write %s: %w", path, err))
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return 0, errors.Kind(errors.ErrIOFailed, fmt.Errorf("failed to flush %s: %w", path, err))
		}
	}

	if err := f.Close(); err != nil {
		return 0, errors.Kind(errors.ErrIOFailed, fmt.Errorf("failed to close %s: %w", path, err))
	}

	return cw.n, nil
}

// writeJSON writes v as indented JSON and returns the file size.
func writeJSON(path string, v any) (int64, error) {
	return writeArtifact(path, false, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// metadataPath derives "<output>_metadata.json", dropping a trailing file
// extension from output first.
func metadataPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + "_metadata.json"
}

func jsonExtension(gz bool) string {
	if gz {
		return ".json.gz"
	}
	return ".json"
}

// safeFileName keeps an entity name from escaping its directory.
func safeFileName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")
	name = r.Replace(name)
	if name == "." || name == ".." {
		name = "_" + name
	}
	return name
}
