package compress

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

type GzipCompressor struct {
	level int
}

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{level: gzip.BestCompression}
}

// NewGzipCompressorLevel returns a compressor using one of the compress/gzip
// levels. Invalid levels fall back to gzip.DefaultCompression.
func NewGzipCompressorLevel(level int) *GzipCompressor {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &GzipCompressor{level: level}
}

// Compress streams r through gzip. The returned reader yields compressed bytes
// and surfaces any read error from r.
func (c *GzipCompressor) Compress(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		gw, err := gzip.NewWriterLevel(pw, c.level)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		_, err = io.Copy(gw, r)
		if err != nil {
			gw.Close()
			pw.CloseWithError(err)
			return
		}

		if err := gw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}

		pw.Close()
	}()

	return pr
}

// NewWriter wraps w so that everything written to the returned writer is
// gzip-compressed. Closing it flushes the gzip footer but leaves w open.
func (c *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

// CompressFile writes a gzip copy of src to dst and returns the size of dst.
// src is left in place.
func (c *GzipCompressor) CompressFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	reader := c.Compress(in)
	defer reader.Close()

	n, err := io.Copy(out, reader)
	if err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to compress %s: %w", src, err)
	}

	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", dst, err)
	}

	return n, nil
}

func (c *GzipCompressor) Extension() string {
	return ".gz"
}
