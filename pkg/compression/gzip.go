// Package compression implements GZIP payload compression for AS4
// attachment parts.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// CompressionTypeGzip is the CompressionType part property value for
// GZIP compressed parts.
const CompressionTypeGzip = "application/gzip"

// maxDecompressedSize caps decompression output to guard against
// maliciously crafted compressed parts.
const maxDecompressedSize = 256 << 20

// Compressor compresses and decompresses payload parts.
type Compressor struct {
	level int
}

// NewCompressor creates a compressor at the default compression level.
func NewCompressor() *Compressor {
	return &Compressor{level: gzip.DefaultCompression}
}

// NewCompressorWithLevel creates a compressor at the given level.
func NewCompressorWithLevel(level int) *Compressor {
	return &Compressor{level: level}
}

// Compress gzips data.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("compressing data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress gunzips data, capped at maxDecompressedSize.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading compressed data: %w", err)
	}
	if n > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed part exceeds %d bytes", maxDecompressedSize)
	}

	return buf.Bytes(), nil
}

// ShouldCompress reports whether a content type benefits from
// compression.
func ShouldCompress(contentType string) bool {
	compressedTypes := map[string]bool{
		"application/gzip":   true,
		"application/zip":    true,
		"application/x-gzip": true,
		"image/jpeg":         true,
		"image/png":          true,
		"video/mp4":          true,
		"audio/mp3":          true,
	}
	return !compressedTypes[contentType]
}
