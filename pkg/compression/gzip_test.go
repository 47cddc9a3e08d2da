package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress_RoundTrip(t *testing.T) {
	c := NewCompressor()
	original := bytes.Repeat([]byte("<invoice><line>widget</line></invoice>"), 100)

	compressed, err := c.Compress(original)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(original))

	restored, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestDecompress_RejectsGarbage(t *testing.T) {
	c := NewCompressor()
	_, err := c.Decompress([]byte("not gzip data"))
	assert.Error(t, err)
}

func TestShouldCompress(t *testing.T) {
	assert.True(t, ShouldCompress("application/xml"))
	assert.True(t, ShouldCompress("text/plain"))
	assert.False(t, ShouldCompress("application/gzip"))
	assert.False(t, ShouldCompress("image/png"))
}
