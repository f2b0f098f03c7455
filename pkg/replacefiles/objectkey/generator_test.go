package objectkey

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatedGenerator(t *testing.T) {
	gen := NewDatedGenerator()
	uploadedAt := time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		metadata *KeyMetadata
		expected string
	}{
		{
			name:     "original with filename",
			metadata: &KeyMetadata{FileName: "logo.png", UploadedAt: uploadedAt},
			expected: "uploads/2026/10/42/logo.png",
		},
		{
			name:     "replacement",
			metadata: &KeyMetadata{FileName: "logo-v2.png", ParentID: 10, UploadedAt: uploadedAt},
			expected: "uploads/2026/10/replacements/10/42/logo-v2.png",
		},
		{
			name:     "without filename",
			metadata: &KeyMetadata{UploadedAt: uploadedAt},
			expected: "uploads/2026/10/42",
		},
		{
			name:     "filename with spaces",
			metadata: &KeyMetadata{FileName: "annual report.pdf", UploadedAt: uploadedAt},
			expected: "uploads/2026/10/42/annual_report.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, gen.GenerateKey(42, tt.metadata))
		})
	}
}

func TestDatedGenerator_NilMetadataUsesClock(t *testing.T) {
	gen := &DatedGenerator{Prefix: "media", now: func() time.Time {
		return time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	}}

	assert.Equal(t, "media/2025/03/7", gen.GenerateKey(7, nil))
}

func TestShardedGenerator(t *testing.T) {
	gen := NewShardedGenerator()

	original := gen.GenerateKey(1, &KeyMetadata{FileName: "document.pdf"})
	assert.True(t, strings.HasPrefix(original, "attachments/objects/"), original)
	assert.True(t, strings.HasSuffix(original, "_document.pdf"), original)

	replacement := gen.GenerateKey(2, &KeyMetadata{FileName: "document.pdf", ParentID: 1})
	assert.True(t, strings.HasPrefix(replacement, "replacements/objects/"), replacement)

	// Same input, different keys
	assert.NotEqual(t, original, gen.GenerateKey(1, &KeyMetadata{FileName: "document.pdf"}))
}

func TestHashedGenerator_Deterministic(t *testing.T) {
	gen := NewHashedGenerator()
	metadata := &KeyMetadata{FileName: "test.txt"}

	first := gen.GenerateKey(99, metadata)
	second := gen.GenerateKey(99, metadata)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, gen.GenerateKey(100, metadata))
	parts := strings.Split(first, "/")
	require.Len(t, parts, 4)
	assert.Len(t, parts[2], 2)
}

func TestCustomFuncGenerator(t *testing.T) {
	gen := NewCustomFuncGenerator(func(attachmentID int64, metadata *KeyMetadata) string {
		return "custom/" + metadata.FileName
	})

	assert.Equal(t, "custom/a.dat", gen.GenerateKey(1, &KeyMetadata{FileName: "a.dat"}))
}

func TestSanitization(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"normal.txt", "normal.txt"},
		{"file with spaces.txt", "file_with_spaces.txt"},
		{"file/with/slashes.txt", "file_with_slashes.txt"},
		{"file:with:colons.txt", "file_with_colons.txt"},
		{"file*with?special<chars>.txt", "file_with_special_chars_.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeFilename(tt.input))
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "dated", "sharded", "hashed"} {
		gen, err := ByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, gen)
	}

	_, err := ByName("legacy")
	assert.Error(t, err)
}

func TestShardingDistribution(t *testing.T) {
	gen := NewShardedGenerator()
	shardCounts := make(map[string]int)

	for i := 0; i < 1000; i++ {
		key := gen.GenerateKey(int64(i), &KeyMetadata{})
		parts := strings.Split(key, "/")
		if len(parts) >= 3 {
			shardCounts[parts[2]]++
		}
	}

	assert.GreaterOrEqual(t, len(shardCounts), 10)
	for shard, count := range shardCounts {
		assert.LessOrEqual(t, count, 200, "shard %s", shard)
	}
}
