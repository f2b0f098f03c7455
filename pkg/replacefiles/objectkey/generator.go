package objectkey

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for storage backends
	GenerateKey(attachmentID int64, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	FileName    string
	ContentType string

	// ParentID is set for replacements and points at the attachment being replaced
	ParentID   int64
	UploadedAt time.Time
}

func (m *KeyMetadata) isReplacement() bool {
	return m != nil && m.ParentID != 0
}

// DatedGenerator lays files out by upload month, the way media libraries do
// Original:    uploads/2026/10/42/logo.png
// Replacement: uploads/2026/10/replacements/10/42/logo-v2.png
type DatedGenerator struct {
	Prefix string
	now    func() time.Time
}

func NewDatedGenerator() *DatedGenerator {
	return &DatedGenerator{Prefix: "uploads", now: time.Now}
}

func (g *DatedGenerator) GenerateKey(attachmentID int64, metadata *KeyMetadata) string {
	var uploadedAt time.Time
	switch {
	case metadata != nil && !metadata.UploadedAt.IsZero():
		uploadedAt = metadata.UploadedAt.UTC()
	case g.now != nil:
		uploadedAt = g.now().UTC()
	default:
		uploadedAt = time.Now().UTC()
	}

	dir := fmt.Sprintf("%s/%04d/%02d", g.Prefix, uploadedAt.Year(), int(uploadedAt.Month()))
	if metadata.isReplacement() {
		dir = fmt.Sprintf("%s/replacements/%d", dir, metadata.ParentID)
	}

	if metadata != nil && metadata.FileName != "" {
		return fmt.Sprintf("%s/%d/%s", dir, attachmentID, sanitizeFilename(metadata.FileName))
	}
	return fmt.Sprintf("%s/%d", dir, attachmentID)
}

// ShardedGenerator provides Git-style sharded storage with original/replacement separation
// Original:    attachments/objects/ab/cd1234ef5678_filename
// Replacement: replacements/objects/ab/cd1234ef5678_filename
type ShardedGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewShardedGenerator() *ShardedGenerator {
	return &ShardedGenerator{
		ShardLength: 2,
	}
}

func (g *ShardedGenerator) GenerateKey(attachmentID int64, metadata *KeyMetadata) string {
	// A random id keeps keys unique across re-uploads of the same attachment
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return shardedKey(random, g.ShardLength, metadata)
}

// HashedGenerator derives the shard from the attachment id, so the same
// attachment and file name always map to the same key
type HashedGenerator struct {
	ShardLength int
}

func NewHashedGenerator() *HashedGenerator {
	return &HashedGenerator{
		ShardLength: 2,
	}
}

func (g *HashedGenerator) GenerateKey(attachmentID int64, metadata *KeyMetadata) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("attachment:%d", attachmentID)))
	hashStr := fmt.Sprintf("%x", hash)
	return shardedKey(hashStr[:16], g.ShardLength, metadata)
}

func shardedKey(id string, shardLength int, metadata *KeyMetadata) string {
	if shardLength <= 0 || shardLength >= len(id) {
		shardLength = 2
	}
	shardDir := id[:shardLength]
	filename := id[shardLength:]
	if metadata != nil && metadata.FileName != "" {
		filename = fmt.Sprintf("%s_%s", filename, sanitizeFilename(metadata.FileName))
	}

	root := "attachments"
	if metadata.isReplacement() {
		root = "replacements"
	}
	return fmt.Sprintf("%s/objects/%s/%s", root, shardDir, filename)
}

// CustomFuncGenerator allows users to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(attachmentID int64, metadata *KeyMetadata) string
}

func NewCustomFuncGenerator(fn func(attachmentID int64, metadata *KeyMetadata) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

func (g *CustomFuncGenerator) GenerateKey(attachmentID int64, metadata *KeyMetadata) string {
	return g.GenerateFunc(attachmentID, metadata)
}

// sanitizeFilename replaces characters that are unsafe in object keys
func sanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}

// NewRecommendedGenerator returns the generator used when none is configured
func NewRecommendedGenerator() Generator {
	return NewDatedGenerator()
}

// ByName returns the generator registered under name: "dated", "sharded" or "hashed"
func ByName(name string) (Generator, error) {
	switch name {
	case "", "dated":
		return NewDatedGenerator(), nil
	case "sharded":
		return NewShardedGenerator(), nil
	case "hashed":
		return NewHashedGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown object key generator: %s", name)
	}
}
