package objectkey

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for the given client file name
	GenerateKey(fileName string) string
}

// UUIDGenerator prefixes the file name with a random UUID: {uuid}-{filename}
type UUIDGenerator struct {
	// Prefix is an optional directory prepended to every key (e.g. "uploads")
	Prefix string
}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) GenerateKey(fileName string) string {
	return withPrefix(g.Prefix, fmt.Sprintf("%s-%s", uuid.New(), sanitizeFilename(fileName)))
}

// TimestampGenerator prefixes the file name with the current Unix time in
// milliseconds: {millis}-{filename}. Two uploads of the same name within the
// same millisecond collide, so prefer UUIDGenerator for concurrent traffic.
type TimestampGenerator struct {
	Prefix string
	Now    func() time.Time
}

func NewTimestampGenerator() *TimestampGenerator {
	return &TimestampGenerator{Now: time.Now}
}

func (g *TimestampGenerator) GenerateKey(fileName string) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return withPrefix(g.Prefix, fmt.Sprintf("%d-%s", now().UnixMilli(), sanitizeFilename(fileName)))
}

// GitLikeGenerator provides Git-style sharded keys
// Structure: originals/objects/ab/cd1234ef5678_filename
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(fileName string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")

	shardLength := g.ShardLength
	if shardLength <= 0 || shardLength > len(id) {
		shardLength = 2
	}

	shardDir := id[:shardLength]
	remaining := id[shardLength:]

	filename := remaining
	if fileName != "" {
		filename = fmt.Sprintf("%s_%s", remaining, sanitizeFilename(fileName))
	}

	return fmt.Sprintf("originals/objects/%s/%s", shardDir, filename)
}

// CustomFuncGenerator allows library users to provide their own key
// generation function. It cannot be selected through server configuration;
// pass it to the service with simpletransfer.WithKeyGenerator.
type CustomFuncGenerator struct {
	GenerateFunc func(fileName string) string
}

func NewCustomFuncGenerator(fn func(fileName string) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

func (g *CustomFuncGenerator) GenerateKey(fileName string) string {
	return g.GenerateFunc(fileName)
}

// FileName recovers the client file name from a key produced by one of the
// generators in this package. Unknown layouts return the last path segment.
func FileName(key string) string {
	base := path.Base(key)
	if base == "." || base == "/" {
		return ""
	}

	// {uuid}-{filename}
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}

	// {millis}-{filename}
	if i := strings.IndexByte(base, '-'); i > 0 && i < len(base)-1 {
		if _, err := strconv.ParseInt(base[:i], 10, 64); err == nil {
			return base[i+1:]
		}
	}

	// originals/objects/ab/{30 hex}_{filename}
	if strings.HasPrefix(key, "originals/objects/") {
		if i := strings.IndexByte(base, '_'); i > 0 && i < len(base)-1 {
			return base[i+1:]
		}
	}

	return base
}

func withPrefix(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Helper functions for path sanitization
func sanitizeFilename(filename string) string {
	// Replace characters that break keys, URLs or Content-Disposition headers
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
	name := replacer.Replace(strings.TrimSpace(filename))
	if name == "" {
		return "file"
	}
	return name
}

// Strategy names accepted by New
const (
	StrategyUUID      = "uuid"
	StrategyTimestamp = "timestamp"
	StrategyGitLike   = "gitlike"
)

// New returns the generator for a named strategy. An empty strategy selects
// StrategyUUID. The prefix applies to the uuid and timestamp layouts only.
func New(strategy, prefix string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyUUID:
		return &UUIDGenerator{Prefix: prefix}, nil
	case StrategyTimestamp:
		g := NewTimestampGenerator()
		g.Prefix = prefix
		return g, nil
	case StrategyGitLike:
		if strings.Trim(prefix, "/") != "" {
			return nil, fmt.Errorf("key prefix is not supported by the %s strategy", StrategyGitLike)
		}
		return NewGitLikeGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown key strategy %q, want %s, %s or %s", strategy, StrategyUUID, StrategyTimestamp, StrategyGitLike)
	}
}

// NewRecommendedGenerator returns the recommended generator for new installations
func NewRecommendedGenerator() Generator {
	return NewUUIDGenerator()
}
