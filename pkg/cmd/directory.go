package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/procurio/approvalflow/pkg/directory"
	"github.com/procurio/approvalflow/pkg/directory/rediscache"
)

const roleCacheTTL = 5 * time.Minute

// NewDirectory loads the role directory from the given assignments file.
// With a non-empty redisURL the directory is wrapped in a Redis read-through
// cache for role lookups.
func NewDirectory(assignmentsPath, redisURL string, logger *slog.Logger) directory.Directory {
	static, err := directory.LoadFile(assignmentsPath)
	if err != nil {
		panic(fmt.Errorf("failed to load directory assignments: %w", err))
	}

	if redisURL == "" {
		return static
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse Redis URL: %w", err))
	}

	return rediscache.New(static, redis.NewClient(opts), roleCacheTTL, logger)
}
