// Package rediscache provides a read-through Redis cache in front of a
// directory, so hot role lookups do not hit the upstream directory on every
// approver resolution.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/procurio/approvalflow/pkg/directory"
	"github.com/procurio/approvalflow/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "approvalflow:directory:role:"

// Directory caches UsersByRole results in Redis with a TTL. HasRole always
// goes to the upstream directory: membership checks gate authorization and
// must not see stale data.
type Directory struct {
	inner  directory.Directory
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps a directory with a Redis read-through cache.
func New(inner directory.Directory, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Directory {
	return &Directory{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// UsersByRole returns holder ids in resolution order, from cache when fresh.
// Cache failures fall back to the upstream directory.
func (d *Directory) UsersByRole(ctx context.Context, role models.ApprovalRole) ([]string, error) {
	key := keyPrefix + string(role)

	cached, err := d.client.Get(ctx, key).Result()
	if err == nil {
		var users []string

		err = json.Unmarshal([]byte(cached), &users)
		if err == nil {
			return users, nil
		}

		d.logger.WarnContext(ctx, "discarding corrupt directory cache entry", "role", role, "error", err)
	} else if !errors.Is(err, redis.Nil) {
		d.logger.WarnContext(ctx, "directory cache read failed", "role", role, "error", err)
	}

	users, err := d.inner.UsersByRole(ctx, role)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(users)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal directory cache entry: %w", err)
	}

	err = d.client.Set(ctx, key, payload, d.ttl).Err()
	if err != nil {
		d.logger.WarnContext(ctx, "directory cache write failed", "role", role, "error", err)
	}

	return users, nil
}

// HasRole reports whether the user holds the given role, always from the
// upstream directory.
func (d *Directory) HasRole(ctx context.Context, userID string, role models.ApprovalRole) (bool, error) {
	return d.inner.HasRole(ctx, userID, role)
}

// Invalidate drops the cached holder list for a role.
func (d *Directory) Invalidate(ctx context.Context, role models.ApprovalRole) error {
	err := d.client.Del(ctx, keyPrefix+string(role)).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate directory cache for role %s: %w", role, err)
	}

	return nil
}
