// Package sessions implements C8 (the session store service) and C3 (the
// revocation set). Grounded on auth/sessions/service.go's expiry-check
// idiom, extended with the Redis revocation leg the teacher's
// single-tenant-store sessions never had, following original_source's
// Redis revocation conventions.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-iam/iam/internal/errs"
	"github.com/redis/go-redis/v9"
)

// RevocationSet implements core.RevocationSet over Redis.
type RevocationSet struct {
	rdb redis.UniversalClient
}

// NewRevocationSet builds a RevocationSet.
func NewRevocationSet(rdb redis.UniversalClient) *RevocationSet {
	return &RevocationSet{rdb: rdb}
}

// Revoke records jti as revoked with a TTL clamped to [1s, ttl].
func (r *RevocationSet) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = time.Second
	}
	key := revokedKey(jti)
	if err := r.rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		return errs.Wrap(errs.KvError, "record revocation", err)
	}
	return nil
}

// IsRevoked reports whether jti has been revoked.
func (r *RevocationSet) IsRevoked(ctx context.Context, jti string) (bool, error) {
	key := revokedKey(jti)
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, errs.Wrap(errs.KvError, "check revocation", err)
	}
	return n > 0, nil
}

func revokedKey(jti string) string {
	return fmt.Sprintf("revoked:%s", jti)
}
