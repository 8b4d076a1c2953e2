package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedEmbedder wraps an embedder with a redis cache-aside layer. Identical
// queries are common enough (retries, compare-with/without-RAG clients) that
// skipping the embedding round trip is worth a redis hop. Cache failures are
// logged and ignored; the cache is never allowed to fail a request.
type CachedEmbedder struct {
	inner  *Embedder
	rdb    *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
	prefix string
}

func NewCachedEmbedder(inner *Embedder, rdb *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		log:    log,
		prefix: "raggate:embed:",
	}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.model + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	cached, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var vec []float32
		if err := json.Unmarshal(cached, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
		c.log.Warnw("discarding corrupt cached embedding", "key", key)
	} else if err != redis.Nil {
		c.log.Warnw("embedding cache read failed", "error", err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(vec); err == nil {
		if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.log.Warnw("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}
