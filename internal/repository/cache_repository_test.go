package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "moderation:", nil)
	ctx := context.Background()

	var dest map[string]int
	err := repo.Get(ctx, "stats:moderation:all", &dest)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "stats:moderation:all", map[string]int{"total": 1}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "stats:*"))
	assert.NoError(t, repo.Ping(ctx))
	assert.NoError(t, repo.Close())
}

func TestCacheRepositoryUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	repo := NewCacheRepository(client, "moderation:", nil)
	defer repo.Close()
	ctx := context.Background()

	var dest map[string]int
	err := repo.Get(ctx, "provider:external:abc", &dest)
	require.Error(t, err)
	assert.NotErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.Error(t, repo.Set(ctx, "provider:external:abc", map[string]int{"n": 1}, time.Minute))
	assert.Error(t, repo.Ping(ctx))
	assert.Equal(t, "moderation:provider:external:abc", repo.key("provider:external:abc"))
}
