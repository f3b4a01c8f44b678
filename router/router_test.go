package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"shardchat/storage"
)

func TestRouterResolvesUserToShard(t *testing.T) {
	ctx := context.Background()
	cat, _ := storage.Testkit(ctx, "router_resolve", 2)
	rt := NewRouterWithCatalog(cat)
	defer rt.Close()

	u, err := cat.CreateUser(ctx, "alice", "hash", nil, 2)
	assert.NoError(t, err)

	got, err := rt.GetUser(ctx, "alice")
	assert.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	sh, err := rt.GetShardForUser(ctx, u.ID)
	assert.NoError(t, err)
	assert.Equal(t, "shard2", sh.Name())

	_, err = rt.GetShardForUser(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRouterReusesShardSessions(t *testing.T) {
	ctx := context.Background()
	cat, _ := storage.Testkit(ctx, "router_reuse", 1)
	rt := NewRouterWithCatalog(cat)
	defer rt.Close()

	first, err := rt.GetShard(ctx, 1)
	assert.NoError(t, err)
	second, err := rt.GetShard(ctx, 1)
	assert.NoError(t, err)
	assert.Same(t, first, second)

	_, err = rt.GetShard(ctx, 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRouterSharesCatalogHandle(t *testing.T) {
	ctx := context.Background()
	cat, _ := storage.Testkit(ctx, "router_catalog", 1)
	rt := NewRouterWithCatalog(cat)
	defer rt.Close()

	assert.Same(t, cat, rt.GetAccountDB())
	_, err := rt.GetAccountDB().StartTransaction(ctx)
	assert.NoError(t, err)
}
