// Package router resolves users to their home shard and hands out open
// shard sessions. It owns the catalog handle; orchestrators only borrow it.
package router

import (
	"context"
	"sync"

	"shardchat/configs"
	"shardchat/storage"
)

type Router struct {
	account *storage.Catalog

	mu     sync.Mutex
	shards map[int32]*storage.Shard // open session pools, keyed by shard id
}

// NewRouter opens the catalog behind accountConnInfo.
func NewRouter(ctx context.Context, accountConnInfo string) (*Router, error) {
	account, err := storage.NewCatalog(ctx, accountConnInfo)
	if err != nil {
		return nil, err
	}
	return &Router{account: account, shards: make(map[int32]*storage.Shard)}, nil
}

// NewRouterWithCatalog wraps an already-open catalog. Test kits use it.
func NewRouterWithCatalog(account *storage.Catalog) *Router {
	return &Router{account: account, shards: make(map[int32]*storage.Shard)}
}

// GetUser delegates to the catalog.
func (r *Router) GetUser(ctx context.Context, username string) (*storage.User, error) {
	return r.account.GetUser(ctx, username)
}

// GetShardForUser resolves the user's pinned shard and returns an open
// session against it. The user→shard mapping is read from the catalog on
// every call; only the opened session pools are reused.
func (r *Router) GetShardForUser(ctx context.Context, userID int32) (*storage.Shard, error) {
	shardID, err := r.account.GetShardID(ctx, userID)
	if err != nil {
		configs.Warn(false, "invalid shard for user")
		return nil, err
	}
	return r.GetShard(ctx, shardID)
}

// GetShard opens (or reuses) a session pool for one registry entry.
func (r *Router) GetShard(ctx context.Context, shardID int32) (*storage.Shard, error) {
	r.mu.Lock()
	if sh, ok := r.shards[shardID]; ok {
		r.mu.Unlock()
		return sh, nil
	}
	r.mu.Unlock()

	info, err := r.account.GetShardInfo(ctx, shardID)
	if err != nil {
		configs.Warn(false, "shard not found in registry")
		return nil, err
	}
	configs.DPrintf("opening shard %d (%s)", info.ID, info.Name)
	sh, err := storage.NewShard(ctx, info.Name, info.ConnInfo)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.shards[shardID]; ok {
		// lost the race; keep the first session pool
		sh.Close()
		return prev, nil
	}
	r.shards[shardID] = sh
	return sh, nil
}

// GetAccountDB borrows the owning catalog handle. Callers must not retain
// it past the call.
func (r *Router) GetAccountDB() *storage.Catalog {
	return r.account
}

func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sh := range r.shards {
		sh.Close()
	}
	r.shards = make(map[int32]*storage.Shard)
	r.account.Close()
}
