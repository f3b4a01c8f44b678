package storage

import (
	"context"
	"fmt"

	"shardchat/configs"
)

// Testkit builds a memory-backed catalog with shardCnt shards registered
// under it. name keeps parallel test fixtures out of each other's state.
func Testkit(ctx context.Context, name string, shardCnt int) (*Catalog, []*Shard) {
	cat, err := NewCatalog(ctx, fmt.Sprintf("mem://%s/catalog", name))
	configs.CheckError(err)
	shards := make([]*Shard, 0, shardCnt)
	for i := 1; i <= shardCnt; i++ {
		conninfo := fmt.Sprintf("mem://%s/shard%d", name, i)
		shardName := fmt.Sprintf("shard%d", i)
		configs.CheckError(cat.AddShard(ctx, int32(i), shardName, conninfo))
		sh, err := NewShard(ctx, shardName, conninfo)
		configs.CheckError(err)
		shards = append(shards, sh)
	}
	return cat, shards
}
