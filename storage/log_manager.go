package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shardchat/configs"

	"github.com/goccy/go-json"
	"github.com/tidwall/wal"
)

// LogManager journals transfer-branch phase changes for one shard into a
// local write-ahead log. Appends are batched and flushed on a short timer;
// the journal is an operator-facing audit trail next to the durable
// transfer_log rows.
type LogManager struct {
	latch  sync.Mutex
	lsn    uint64
	logs   *wal.Log
	buffer *wal.Batch
	cancel context.CancelFunc
}

func NewLogManager(shardID string) *LogManager {
	res := &LogManager{}
	if !configs.UseWAL {
		return res
	}
	log, err := wal.Open(fmt.Sprintf("%s/%s", configs.WALDirectory, shardID), nil)
	if err != nil {
		panic(err)
	}
	res.logs = log
	res.lsn, err = log.LastIndex()
	if err != nil {
		panic(err)
	}
	res.buffer = &wal.Batch{}
	var ctx context.Context
	ctx, res.cancel = context.WithCancel(context.Background())
	go res.batchSyncLogger(ctx, res.lsn)
	return res
}

func (c *LogManager) writeTransferState(b *TransferBranch) {
	if !configs.UseWAL {
		return
	}
	c.latch.Lock()
	defer c.latch.Unlock()
	entry, _ := json.Marshal(b)
	c.lsn++
	c.buffer.Write(c.lsn, entry)
}

func (c *LogManager) batchSyncLogger(ctx context.Context, initLSN uint64) {
	lastLSN := initLSN
	for {
		select {
		case <-time.After(configs.LogBatchInterval):
			c.latch.Lock()
			if c.lsn == lastLSN || c.buffer == nil {
				c.latch.Unlock()
			} else {
				err := c.logs.WriteBatch(c.buffer)
				if err != nil {
					panic(err)
				}
				c.buffer.Clear()
				lastLSN = c.lsn
				c.latch.Unlock()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *LogManager) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.logs != nil {
		c.latch.Lock()
		if c.buffer != nil {
			_ = c.logs.WriteBatch(c.buffer)
			c.buffer.Clear()
		}
		c.latch.Unlock()
		_ = c.logs.Close()
	}
}
