package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"shardchat/configs"
	"shardchat/router"
	"shardchat/storage"
)

func sweepAfter(d time.Duration) func() {
	prev := configs.SweepAfter
	configs.SweepAfter = d
	return func() { configs.SweepAfter = prev }
}

func TestSweeperFinishesPartialCommit(t *testing.T) {
	ctx := context.Background()
	cat, shards := storage.Testkit(ctx, "sweep_partial_commit", 2)
	rt := router.NewRouterWithCatalog(cat)
	tm := NewManager(rt)

	alice, err := cat.CreateUser(ctx, "alice", "hash", nil, 1)
	assert.NoError(t, err)
	bob, err := cat.CreateUser(ctx, "bob", "hash", nil, 2)
	assert.NoError(t, err)
	assert.NoError(t, shards[0].SeedWallet(ctx, alice.ID, 100, 0))

	// exactly the apply budget: one initial try plus CommitApplyRetry retries
	shards[1].FailNextOps("commit", configs.CommitApplyRetry+1)
	out := tm.TransferMoney(ctx, "alice", "bob", 30, nil)
	assert.Equal(t, PartialCommit, out.Code)

	// one pass replays the CONFIRMED decision onto the stuck credit
	rep, err := NewSweeper(rt).Sweep(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, rep.Committed)
	assert.Equal(t, 0, rep.Canceled)

	w, err := shards[1].GetWallet(ctx, bob.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), w.Money)
	phase, ok, err := shards[1].TransferPhase(ctx, out.TxID, false)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, storage.PhaseCommitted, phase)

	branches, err := shards[1].PreparedBranches(ctx)
	assert.NoError(t, err)
	assert.Len(t, branches, 0)
}

func TestSweeperCancelsAbandonedTransfer(t *testing.T) {
	defer sweepAfter(0)()
	ctx := context.Background()
	cat, shards := storage.Testkit(ctx, "sweep_abandoned", 2)
	rt := router.NewRouterWithCatalog(cat)

	alice, err := cat.CreateUser(ctx, "alice", "hash", nil, 1)
	assert.NoError(t, err)
	bob, err := cat.CreateUser(ctx, "bob", "hash", nil, 2)
	assert.NoError(t, err)
	assert.NoError(t, shards[0].SeedWallet(ctx, alice.ID, 100, 0))

	// a coordinator that died between the prepares and the decision
	txID, err := cat.StartTransaction(ctx)
	assert.NoError(t, err)
	assert.NoError(t, shards[0].PrepareTransfer(ctx, alice.ID, 30, true, txID))
	assert.NoError(t, shards[1].PrepareTransfer(ctx, bob.ID, 30, false, txID))

	rep, err := NewSweeper(rt).Sweep(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, rep.Canceled)
	assert.Equal(t, 2, rep.RolledBack)

	txn, err := cat.GetTransaction(ctx, txID)
	assert.NoError(t, err)
	assert.Equal(t, storage.TxCanceled, txn.Status)

	w, err := shards[0].GetWallet(ctx, alice.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), w.Money)
	assert.Equal(t, int64(0), w.HeldMoney)
	w, err = shards[1].GetWallet(ctx, bob.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), w.Money)

	for i := range shards {
		branches, err := shards[i].PreparedBranches(ctx)
		assert.NoError(t, err)
		assert.Len(t, branches, 0)
	}
}

func TestSweeperLeavesYoungPendingAlone(t *testing.T) {
	defer sweepAfter(time.Hour)()
	ctx := context.Background()
	cat, shards := storage.Testkit(ctx, "sweep_young_pending", 1)
	rt := router.NewRouterWithCatalog(cat)

	alice, err := cat.CreateUser(ctx, "alice", "hash", nil, 1)
	assert.NoError(t, err)
	assert.NoError(t, shards[0].SeedWallet(ctx, alice.ID, 100, 0))

	txID, err := cat.StartTransaction(ctx)
	assert.NoError(t, err)
	assert.NoError(t, shards[0].PrepareTransfer(ctx, alice.ID, 30, true, txID))

	rep, err := NewSweeper(rt).Sweep(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)

	// possibly still live: hands off
	txn, err := cat.GetTransaction(ctx, txID)
	assert.NoError(t, err)
	assert.Equal(t, storage.TxPending, txn.Status)
	w, err := shards[0].GetWallet(ctx, alice.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(70), w.Money)
	assert.Equal(t, int64(30), w.HeldMoney)
}

func TestSweeperRunLoop(t *testing.T) {
	defer sweepAfter(0)()
	prev := configs.SweepInterval
	configs.SweepInterval = 5 * time.Millisecond
	defer func() { configs.SweepInterval = prev }()

	ctx := context.Background()
	cat, shards := storage.Testkit(ctx, "sweep_run_loop", 1)
	rt := router.NewRouterWithCatalog(cat)

	alice, err := cat.CreateUser(ctx, "alice", "hash", nil, 1)
	assert.NoError(t, err)
	assert.NoError(t, shards[0].SeedWallet(ctx, alice.ID, 100, 0))
	txID, err := cat.StartTransaction(ctx)
	assert.NoError(t, err)
	assert.NoError(t, shards[0].PrepareTransfer(ctx, alice.ID, 30, true, txID))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSweeper(rt).Run(runCtx)
	}()

	assert.Eventually(t, func() bool {
		txn, err := cat.GetTransaction(ctx, txID)
		return err == nil && txn.Status == storage.TxCanceled
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	w, err := shards[0].GetWallet(ctx, alice.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), w.Money)
	assert.Equal(t, int64(0), w.HeldMoney)
}
