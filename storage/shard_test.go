package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareRollbackRestoresWallet(t *testing.T) {
	ctx := context.Background()
	_, shards := Testkit(ctx, "shard_prepare_rollback", 1)
	sh := shards[0]

	assert.NoError(t, sh.SeedWallet(ctx, 7, 100, 0))
	txID := NewTxID()

	assert.NoError(t, sh.PrepareTransfer(ctx, 7, 40, true, txID))
	w, err := sh.GetWallet(ctx, 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(60), w.Money)
	assert.Equal(t, int64(40), w.HeldMoney)

	assert.NoError(t, sh.RollbackTransfer(ctx, 7, 40, true, txID))
	w, err = sh.GetWallet(ctx, 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), w.Money)
	assert.Equal(t, int64(0), w.HeldMoney)
}

func TestPrepareGuardsBalance(t *testing.T) {
	ctx := context.Background()
	_, shards := Testkit(ctx, "shard_prepare_guard", 1)
	sh := shards[0]

	assert.NoError(t, sh.SeedWallet(ctx, 7, 10, 0))
	err := sh.PrepareTransfer(ctx, 7, 30, true, NewTxID())
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	w, err := sh.GetWallet(ctx, 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), w.Money)
	assert.Equal(t, int64(0), w.HeldMoney)

	err = sh.PrepareTransfer(ctx, 99, 30, true, NewTxID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreditPrepareCreatesWallet(t *testing.T) {
	ctx := context.Background()
	_, shards := Testkit(ctx, "shard_credit_prepare", 1)
	sh := shards[0]

	txID := NewTxID()
	_, err := sh.GetWallet(ctx, 8)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, sh.PrepareTransfer(ctx, 8, 30, false, txID))
	w, err := sh.GetWallet(ctx, 8)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), w.Money)
	assert.Equal(t, int64(0), w.HeldMoney)

	assert.NoError(t, sh.CommitTransfer(ctx, 8, 30, false, txID))
	w, err = sh.GetWallet(ctx, 8)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), w.Money)
}

func TestCommitAndRollbackAreIdempotent(t *testing.T) {
	ctx := context.Background()
	_, shards := Testkit(ctx, "shard_idempotent", 1)
	sh := shards[0]

	assert.NoError(t, sh.SeedWallet(ctx, 7, 100, 0))
	txID := NewTxID()
	assert.NoError(t, sh.PrepareTransfer(ctx, 7, 40, true, txID))

	assert.NoError(t, sh.CommitTransfer(ctx, 7, 40, true, txID))
	// the replay flips nothing
	assert.NoError(t, sh.CommitTransfer(ctx, 7, 40, true, txID))
	w, err := sh.GetWallet(ctx, 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(60), w.Money)
	assert.Equal(t, int64(0), w.HeldMoney)

	// a committed branch refuses to roll back
	assert.ErrorIs(t, sh.RollbackTransfer(ctx, 7, 40, true, txID), ErrTxConflict)
	w, err = sh.GetWallet(ctx, 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(60), w.Money)

	phase, ok, err := sh.TransferPhase(ctx, txID, true)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PhaseCommitted, phase)
}

func TestPreparedBranchesListing(t *testing.T) {
	ctx := context.Background()
	_, shards := Testkit(ctx, "shard_branch_listing", 1)
	sh := shards[0]

	assert.NoError(t, sh.SeedWallet(ctx, 7, 100, 0))
	tx1, tx2 := NewTxID(), NewTxID()
	assert.NoError(t, sh.PrepareTransfer(ctx, 7, 10, true, tx1))
	assert.NoError(t, sh.PrepareTransfer(ctx, 7, 20, true, tx2))
	assert.NoError(t, sh.CommitTransfer(ctx, 7, 10, true, tx1))

	branches, err := sh.PreparedBranches(ctx)
	assert.NoError(t, err)
	assert.Len(t, branches, 1)
	assert.Equal(t, tx2, branches[0].TxID)
	assert.Equal(t, int64(20), branches[0].Amount)

	_, ok, err := sh.TransferPhase(ctx, "TX_absent", true)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, shards := Testkit(ctx, "shard_messages", 1)
	sh := shards[0]

	assert.NoError(t, sh.InsertMessage(ctx, 42, 7, "hi"))
	assert.NoError(t, sh.InsertMessage(ctx, 42, 7, "there"))
	assert.NoError(t, sh.InsertMessage(ctx, 43, 7, "other room"))

	msgs, err := sh.GetMessages(ctx, 42)
	assert.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "there", msgs[1].Content)
	assert.Less(t, msgs[0].ID, msgs[1].ID)
}

func TestShardFailureInjection(t *testing.T) {
	ctx := context.Background()
	_, shards := Testkit(ctx, "shard_failure_injection", 1)
	sh := shards[0]

	assert.NoError(t, sh.SeedWallet(ctx, 7, 100, 0))
	sh.FailNextOps("prepare", 1)
	err := sh.PrepareTransfer(ctx, 7, 10, true, NewTxID())
	assert.ErrorIs(t, err, ErrUnavailable)
	// the armed failure is consumed
	assert.NoError(t, sh.PrepareTransfer(ctx, 7, 10, true, NewTxID()))

	sh.SetDown(true)
	_, err = sh.GetWallet(ctx, 7)
	assert.ErrorIs(t, err, ErrUnavailable)
	sh.SetDown(false)
	_, err = sh.GetWallet(ctx, 7)
	assert.NoError(t, err)
}
