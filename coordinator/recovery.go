package coordinator

import (
	"context"
	"errors"
	"time"

	"shardchat/configs"
	"shardchat/router"
	"shardchat/storage"
)

// Sweeper finishes transfers whose coordinator died mid-flight. It walks
// each shard's prepared branches and replays the ledger's decision onto
// them; a PENDING row old enough to have been abandoned is decided CANCELED
// first. Safe to run concurrently with live transfers: every step is a
// conditional update that loses gracefully to the live coordinator.
type Sweeper struct {
	rt *router.Router
}

func NewSweeper(rt *router.Router) *Sweeper {
	return &Sweeper{rt: rt}
}

// SweepReport counts what one pass did.
type SweepReport struct {
	Committed  int // stuck branches driven to committed
	RolledBack int // stuck branches driven to rolled back
	Canceled   int // abandoned PENDING ledger rows decided CANCELED
	Skipped    int // young PENDING branches left to their coordinator
}

// Run sweeps on a fixed interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(configs.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				configs.Warn(false, "sweep pass failed: "+err.Error())
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep makes one pass over every registered shard.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	cat := s.rt.GetAccountDB()
	shards, err := cat.ListShards(ctx)
	if err != nil {
		return rep, err
	}
	var firstErr error
	for i := range shards {
		sh, err := s.rt.GetShard(ctx, shards[i].ID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.sweepShard(ctx, cat, sh, &rep); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return rep, firstErr
}

func (s *Sweeper) sweepShard(ctx context.Context, cat *storage.Catalog, sh *storage.Shard, rep *SweepReport) error {
	branches, err := sh.PreparedBranches(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for i := range branches {
		if err := s.settleBranch(ctx, cat, sh, &branches[i], rep); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// settleBranch drives one prepared branch to the ledger's decision.
func (s *Sweeper) settleBranch(ctx context.Context, cat *storage.Catalog, sh *storage.Shard, b *storage.TransferBranch, rep *SweepReport) error {
	txn, err := cat.GetTransaction(ctx, b.TxID)
	if errors.Is(err, storage.ErrNotFound) {
		// a branch can only exist after its ledger row was written, so a
		// missing row means the ledger lost it; unwind the reservation
		configs.TxnPrint(b.TxID, " sweeping branch with no ledger row")
		rep.RolledBack++
		return sh.RollbackTransfer(ctx, b.UserID, b.Amount, b.IsDeduct, b.TxID)
	}
	if err != nil {
		return err
	}

	status := txn.Status
	if status == storage.TxPending {
		if time.Since(txn.CreatedAt) < configs.SweepAfter {
			// possibly still live; leave it to its coordinator
			rep.Skipped++
			return nil
		}
		err = cat.CancelTransaction(ctx, b.TxID)
		switch {
		case err == nil:
			rep.Canceled++
			status = storage.TxCanceled
		case errors.Is(err, storage.ErrTxConflict):
			// the coordinator decided while we looked; follow its decision
			txn, err = cat.GetTransaction(ctx, b.TxID)
			if err != nil {
				return err
			}
			status = txn.Status
		default:
			return err
		}
	}

	switch status {
	case storage.TxConfirmed:
		configs.TxnPrint(b.TxID, " sweeping confirmed branch on %s", sh.Name())
		rep.Committed++
		return sh.CommitTransfer(ctx, b.UserID, b.Amount, b.IsDeduct, b.TxID)
	case storage.TxCanceled:
		configs.TxnPrint(b.TxID, " sweeping canceled branch on %s", sh.Name())
		rep.RolledBack++
		return sh.RollbackTransfer(ctx, b.UserID, b.Amount, b.IsDeduct, b.TxID)
	}
	return nil
}
