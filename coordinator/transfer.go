// Package coordinator drives cross-shard money transfers with a
// Try/Confirm/Cancel protocol. The catalog's transaction ledger is the
// single source of truth: a transfer is committed exactly when its ledger
// row reads CONFIRMED, and every wallet change before or after that point
// is either reserved-and-revocable or a replay of the recorded decision.
package coordinator

import (
	"context"
	"errors"
	"time"

	"shardchat/configs"
	"shardchat/router"
	"shardchat/storage"
	"shardchat/utils"
)

type Manager struct {
	rt   *router.Router
	stat *utils.Stat
}

func NewManager(rt *router.Router) *Manager {
	return &Manager{rt: rt, stat: utils.NewStat()}
}

// Stat exposes the accumulated per-transfer measurements.
func (m *Manager) Stat() *utils.Stat { return m.stat }

// classify maps a store error onto the caller-facing code for the phases
// before the ledger decision.
func classify(err error) Code {
	switch {
	case errors.Is(err, storage.ErrInsufficientFunds):
		return InsufficientFunds
	case errors.Is(err, storage.ErrNotFound):
		return NotFound
	default:
		return CoordinatorError
	}
}

// applyWithRetry runs one post-decision wallet operation with doubling
// backoff. ErrNotFound and ErrTxConflict are final: replaying cannot fix
// them.
func applyWithRetry(info *utils.Info, op func() error) error {
	penalty := configs.InitPenalty4Retry
	var err error
	for i := 0; i <= configs.CommitApplyRetry; i++ {
		err = op()
		if err == nil || errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrTxConflict) {
			return err
		}
		if info != nil {
			info.ApplyRetries++
		}
		time.Sleep(penalty)
		penalty *= 2
	}
	return err
}

type branch struct {
	sh       *storage.Shard
	userID   int32
	amount   int64
	isDeduct bool
}

// TransferMoney moves amount from one user's wallet to another's.
//
// Phase 1 (Try): reserve on the sender, then ensure the receiver. Phase 2:
// flip the ledger row to CONFIRMED. Phase 3 (Confirm): discharge the
// sender's hold, then credit the receiver. A failure before phase 2 cancels
// the ledger row and unwinds reservations in reverse order of prepare; a
// failure of phase 2 itself only unwinds (the PENDING row is left for the
// sweeper); a failure after phase 2 is reported as PartialCommit and the
// sweeper finishes the apply.
func (m *Manager) TransferMoney(ctx context.Context, from, to string, amount int64, info *utils.Info) Outcome {
	if info == nil {
		info = utils.NewInfo(2)
	}
	start := time.Now()
	defer m.stat.Append(info)
	defer configs.TimeLoad(start, "transferMoney", "", &info.Latency)

	if amount <= 0 {
		return Outcome{Code: CoordinatorError, Err: errors.New("non-positive transfer amount")}
	}

	cat := m.rt.GetAccountDB()
	fromUser, err := cat.GetUser(ctx, from)
	if err != nil {
		info.Failure = true
		return Outcome{Code: classify(err), Err: err}
	}
	toUser, err := cat.GetUser(ctx, to)
	if err != nil {
		info.Failure = true
		return Outcome{Code: classify(err), Err: err}
	}
	if fromUser.ShardID == toUser.ShardID {
		info.NumPart = 1
	}

	txID, err := cat.StartTransaction(ctx)
	if err != nil {
		info.Failure = true
		return Outcome{Code: CoordinatorError, Err: err}
	}

	sender, err := m.rt.GetShard(ctx, fromUser.ShardID)
	if err != nil {
		m.abort(ctx, txID, info)
		info.Failure = true
		return Outcome{Code: CoordinatorError, TxID: txID, Err: err}
	}
	receiver, err := m.rt.GetShard(ctx, toUser.ShardID)
	if err != nil {
		m.abort(ctx, txID, info)
		info.Failure = true
		return Outcome{Code: CoordinatorError, TxID: txID, Err: err}
	}

	// Phase 1: reservations. Sender first, so a broke sender never touches
	// the receiver's shard.
	phase1 := time.Now()
	if err = sender.PrepareTransfer(ctx, fromUser.ID, amount, true, txID); err != nil {
		m.abort(ctx, txID, info)
		info.Failure = true
		return Outcome{Code: classify(err), TxID: txID, Err: err}
	}
	if err = receiver.PrepareTransfer(ctx, toUser.ID, amount, false, txID); err != nil {
		m.abort(ctx, txID, info,
			&branch{sh: sender, userID: fromUser.ID, amount: amount, isDeduct: true})
		info.Failure = true
		return Outcome{Code: classify(err), TxID: txID, Err: err}
	}
	configs.TimeLoad(phase1, "prepare", txID, &info.ST1)

	// Phase 2: the decision. Once this update lands the transfer is
	// committed no matter what happens to this process.
	phase2 := time.Now()
	if err = cat.CommitTransaction(ctx, txID); err != nil {
		// the catalog would not take our cancel either; unwind the
		// reservations and let the sweeper settle the PENDING row
		m.unwind(ctx, txID, info,
			&branch{sh: receiver, userID: toUser.ID, amount: amount, isDeduct: false},
			&branch{sh: sender, userID: fromUser.ID, amount: amount, isDeduct: true})
		info.Failure = true
		return Outcome{Code: CoordinatorError, TxID: txID, Err: err}
	}
	configs.TimeLoad(phase2, "decide", txID, &info.ST2)
	configs.TxnPrint(txID, " confirmed: %s -> %s, amount=%d", from, to, amount)

	// Phase 3: apply the decision, sender first. Errors here no longer
	// change the outcome of the transfer, only who finishes it.
	phase3 := time.Now()
	errS := applyWithRetry(info, func() error {
		return sender.CommitTransfer(ctx, fromUser.ID, amount, true, txID)
	})
	errR := applyWithRetry(info, func() error {
		return receiver.CommitTransfer(ctx, toUser.ID, amount, false, txID)
	})
	configs.TimeLoad(phase3, "apply", txID, &info.ST3)
	if errS != nil || errR != nil {
		err = errS
		if err == nil {
			err = errR
		}
		configs.TxnPrint(txID, " confirmed but not fully applied: %v", err)
		info.Failure = true
		return Outcome{Code: PartialCommit, TxID: txID, Err: err}
	}
	info.IsCommit = true
	return Outcome{Code: OK, TxID: txID}
}

// abort cancels the ledger row, then unwinds prepared branches in reverse
// order of prepare.
func (m *Manager) abort(ctx context.Context, txID string, info *utils.Info, branches ...*branch) {
	if err := m.rt.GetAccountDB().CancelTransaction(ctx, txID); err != nil {
		configs.Warn(false, "ledger cancel failed: "+err.Error())
		if errors.Is(err, storage.ErrTxConflict) {
			// someone confirmed it first; do not unwind
			return
		}
	}
	m.unwind(ctx, txID, info, branches...)
}

// unwind rolls prepared branches back, best effort. A branch that cannot
// be unwound here stays prepared until the sweeper settles it against the
// ledger.
func (m *Manager) unwind(ctx context.Context, txID string, info *utils.Info, branches ...*branch) {
	for _, b := range branches {
		b := b
		err := applyWithRetry(info, func() error {
			return b.sh.RollbackTransfer(ctx, b.userID, b.amount, b.isDeduct, txID)
		})
		if err != nil {
			configs.TxnPrint(txID, " rollback pending on %s: %v", b.sh.Name(), err)
		}
	}
}
