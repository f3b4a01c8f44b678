package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
)

// Postgres halves of the wallet TCC primitives. Every primitive runs as one
// local transaction so the balance change and the audit flip land together.

func (c *Shard) prepareTransferPG(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if isDeduct {
		// The money >= amount guard makes check-and-reserve atomic; zero
		// affected rows means missing wallet or short balance.
		tag, err := tx.Exec(ctx,
			"UPDATE wallets SET money = money - $1, held_money = held_money + $1 "+
				"WHERE user_id = $2 AND money >= $1",
			amount, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var cnt int
			if err := tx.QueryRow(ctx,
				"SELECT count(*) FROM wallets WHERE user_id = $1", userID).Scan(&cnt); err != nil {
				return err
			}
			if cnt == 0 {
				return ErrNotFound
			}
			return ErrInsufficientFunds
		}
	} else {
		// Receiver side only guarantees the row; balances stay untouched.
		if _, err := tx.Exec(ctx,
			"INSERT INTO wallets(user_id, money, held_money) VALUES($1, 0, 0) "+
				"ON CONFLICT (user_id) DO NOTHING", userID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO transfer_log(tx_id, user_id, amount, is_deduct, phase, created_at) "+
			"VALUES($1, $2, $3, $4, $5, NOW()) ON CONFLICT (tx_id, is_deduct) DO NOTHING",
		txID, userID, amount, isDeduct, PhasePrepared); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *Shard) commitTransferPG(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	done, err := flipPhasePG(ctx, tx, txID, isDeduct, PhaseCommitted)
	if err != nil || done {
		return err
	}
	if isDeduct {
		tag, err := tx.Exec(ctx,
			"UPDATE wallets SET held_money = held_money - $1 WHERE user_id = $2 AND held_money >= $1",
			amount, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	} else {
		tag, err := tx.Exec(ctx,
			"UPDATE wallets SET money = money + $1 WHERE user_id = $2",
			amount, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}
	return tx.Commit(ctx)
}

func (c *Shard) rollbackTransferPG(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	done, err := flipPhasePG(ctx, tx, txID, isDeduct, PhaseRolledBack)
	if err != nil || done {
		return err
	}
	if isDeduct {
		tag, err := tx.Exec(ctx,
			"UPDATE wallets SET money = money + $1, held_money = held_money - $1 "+
				"WHERE user_id = $2 AND held_money >= $1",
			amount, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}
	return tx.Commit(ctx)
}

// flipPhasePG moves the audit row from prepared to the target phase. It
// reports done=true when the branch already reached target (repeat
// delivery), ErrTxConflict when it sits in the opposite terminal phase, and
// ErrNotFound when the branch was never prepared here.
func flipPhasePG(ctx context.Context, tx pgx.Tx, txID string, isDeduct bool, target string) (bool, error) {
	tag, err := tx.Exec(ctx,
		"UPDATE transfer_log SET phase = $1 WHERE tx_id = $2 AND is_deduct = $3 AND phase = $4",
		target, txID, isDeduct, PhasePrepared)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}
	var phase string
	err = tx.QueryRow(ctx,
		"SELECT phase FROM transfer_log WHERE tx_id = $1 AND is_deduct = $2",
		txID, isDeduct).Scan(&phase)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if phase == target {
		return true, tx.Commit(ctx)
	}
	return false, ErrTxConflict
}
