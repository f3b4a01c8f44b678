package storage

import (
	"context"
	"errors"

	"shardchat/configs"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Shard is one partition database: wallets and messages for the users
// pinned to it, plus the transfer audit for its branches of cross-shard
// transfers. Like the catalog, it is a tagged variant over the driver the
// conninfo selects.
type Shard struct {
	name      string
	storeType string
	pool      *pgxpool.Pool
	mdb       *mongoShard
	mem       *memShard
	log       *LogManager
}

// NewShard opens a session pool against the shard behind conninfo.
func NewShard(ctx context.Context, name, conninfo string) (*Shard, error) {
	c := &Shard{name: name, storeType: configs.StoreTypeOf(conninfo)}
	switch c.storeType {
	case configs.PostgreSQL:
		config, err := pgxpool.ParseConfig(conninfo)
		if err != nil {
			return nil, err
		}
		config.MaxConns = configs.MaxShardConns
		dialCtx, cancel := context.WithTimeout(ctx, configs.ShardDialTimeout)
		defer cancel()
		c.pool, err = pgxpool.ConnectConfig(dialCtx, config)
		if err != nil {
			return nil, err
		}
	case configs.MongoDB:
		mdb, err := newMongoShard(ctx, name, conninfo)
		if err != nil {
			return nil, err
		}
		c.mdb = mdb
	case configs.MemoryStorage:
		c.mem = memShardFor(conninfo)
	default:
		return nil, errors.New("unsupported shard conninfo: " + conninfo)
	}
	c.log = NewLogManager(name)
	return c, nil
}

func (c *Shard) Name() string { return c.name }

func (c *Shard) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.mdb != nil {
		c.mdb.close()
	}
	c.log.Close()
}

/* Messaging. */

// InsertMessage appends a chat line to the shard.
func (c *Shard) InsertMessage(ctx context.Context, roomID int64, userID int32, content string) error {
	switch c.storeType {
	case configs.MemoryStorage:
		return c.mem.insertMessage(roomID, userID, content)
	case configs.MongoDB:
		return c.mdb.insertMessage(ctx, roomID, userID, content)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	_, err := c.pool.Exec(ctx,
		"INSERT INTO messages(room_id, user_id, content) VALUES($1, $2, $3)",
		roomID, userID, content)
	return err
}

// GetMessages returns the room's messages held on this shard, id ascending.
func (c *Shard) GetMessages(ctx context.Context, roomID int64) ([]Message, error) {
	switch c.storeType {
	case configs.MemoryStorage:
		return c.mem.getMessages(roomID)
	case configs.MongoDB:
		return c.mdb.getMessages(ctx, roomID)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	rows, err := c.pool.Query(ctx,
		"SELECT id, room_id, user_id, content, created_at FROM messages WHERE room_id = $1 ORDER BY id",
		roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

/* Wallet TCC primitives. Each is a single local transaction; the deduct
   prepare rides on a conditional UPDATE whose affected-row count is the
   success signal. */

// GetWallet reads a wallet row.
func (c *Shard) GetWallet(ctx context.Context, userID int32) (*Wallet, error) {
	switch c.storeType {
	case configs.MemoryStorage:
		return c.mem.getWallet(userID)
	case configs.MongoDB:
		return c.mdb.getWallet(ctx, userID)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	w := &Wallet{}
	err := c.pool.QueryRow(ctx,
		"SELECT user_id, money, held_money FROM wallets WHERE user_id = $1",
		userID).Scan(&w.UserID, &w.Money, &w.HeldMoney)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// PrepareTransfer is the Try step. Deduct side: reserve amount out of the
// liquid balance if it covers; credit side: make sure the wallet row exists.
func (c *Shard) PrepareTransfer(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	var err error
	switch c.storeType {
	case configs.MemoryStorage:
		err = c.mem.prepareTransfer(userID, amount, isDeduct, txID)
	case configs.MongoDB:
		err = c.mdb.prepareTransfer(ctx, userID, amount, isDeduct, txID)
	default:
		err = c.prepareTransferPG(ctx, userID, amount, isDeduct, txID)
	}
	if err == nil {
		c.log.writeTransferState(&TransferBranch{TxID: txID, UserID: userID, Amount: amount, IsDeduct: isDeduct, Phase: PhasePrepared})
		configs.TxnPrint(txID, " prepare ok on %s, user=%d, deduct=%v", c.name, userID, isDeduct)
	}
	return err
}

// CommitTransfer is the Confirm step. Deduct side discharges the hold;
// credit side adds liquid money. Idempotent through the phase audit.
func (c *Shard) CommitTransfer(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	var err error
	switch c.storeType {
	case configs.MemoryStorage:
		err = c.mem.commitTransfer(userID, amount, isDeduct, txID)
	case configs.MongoDB:
		err = c.mdb.commitTransfer(ctx, userID, amount, isDeduct, txID)
	default:
		err = c.commitTransferPG(ctx, userID, amount, isDeduct, txID)
	}
	if err == nil {
		c.log.writeTransferState(&TransferBranch{TxID: txID, UserID: userID, Amount: amount, IsDeduct: isDeduct, Phase: PhaseCommitted})
		configs.TxnPrint(txID, " commit ok on %s, user=%d, deduct=%v", c.name, userID, isDeduct)
	}
	return err
}

// RollbackTransfer is the Cancel step. Deduct side restores the
// reservation; credit side only closes the audit record.
func (c *Shard) RollbackTransfer(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	var err error
	switch c.storeType {
	case configs.MemoryStorage:
		err = c.mem.rollbackTransfer(userID, amount, isDeduct, txID)
	case configs.MongoDB:
		err = c.mdb.rollbackTransfer(ctx, userID, amount, isDeduct, txID)
	default:
		err = c.rollbackTransferPG(ctx, userID, amount, isDeduct, txID)
	}
	if err == nil {
		c.log.writeTransferState(&TransferBranch{TxID: txID, UserID: userID, Amount: amount, IsDeduct: isDeduct, Phase: PhaseRolledBack})
		configs.TxnPrint(txID, " rollback ok on %s, user=%d, deduct=%v", c.name, userID, isDeduct)
	}
	return err
}

/* Audit access for the recovery sweeper. */

// PreparedBranches lists branches stuck in the prepared phase on this shard.
func (c *Shard) PreparedBranches(ctx context.Context) ([]TransferBranch, error) {
	switch c.storeType {
	case configs.MemoryStorage:
		return c.mem.preparedBranches()
	case configs.MongoDB:
		return c.mdb.preparedBranches(ctx)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	rows, err := c.pool.Query(ctx,
		"SELECT tx_id, user_id, amount, is_deduct, phase, created_at FROM transfer_log WHERE phase = $1",
		PhasePrepared)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]TransferBranch, 0)
	for rows.Next() {
		var b TransferBranch
		if err := rows.Scan(&b.TxID, &b.UserID, &b.Amount, &b.IsDeduct, &b.Phase, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// TransferPhase returns the audited phase of one branch, if any.
func (c *Shard) TransferPhase(ctx context.Context, txID string, isDeduct bool) (string, bool, error) {
	switch c.storeType {
	case configs.MemoryStorage:
		return c.mem.transferPhase(txID, isDeduct)
	case configs.MongoDB:
		return c.mdb.transferPhase(ctx, txID, isDeduct)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	var phase string
	err := c.pool.QueryRow(ctx,
		"SELECT phase FROM transfer_log WHERE tx_id = $1 AND is_deduct = $2",
		txID, isDeduct).Scan(&phase)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return phase, true, nil
}

// SeedWallet writes a wallet row outright. Provisioning and test helper;
// never part of the transfer protocol.
func (c *Shard) SeedWallet(ctx context.Context, userID int32, money, heldMoney int64) error {
	switch c.storeType {
	case configs.MemoryStorage:
		return c.mem.seedWallet(userID, money, heldMoney)
	case configs.MongoDB:
		return c.mdb.seedWallet(ctx, userID, money, heldMoney)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	_, err := c.pool.Exec(ctx,
		"INSERT INTO wallets(user_id, money, held_money) VALUES($1, $2, $3) "+
			"ON CONFLICT (user_id) DO UPDATE SET money = $2, held_money = $3",
		userID, money, heldMoney)
	return err
}
