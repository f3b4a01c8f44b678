package storage

import (
	"context"
	"errors"
	"time"

	"shardchat/configs"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Catalog is the central account database: users, the shard registry and
// the global-transaction ledger. The variant behind it is picked from the
// conninfo scheme.
type Catalog struct {
	storeType string
	pool      *pgxpool.Pool
	mem       *memCatalog
}

// NewCatalog opens a catalog handle for the given conninfo.
func NewCatalog(ctx context.Context, conninfo string) (*Catalog, error) {
	c := &Catalog{storeType: configs.StoreTypeOf(conninfo)}
	switch c.storeType {
	case configs.PostgreSQL:
		config, err := pgxpool.ParseConfig(conninfo)
		if err != nil {
			return nil, err
		}
		config.MaxConns = configs.MaxShardConns
		c.pool, err = pgxpool.ConnectConfig(ctx, config)
		if err != nil {
			return nil, err
		}
	case configs.MemoryStorage:
		c.mem = memCatalogFor(conninfo)
	default:
		return nil, errors.New("unsupported catalog conninfo: " + conninfo)
	}
	return c, nil
}

func (c *Catalog) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, configs.OpTimeout)
}

// GetUser looks a user up by its unique username.
func (c *Catalog) GetUser(ctx context.Context, username string) (*User, error) {
	configs.DPrintf("getUser: %s", username)
	if c.storeType == configs.MemoryStorage {
		return c.mem.getUser(username)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	u := &User{}
	err := c.pool.QueryRow(ctx,
		"SELECT id, username, shard_id, email, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&u.ID, &u.Username, &u.ShardID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		configs.Warn(false, "no user found for username="+username)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetShardID returns the shard a user is pinned to.
func (c *Catalog) GetShardID(ctx context.Context, userID int32) (int32, error) {
	if c.storeType == configs.MemoryStorage {
		return c.mem.getShardID(userID)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	var shardID int32
	err := c.pool.QueryRow(ctx, "SELECT shard_id FROM users WHERE id = $1", userID).Scan(&shardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return shardID, nil
}

// GetShardInfo reads one row of the shard registry.
func (c *Catalog) GetShardInfo(ctx context.Context, shardID int32) (*ShardInfo, error) {
	if c.storeType == configs.MemoryStorage {
		return c.mem.getShardInfo(shardID)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	s := &ShardInfo{}
	err := c.pool.QueryRow(ctx,
		"SELECT id, name, conninfo, created_at FROM shards WHERE id = $1",
		shardID).Scan(&s.ID, &s.Name, &s.ConnInfo, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		configs.Warn(false, "no shard found for shard_id")
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListShards returns the full shard registry, ordered by id.
func (c *Catalog) ListShards(ctx context.Context) ([]ShardInfo, error) {
	if c.storeType == configs.MemoryStorage {
		return c.mem.listShards()
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	rows, err := c.pool.Query(ctx, "SELECT id, name, conninfo, created_at FROM shards ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]ShardInfo, 0)
	for rows.Next() {
		var s ShardInfo
		if err := rows.Scan(&s.ID, &s.Name, &s.ConnInfo, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CreateUser inserts a new user and returns the full server-assigned row.
// A duplicate username surfaces as ErrDuplicate.
func (c *Catalog) CreateUser(ctx context.Context, username, passwordHash string, email *string, shardID int32) (*User, error) {
	configs.DPrintf("createUser: username=%s, shard_id=%d", username, shardID)
	if c.storeType == configs.MemoryStorage {
		return c.mem.createUser(username, passwordHash, email, shardID)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	u := &User{}
	err := c.pool.QueryRow(ctx,
		"INSERT INTO users(username, shard_id, email, password_hash) VALUES($1, $2, $3, $4) "+
			"RETURNING id, username, shard_id, email, password_hash, created_at",
		username, shardID, email, passwordHash).
		Scan(&u.ID, &u.Username, &u.ShardID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetShardForUser resolves username straight to its shard registry row with
// a single join, for the message read path.
func (c *Catalog) GetShardForUser(ctx context.Context, username string) (*ShardInfo, error) {
	if c.storeType == configs.MemoryStorage {
		return c.mem.getShardForUser(username)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	s := &ShardInfo{}
	err := c.pool.QueryRow(ctx,
		"SELECT s.id, s.name, s.conninfo, s.created_at FROM users u JOIN shards s ON s.id = u.shard_id WHERE u.username = $1",
		username).Scan(&s.ID, &s.Name, &s.ConnInfo, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AddShard registers a shard database in the catalog. Provisioning helper;
// the routing layer only ever reads the registry.
func (c *Catalog) AddShard(ctx context.Context, id int32, name, conninfo string) error {
	if c.storeType == configs.MemoryStorage {
		return c.mem.addShard(id, name, conninfo)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	_, err := c.pool.Exec(ctx,
		"INSERT INTO shards(id, name, conninfo, created_at) VALUES($1, $2, $3, NOW())",
		id, name, conninfo)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

/* Ledger APIs for the transfer coordinator. */

// StartTransaction opens a PENDING ledger row and returns its token.
func (c *Catalog) StartTransaction(ctx context.Context) (string, error) {
	txID := NewTxID()
	if c.storeType == configs.MemoryStorage {
		return txID, c.mem.startTransaction(txID)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	_, err := c.pool.Exec(ctx,
		"INSERT INTO transactions(id, status, created_at) VALUES($1, $2, NOW())",
		txID, TxPending)
	if err != nil {
		return "", err
	}
	configs.TxnPrint(txID, " transaction started")
	return txID, nil
}

// CommitTransaction marks the ledger row CONFIRMED. Repeating a CONFIRMED
// row succeeds; a CANCELED row fails with ErrTxConflict.
func (c *Catalog) CommitTransaction(ctx context.Context, txID string) error {
	return c.setStatus(ctx, txID, TxConfirmed)
}

// CancelTransaction marks the ledger row CANCELED, with the same monotone
// guard as CommitTransaction.
func (c *Catalog) CancelTransaction(ctx context.Context, txID string) error {
	return c.setStatus(ctx, txID, TxCanceled)
}

func (c *Catalog) setStatus(ctx context.Context, txID string, target int) error {
	if c.storeType == configs.MemoryStorage {
		return c.mem.setStatus(txID, target)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	tag, err := c.pool.Exec(ctx,
		"UPDATE transactions SET status = $1 WHERE id = $2 AND status IN ($3, $1)",
		target, txID, TxPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status int
		err = c.pool.QueryRow(ctx, "SELECT status FROM transactions WHERE id = $1", txID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrTxConflict
	}
	configs.TxnPrint(txID, " ledger status set to %d", target)
	return nil
}

// GetTransaction reads one ledger row.
func (c *Catalog) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	if c.storeType == configs.MemoryStorage {
		return c.mem.getTransaction(txID)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	t := &Transaction{}
	err := c.pool.QueryRow(ctx,
		"SELECT id, status, created_at FROM transactions WHERE id = $1",
		txID).Scan(&t.ID, &t.Status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// PendingTransactions lists PENDING ledger rows created before the cutoff.
// The recovery sweeper feeds on it.
func (c *Catalog) PendingTransactions(ctx context.Context, olderThan time.Duration) ([]Transaction, error) {
	cutoff := time.Now().Add(-olderThan)
	if c.storeType == configs.MemoryStorage {
		return c.mem.pendingBefore(cutoff)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()
	rows, err := c.pool.Query(ctx,
		"SELECT id, status, created_at FROM transactions WHERE status = $1 AND created_at < $2",
		TxPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]Transaction, 0)
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
