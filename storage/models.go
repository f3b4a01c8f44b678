package storage

import "time"

// Transaction status values as stored in the catalog ledger.
// Transitions are monotone: PENDING moves to exactly one terminal state.
const (
	TxPending   = 0
	TxConfirmed = 1
	TxCanceled  = 2
)

// Phases recorded in a shard's transfer audit for one branch of a transfer.
const (
	PhasePrepared   = "prepared"
	PhaseCommitted  = "committed"
	PhaseRolledBack = "rolled_back"
)

// User lives on the catalog. ShardID pins the user to a shard for life.
type User struct {
	ID           int32     `json:"id"`
	Username     string    `json:"username"`
	ShardID      int32     `json:"shard_id"`
	Email        *string   `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ShardInfo is the catalog's registry row for one shard database.
type ShardInfo struct {
	ID        int32     `json:"id"`
	Name      string    `json:"name"`
	ConnInfo  string    `json:"conninfo"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is one row of the global-transaction ledger.
type Transaction struct {
	ID        string    `json:"id"`
	Status    int       `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Wallet is a per-shard balance row. HeldMoney carries sender-side
// reservations between prepare and commit/rollback.
type Wallet struct {
	UserID    int32 `json:"user_id"`
	Money     int64 `json:"money"`
	HeldMoney int64 `json:"held_money"`
}

// Message is an append-only chat row on the author's shard.
type Message struct {
	ID        int32     `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    int32     `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TransferBranch is the audit record a shard keeps for its half of a
// cross-shard transfer. It is what makes commit/rollback idempotent and
// what the recovery sweeper walks.
type TransferBranch struct {
	TxID      string    `json:"tx_id"`
	UserID    int32     `json:"user_id"`
	Amount    int64     `json:"amount"`
	IsDeduct  bool      `json:"is_deduct"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
}
