package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"shardchat/configs"

	lock "github.com/viney-shih/go-lock"
)

// Process-local shards keyed by conninfo, mirroring memCatalogs.
var memShards sync.Map

func memShardFor(conninfo string) *memShard {
	fresh := &memShard{
		latch:    lock.NewCASMutex(),
		wallets:  make(map[int32]*Wallet),
		msgs:     make(map[int64][]Message),
		branches: make(map[string]*TransferBranch),
		fail:     make(map[string]int),
	}
	actual, _ := memShards.LoadOrStore(conninfo, fresh)
	return actual.(*memShard)
}

type memShard struct {
	latch     lock.Mutex
	wallets   map[int32]*Wallet
	msgs      map[int64][]Message
	nextMsgID int32
	branches  map[string]*TransferBranch

	down bool
	fail map[string]int // op kind -> remaining injected failures
}

func branchKey(txID string, isDeduct bool) string {
	return fmt.Sprintf("%s|%v", txID, isDeduct)
}

// failNow consumes one injected failure for the op kind, if armed.
func (c *memShard) failNow(kind string) bool {
	if c.down {
		return true
	}
	if n := c.fail[kind]; n > 0 {
		c.fail[kind] = n - 1
		return true
	}
	return false
}

func (c *memShard) insertMessage(roomID int64, userID int32, content string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.failNow("message") {
		return ErrUnavailable
	}
	c.nextMsgID++
	c.msgs[roomID] = append(c.msgs[roomID], Message{
		ID: c.nextMsgID, RoomID: roomID, UserID: userID, Content: content, CreatedAt: time.Now(),
	})
	return nil
}

func (c *memShard) getMessages(roomID int64) ([]Message, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.failNow("message") {
		return nil, ErrUnavailable
	}
	res := make([]Message, len(c.msgs[roomID]))
	copy(res, c.msgs[roomID])
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (c *memShard) getWallet(userID int32) (*Wallet, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	w, ok := c.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (c *memShard) seedWallet(userID int32, money, heldMoney int64) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.wallets[userID] = &Wallet{UserID: userID, Money: money, HeldMoney: heldMoney}
	return nil
}

func (c *memShard) prepareTransfer(userID int32, amount int64, isDeduct bool, txID string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.failNow("prepare") {
		return ErrUnavailable
	}
	if isDeduct {
		w, ok := c.wallets[userID]
		if !ok {
			return ErrNotFound
		}
		if w.Money < amount {
			return ErrInsufficientFunds
		}
		w.Money -= amount
		w.HeldMoney += amount
	} else {
		if _, ok := c.wallets[userID]; !ok {
			c.wallets[userID] = &Wallet{UserID: userID}
		}
	}
	key := branchKey(txID, isDeduct)
	if _, ok := c.branches[key]; !ok {
		c.branches[key] = &TransferBranch{
			TxID: txID, UserID: userID, Amount: amount, IsDeduct: isDeduct,
			Phase: PhasePrepared, CreatedAt: time.Now(),
		}
	}
	return nil
}

// flipPhase matches flipPhasePG: done means the phase was already applied.
func (c *memShard) flipPhase(txID string, isDeduct bool, target string) (bool, error) {
	b, ok := c.branches[branchKey(txID, isDeduct)]
	if !ok {
		return false, ErrNotFound
	}
	if b.Phase == target {
		return true, nil
	}
	if b.Phase != PhasePrepared {
		return false, ErrTxConflict
	}
	b.Phase = target
	return false, nil
}

func (c *memShard) commitTransfer(userID int32, amount int64, isDeduct bool, txID string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.failNow("commit") {
		return ErrUnavailable
	}
	done, err := c.flipPhase(txID, isDeduct, PhaseCommitted)
	if err != nil || done {
		return err
	}
	w, ok := c.wallets[userID]
	if !ok {
		return ErrNotFound
	}
	if isDeduct {
		configs.Assert(w.HeldMoney >= amount, "commit would drive held_money negative")
		w.HeldMoney -= amount
	} else {
		w.Money += amount
	}
	return nil
}

func (c *memShard) rollbackTransfer(userID int32, amount int64, isDeduct bool, txID string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.failNow("rollback") {
		return ErrUnavailable
	}
	done, err := c.flipPhase(txID, isDeduct, PhaseRolledBack)
	if err != nil || done {
		return err
	}
	if isDeduct {
		w, ok := c.wallets[userID]
		if !ok {
			return ErrNotFound
		}
		configs.Assert(w.HeldMoney >= amount, "rollback would drive held_money negative")
		w.Money += amount
		w.HeldMoney -= amount
	}
	return nil
}

func (c *memShard) preparedBranches() ([]TransferBranch, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	res := make([]TransferBranch, 0)
	for _, b := range c.branches {
		if b.Phase == PhasePrepared {
			res = append(res, *b)
		}
	}
	return res, nil
}

func (c *memShard) transferPhase(txID string, isDeduct bool) (string, bool, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return "", false, ErrUnavailable
	}
	b, ok := c.branches[branchKey(txID, isDeduct)]
	if !ok {
		return "", false, nil
	}
	return b.Phase, true, nil
}

/* Failure-injection knobs for the memory variant, used by protocol tests. */

// SetDown toggles whole-shard unavailability. Memory variant only.
func (c *Shard) SetDown(down bool) {
	configs.Assert(c.storeType == configs.MemoryStorage, "failure injection needs the memory store")
	c.mem.latch.Lock()
	defer c.mem.latch.Unlock()
	c.mem.down = down
}

// FailNextOps arms n failures for one op kind: "prepare", "commit",
// "rollback" or "message". Memory variant only.
func (c *Shard) FailNextOps(kind string, n int) {
	configs.Assert(c.storeType == configs.MemoryStorage, "failure injection needs the memory store")
	c.mem.latch.Lock()
	defer c.mem.latch.Unlock()
	c.mem.fail[kind] = n
}
