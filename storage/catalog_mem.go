package storage

import (
	"sort"
	"sync"
	"time"

	"shardchat/configs"

	lock "github.com/viney-shih/go-lock"
)

// Process-local catalogs keyed by conninfo, so every handle opened against
// "mem://x" sees the same state. This is the test-kit store.
var memCatalogs sync.Map

func memCatalogFor(conninfo string) *memCatalog {
	fresh := &memCatalog{
		latch:  lock.NewCASMutex(),
		users:  make(map[string]*User),
		byID:   make(map[int32]*User),
		shards: make(map[int32]*ShardInfo),
		ledger: make(map[string]*Transaction),
	}
	actual, _ := memCatalogs.LoadOrStore(conninfo, fresh)
	return actual.(*memCatalog)
}

type memCatalog struct {
	latch  lock.Mutex
	nextID int32
	users  map[string]*User
	byID   map[int32]*User
	shards map[int32]*ShardInfo
	ledger map[string]*Transaction

	down          bool
	failSetStatus int
}

func (c *memCatalog) getUser(username string) (*User, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	u, ok := c.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (c *memCatalog) getShardID(userID int32) (int32, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return 0, ErrUnavailable
	}
	u, ok := c.byID[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return u.ShardID, nil
}

func (c *memCatalog) getShardInfo(shardID int32) (*ShardInfo, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	s, ok := c.shards[shardID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (c *memCatalog) listShards() ([]ShardInfo, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	res := make([]ShardInfo, 0, len(c.shards))
	for _, s := range c.shards {
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (c *memCatalog) createUser(username, passwordHash string, email *string, shardID int32) (*User, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	if _, ok := c.users[username]; ok {
		return nil, ErrDuplicate
	}
	c.nextID++
	u := &User{
		ID:           c.nextID,
		Username:     username,
		ShardID:      shardID,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	c.users[username] = u
	c.byID[u.ID] = u
	cp := *u
	return &cp, nil
}

func (c *memCatalog) getShardForUser(username string) (*ShardInfo, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	u, ok := c.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := c.shards[u.ShardID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (c *memCatalog) addShard(id int32, name, conninfo string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return ErrUnavailable
	}
	if _, ok := c.shards[id]; ok {
		return ErrDuplicate
	}
	c.shards[id] = &ShardInfo{ID: id, Name: name, ConnInfo: conninfo, CreatedAt: time.Now()}
	return nil
}

func (c *memCatalog) startTransaction(txID string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return ErrUnavailable
	}
	c.ledger[txID] = &Transaction{ID: txID, Status: TxPending, CreatedAt: time.Now()}
	return nil
}

func (c *memCatalog) setStatus(txID string, target int) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return ErrUnavailable
	}
	if c.failSetStatus > 0 {
		c.failSetStatus--
		return ErrUnavailable
	}
	t, ok := c.ledger[txID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != TxPending && t.Status != target {
		return ErrTxConflict
	}
	t.Status = target
	return nil
}

func (c *memCatalog) getTransaction(txID string) (*Transaction, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	t, ok := c.ledger[txID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (c *memCatalog) pendingBefore(cutoff time.Time) ([]Transaction, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.down {
		return nil, ErrUnavailable
	}
	res := make([]Transaction, 0)
	for _, t := range c.ledger {
		if t.Status == TxPending && t.CreatedAt.Before(cutoff) {
			res = append(res, *t)
		}
	}
	return res, nil
}

/* Failure-injection knobs for the memory variant, used by protocol tests. */

// FailNextStatusUpdates makes the next n ledger status updates fail as
// retryable errors. Memory variant only.
func (c *Catalog) FailNextStatusUpdates(n int) {
	configs.Assert(c.storeType == configs.MemoryStorage, "failure injection needs the memory store")
	c.mem.latch.Lock()
	defer c.mem.latch.Unlock()
	c.mem.failSetStatus = n
}

// SetDown toggles whole-catalog unavailability. Memory variant only.
func (c *Catalog) SetDown(down bool) {
	configs.Assert(c.storeType == configs.MemoryStorage, "failure injection needs the memory store")
	c.mem.latch.Lock()
	defer c.mem.latch.Unlock()
	c.mem.down = down
}
