// Package facade is the single entry point the chat layer talks to: user
// lookup and creation on the catalog, message reads and writes routed to
// the author's shard, and money transfers through the coordinator.
package facade

import (
	"context"
	"errors"

	"shardchat/configs"
	"shardchat/coordinator"
	"shardchat/router"
	"shardchat/storage"
	"shardchat/utils"
)

type DBFacade struct {
	rt *router.Router
	tm *coordinator.Manager
}

// NewDBFacade opens the catalog behind catalogConnInfo and wires the
// routing and transfer layers on top of it.
func NewDBFacade(ctx context.Context, catalogConnInfo string) (*DBFacade, error) {
	rt, err := router.NewRouter(ctx, catalogConnInfo)
	if err != nil {
		return nil, err
	}
	return NewDBFacadeWithRouter(rt), nil
}

// NewDBFacadeWithRouter wraps an existing router. Test kits use it.
func NewDBFacadeWithRouter(rt *router.Router) *DBFacade {
	return &DBFacade{rt: rt, tm: coordinator.NewManager(rt)}
}

func (f *DBFacade) Router() *router.Router { return f.rt }

func (f *DBFacade) Close() { f.rt.Close() }

// FindUser looks a user up by username.
func (f *DBFacade) FindUser(ctx context.Context, username string) (*storage.User, error) {
	return f.rt.GetUser(ctx, username)
}

// CreateUser registers a user on the catalog, pinned to shardID.
func (f *DBFacade) CreateUser(ctx context.Context, username, passwordHash string, email *string, shardID int32) (*storage.User, error) {
	return f.rt.GetAccountDB().CreateUser(ctx, username, passwordHash, email, shardID)
}

// SaveMessage writes a chat line onto the author's shard.
func (f *DBFacade) SaveMessage(ctx context.Context, userID int32, roomID int64, content string) error {
	sh, err := f.rt.GetShardForUser(ctx, userID)
	if err != nil {
		return err
	}
	return sh.InsertMessage(ctx, roomID, userID, content)
}

// LoadMessages reads the room's messages held on the user's shard, oldest
// first. An unreachable shard yields an empty list, not an error; the chat
// layer degrades to an empty history.
func (f *DBFacade) LoadMessages(ctx context.Context, userID int32, roomID int64) ([]storage.Message, error) {
	sh, err := f.rt.GetShardForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		configs.Warn(false, "message shard unreachable: "+err.Error())
		return []storage.Message{}, nil
	}
	msgs, err := sh.GetMessages(ctx, roomID)
	if err != nil {
		configs.Warn(false, "message read failed: "+err.Error())
		return []storage.Message{}, nil
	}
	return msgs, nil
}

// TransferMoney runs the full transfer protocol between two usernames.
func (f *DBFacade) TransferMoney(ctx context.Context, from, to string, amount int64) coordinator.Outcome {
	return f.tm.TransferMoney(ctx, from, to, amount, utils.NewInfo(2))
}

// TransferStats exposes the coordinator's transfer measurements.
func (f *DBFacade) TransferStats() *utils.Stat {
	return f.tm.Stat()
}
