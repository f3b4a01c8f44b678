package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB variant of the shard store. Wallet updates ride on conditional
// UpdateOne filters, so the balance guard stays a single document operation
// just like the SQL conditional UPDATE.
type mongoShard struct {
	client   *mongo.Client
	wallets  *mongo.Collection
	messages *mongo.Collection
	counters *mongo.Collection
	audit    *mongo.Collection
}

type walletDoc struct {
	UserID    int32 `bson:"_id"`
	Money     int64 `bson:"money"`
	HeldMoney int64 `bson:"held_money"`
}

type messageDoc struct {
	Seq       int32     `bson:"seq"`
	RoomID    int64     `bson:"room_id"`
	UserID    int32     `bson:"user_id"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

type branchDoc struct {
	Key       string    `bson:"_id"`
	TxID      string    `bson:"tx_id"`
	UserID    int32     `bson:"user_id"`
	Amount    int64     `bson:"amount"`
	IsDeduct  bool      `bson:"is_deduct"`
	Phase     string    `bson:"phase"`
	CreatedAt time.Time `bson:"created_at"`
}

func newMongoShard(ctx context.Context, name, uri string) (*mongoShard, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	db := client.Database("chatshard_" + name)
	return &mongoShard{
		client:   client,
		wallets:  db.Collection("wallets"),
		messages: db.Collection("messages"),
		counters: db.Collection("counters"),
		audit:    db.Collection("transfer_log"),
	}, nil
}

func (c *mongoShard) close() {
	_ = c.client.Disconnect(context.Background())
}

func (c *mongoShard) nextSeq(ctx context.Context) (int32, error) {
	opt := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc struct {
		Seq int32 `bson:"seq"`
	}
	err := c.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "messages"}, bson.M{"$inc": bson.M{"seq": 1}}, opt).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (c *mongoShard) insertMessage(ctx context.Context, roomID int64, userID int32, content string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	seq, err := c.nextSeq(ctx)
	if err != nil {
		return err
	}
	_, err = c.messages.InsertOne(ctx, messageDoc{
		Seq: seq, RoomID: roomID, UserID: userID, Content: content, CreatedAt: time.Now(),
	})
	return err
}

func (c *mongoShard) getMessages(ctx context.Context, roomID int64) ([]Message, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	cur, err := c.messages.Find(ctx, bson.M{"room_id": roomID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	res := make([]Message, 0)
	for cur.Next(ctx) {
		var d messageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		res = append(res, Message{
			ID: d.Seq, RoomID: d.RoomID, UserID: d.UserID, Content: d.Content, CreatedAt: d.CreatedAt,
		})
	}
	return res, cur.Err()
}

func (c *mongoShard) getWallet(ctx context.Context, userID int32) (*Wallet, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	var d walletDoc
	err := c.wallets.FindOne(ctx, bson.M{"_id": userID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Wallet{UserID: d.UserID, Money: d.Money, HeldMoney: d.HeldMoney}, nil
}

func (c *mongoShard) seedWallet(ctx context.Context, userID int32, money, heldMoney int64) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	_, err := c.wallets.UpdateOne(ctx, bson.M{"_id": userID},
		bson.M{"$set": bson.M{"money": money, "held_money": heldMoney}},
		options.Update().SetUpsert(true))
	return err
}

func (c *mongoShard) recordBranch(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	_, err := c.audit.UpdateOne(ctx, bson.M{"_id": branchKey(txID, isDeduct)},
		bson.M{"$setOnInsert": branchDoc{
			Key: branchKey(txID, isDeduct), TxID: txID, UserID: userID,
			Amount: amount, IsDeduct: isDeduct, Phase: PhasePrepared, CreatedAt: time.Now(),
		}},
		options.Update().SetUpsert(true))
	return err
}

func (c *mongoShard) prepareTransfer(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	if isDeduct {
		res, err := c.wallets.UpdateOne(ctx,
			bson.M{"_id": userID, "money": bson.M{"$gte": amount}},
			bson.M{"$inc": bson.M{"money": -amount, "held_money": amount}})
		if err != nil {
			return err
		}
		if res.ModifiedCount == 0 {
			cnt, err := c.wallets.CountDocuments(ctx, bson.M{"_id": userID})
			if err != nil {
				return err
			}
			if cnt == 0 {
				return ErrNotFound
			}
			return ErrInsufficientFunds
		}
	} else {
		_, err := c.wallets.UpdateOne(ctx, bson.M{"_id": userID},
			bson.M{"$setOnInsert": bson.M{"money": int64(0), "held_money": int64(0)}},
			options.Update().SetUpsert(true))
		if err != nil {
			return err
		}
	}
	return c.recordBranch(ctx, userID, amount, isDeduct, txID)
}

func (c *mongoShard) flipPhase(ctx context.Context, txID string, isDeduct bool, target string) (bool, error) {
	res, err := c.audit.UpdateOne(ctx,
		bson.M{"_id": branchKey(txID, isDeduct), "phase": PhasePrepared},
		bson.M{"$set": bson.M{"phase": target}})
	if err != nil {
		return false, err
	}
	if res.ModifiedCount > 0 {
		return false, nil
	}
	var d branchDoc
	err = c.audit.FindOne(ctx, bson.M{"_id": branchKey(txID, isDeduct)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if d.Phase == target {
		return true, nil
	}
	return false, ErrTxConflict
}

func (c *mongoShard) commitTransfer(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	done, err := c.flipPhase(ctx, txID, isDeduct, PhaseCommitted)
	if err != nil || done {
		return err
	}
	var update bson.M
	if isDeduct {
		update = bson.M{"$inc": bson.M{"held_money": -amount}}
	} else {
		update = bson.M{"$inc": bson.M{"money": amount}}
	}
	res, err := c.wallets.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *mongoShard) rollbackTransfer(ctx context.Context, userID int32, amount int64, isDeduct bool, txID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	done, err := c.flipPhase(ctx, txID, isDeduct, PhaseRolledBack)
	if err != nil || done {
		return err
	}
	if !isDeduct {
		return nil
	}
	res, err := c.wallets.UpdateOne(ctx,
		bson.M{"_id": userID, "held_money": bson.M{"$gte": amount}},
		bson.M{"$inc": bson.M{"money": amount, "held_money": -amount}})
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *mongoShard) preparedBranches(ctx context.Context) ([]TransferBranch, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	cur, err := c.audit.Find(ctx, bson.M{"phase": PhasePrepared})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	res := make([]TransferBranch, 0)
	for cur.Next(ctx) {
		var d branchDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		res = append(res, TransferBranch{
			TxID: d.TxID, UserID: d.UserID, Amount: d.Amount,
			IsDeduct: d.IsDeduct, Phase: d.Phase, CreatedAt: d.CreatedAt,
		})
	}
	return res, cur.Err()
}

func (c *mongoShard) transferPhase(ctx context.Context, txID string, isDeduct bool) (string, bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	var d branchDoc
	err := c.audit.FindOne(ctx, bson.M{"_id": branchKey(txID, isDeduct)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d.Phase, true, nil
}
