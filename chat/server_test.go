package chat

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"shardchat/configs"
	"shardchat/facade"
	"shardchat/router"
	"shardchat/storage"
)

func startTestServer(t *testing.T, name string) (*Server, *storage.Catalog, []*storage.Shard) {
	ctx := context.Background()
	cat, shards := storage.Testkit(ctx, name, 2)
	fc := facade.NewDBFacadeWithRouter(router.NewRouterWithCatalog(cat))
	srv := NewServer(fc, nil, "127.0.0.1:0")
	go srv.Run()
	t.Cleanup(srv.Stop)
	return srv, cat, shards
}

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTestServer(t *testing.T, addr string) *testClient {
	conn, err := net.Dial("tcp", addr)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) send(t *testing.T, line string) {
	_, err := c.conn.Write([]byte(line + "\n"))
	assert.NoError(t, err)
}

func (c *testClient) readLine(t *testing.T) string {
	assert.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := c.reader.ReadString('\n')
	assert.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func TestChatLoginAndBroadcast(t *testing.T) {
	srv, cat, shards := startTestServer(t, "chat_login_broadcast")
	ctx := context.Background()
	u, err := cat.CreateUser(ctx, "carol", "hash", nil, 1)
	assert.NoError(t, err)

	c := dialTestServer(t, srv.Addr())
	assert.Equal(t, "Welcome to the chat!", c.readLine(t))

	c.send(t, "/login carol")
	assert.Equal(t, "logged in as carol", c.readLine(t))

	c.send(t, "hello")
	assert.Equal(t, "carol: hello", c.readLine(t))

	// the line also landed on carol's shard
	assert.Eventually(t, func() bool {
		msgs, err := shards[0].GetMessages(ctx, configs.DefaultRoomID)
		return err == nil && len(msgs) == 1 && msgs[0].Content == "hello" && msgs[0].UserID == u.ID
	}, time.Second, 10*time.Millisecond)
}

func TestChatRequiresLogin(t *testing.T) {
	srv, _, _ := startTestServer(t, "chat_requires_login")

	c := dialTestServer(t, srv.Addr())
	assert.Equal(t, "Welcome to the chat!", c.readLine(t))

	c.send(t, "hello")
	assert.Equal(t, "login first: /login <username>", c.readLine(t))

	c.send(t, "/login nobody")
	assert.Equal(t, "no such user: nobody", c.readLine(t))

	c.send(t, "/frobnicate")
	assert.Equal(t, "unknown command: /frobnicate", c.readLine(t))
}

func TestChatBroadcastReachesEveryone(t *testing.T) {
	srv, cat, _ := startTestServer(t, "chat_fan_out")
	ctx := context.Background()
	_, err := cat.CreateUser(ctx, "carol", "hash", nil, 1)
	assert.NoError(t, err)

	speaker := dialTestServer(t, srv.Addr())
	assert.Equal(t, "Welcome to the chat!", speaker.readLine(t))
	listener := dialTestServer(t, srv.Addr())
	assert.Equal(t, "Welcome to the chat!", listener.readLine(t))

	speaker.send(t, "/login carol")
	assert.Equal(t, "logged in as carol", speaker.readLine(t))

	speaker.send(t, "hi all")
	assert.Equal(t, "carol: hi all", speaker.readLine(t))
	assert.Equal(t, "carol: hi all", listener.readLine(t))
}

func TestChatTransferCommand(t *testing.T) {
	srv, cat, shards := startTestServer(t, "chat_transfer")
	ctx := context.Background()
	alice, err := cat.CreateUser(ctx, "alice", "hash", nil, 1)
	assert.NoError(t, err)
	bob, err := cat.CreateUser(ctx, "bob", "hash", nil, 2)
	assert.NoError(t, err)
	assert.NoError(t, shards[0].SeedWallet(ctx, alice.ID, 100, 0))

	c := dialTestServer(t, srv.Addr())
	assert.Equal(t, "Welcome to the chat!", c.readLine(t))
	c.send(t, "/login alice")
	assert.Equal(t, "logged in as alice", c.readLine(t))

	c.send(t, "/transfer bob 30")
	assert.True(t, strings.HasPrefix(c.readLine(t), "transfer OK"))

	w, err := shards[1].GetWallet(ctx, bob.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), w.Money)

	c.send(t, "/transfer bob 500")
	assert.Equal(t, "transfer InsufficientFunds", c.readLine(t))
	c.send(t, "/transfer bob ten")
	assert.Equal(t, "amount must be a positive integer", c.readLine(t))
	c.send(t, "/transfer bob")
	assert.Equal(t, "usage: /transfer <username> <amount>", c.readLine(t))
}

func TestChatHistoryCommand(t *testing.T) {
	srv, cat, _ := startTestServer(t, "chat_history")
	ctx := context.Background()
	_, err := cat.CreateUser(ctx, "carol", "hash", nil, 1)
	assert.NoError(t, err)

	c := dialTestServer(t, srv.Addr())
	assert.Equal(t, "Welcome to the chat!", c.readLine(t))
	c.send(t, "/login carol")
	assert.Equal(t, "logged in as carol", c.readLine(t))

	c.send(t, "first")
	assert.Equal(t, "carol: first", c.readLine(t))
	c.send(t, "second")
	assert.Equal(t, "carol: second", c.readLine(t))

	c.send(t, "/history")
	assert.Equal(t, "first", c.readLine(t))
	assert.Equal(t, "second", c.readLine(t))
}
