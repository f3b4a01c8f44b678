// Package chat is the line-oriented TCP front end over the facade. One
// process hosts one broadcast room; persistence always goes through the
// facade so chat lines land on the author's shard.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"shardchat/configs"
	"shardchat/facade"
	"shardchat/storage"
)

type Server struct {
	fc    *facade.DBFacade
	cache *Cache
	room  *Room

	done     chan bool
	listener net.Listener
	sem      chan struct{}
}

// NewServer binds address and wires the room. The caller owns the facade
// and cache lifetimes.
func NewServer(fc *facade.DBFacade, cache *Cache, address string) *Server {
	res := &Server{fc: fc, cache: cache, room: NewRoom()}
	res.done = make(chan bool, 1)
	tcpAddr, err := net.ResolveTCPAddr("tcp4", address)
	configs.CheckError(err)
	res.listener, err = net.ListenTCP("tcp", tcpAddr)
	configs.CheckError(err)
	return res
}

// Addr returns the bound listen address.
func (srv *Server) Addr() string {
	return srv.listener.Addr().String()
}

// Run accepts sessions until Stop. Each session gets its own handler
// goroutine, throttled by a fixed-size semaphore.
func (srv *Server) Run() {
	srv.sem = make(chan struct{}, configs.MaxConnectionHandler)
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.done:
				return
			default:
				configs.CheckError(err)
			}
		}
		srv.sem <- struct{}{}
		go func() {
			defer func() {
				<-srv.sem
			}()
			srv.handleSession(conn)
		}()
	}
}

func (srv *Server) Stop() {
	srv.done <- true
	configs.CheckError(srv.listener.Close())
}

type session struct {
	conn net.Conn
	out  chan string

	mu     sync.Mutex
	closed bool
	user   *storage.User
}

// deliver queues one line for the session's writer. A session that cannot
// drain its queue loses lines instead of stalling the room.
func (s *session) deliver(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- msg:
	default:
	}
}

func (s *session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

func (s *session) currentUser() *storage.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *session) setUser(u *storage.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

func (srv *Server) handleSession(conn net.Conn) {
	s := &session{conn: conn, out: make(chan string, 64)}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range s.out {
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			if _, err := conn.Write([]byte(msg + "\n")); err != nil {
				return
			}
		}
	}()

	srv.room.Join(s)
	defer func() {
		srv.room.Leave(s)
		s.shutdown()
		<-writerDone
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		data, err := reader.ReadString('\n')
		if err == io.EOF {
			return
		}
		if err != nil {
			configs.DPrintf("session read failed: %v", err)
			return
		}
		line := strings.TrimRight(data, "\r\n")
		if line == "" {
			continue
		}
		srv.handleLine(context.Background(), s, line)
	}
}

// handleLine dispatches one inbound line: a slash command or a chat
// message.
func (srv *Server) handleLine(ctx context.Context, s *session, line string) {
	configs.DPrintf("chat line: %s", line)
	switch {
	case strings.HasPrefix(line, "/login "):
		srv.cmdLogin(ctx, s, strings.TrimSpace(strings.TrimPrefix(line, "/login ")))
	case strings.HasPrefix(line, "/transfer "):
		srv.cmdTransfer(ctx, s, strings.Fields(strings.TrimPrefix(line, "/transfer ")))
	case line == "/history":
		srv.cmdHistory(ctx, s)
	case strings.HasPrefix(line, "/"):
		s.deliver("unknown command: " + line)
	default:
		srv.chatMessage(ctx, s, line)
	}
}

func (srv *Server) cmdLogin(ctx context.Context, s *session, username string) {
	if username == "" {
		s.deliver("usage: /login <username>")
		return
	}
	user, err := srv.fc.FindUser(ctx, username)
	if err != nil {
		configs.Warn(false, "login failed for "+username)
		s.deliver("no such user: " + username)
		return
	}
	s.setUser(user)
	s.deliver("logged in as " + user.Username)
	srv.cache.Set(ctx, "last_login", user.Username, time.Hour)
}

func (srv *Server) cmdTransfer(ctx context.Context, s *session, args []string) {
	user := s.currentUser()
	if user == nil {
		s.deliver("login first: /login <username>")
		return
	}
	if len(args) != 2 {
		s.deliver("usage: /transfer <username> <amount>")
		return
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		s.deliver("amount must be a positive integer")
		return
	}
	outcome := srv.fc.TransferMoney(ctx, user.Username, args[0], amount)
	if outcome.Ok() {
		s.deliver(fmt.Sprintf("transfer OK (%s)", outcome.TxID))
		return
	}
	s.deliver(fmt.Sprintf("transfer %s", outcome.Code))
}

func (srv *Server) cmdHistory(ctx context.Context, s *session) {
	user := s.currentUser()
	if user == nil {
		s.deliver("login first: /login <username>")
		return
	}
	msgs, err := srv.fc.LoadMessages(ctx, user.ID, configs.DefaultRoomID)
	if err != nil {
		s.deliver("history unavailable")
		return
	}
	for i := range msgs {
		s.deliver(msgs[i].Content)
	}
}

func (srv *Server) chatMessage(ctx context.Context, s *session, line string) {
	user := s.currentUser()
	if user == nil {
		s.deliver("login first: /login <username>")
		return
	}
	if err := srv.fc.SaveMessage(ctx, user.ID, configs.DefaultRoomID, line); err != nil {
		configs.Warn(false, "saveMessage failed: "+err.Error())
		s.deliver("message not saved")
		return
	}
	srv.room.Deliver(user.Username + ": " + line)
	srv.cache.Set(ctx, fmt.Sprintf("room:%d:last", configs.DefaultRoomID), line, time.Hour)
}
