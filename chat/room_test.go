package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func drain(s *session) []string {
	res := make([]string, 0)
	for {
		select {
		case msg := <-s.out:
			res = append(res, msg)
		default:
			return res
		}
	}
}

func TestRoomMembership(t *testing.T) {
	room := NewRoom()
	a := &session{out: make(chan string, 8)}
	b := &session{out: make(chan string, 8)}

	room.Join(a)
	room.Join(b)
	assert.Equal(t, 2, room.Size())
	assert.Equal(t, []string{"Welcome to the chat!"}, drain(a))

	drain(b)
	room.Deliver("hi")
	assert.Equal(t, []string{"hi"}, drain(a))
	assert.Equal(t, []string{"hi"}, drain(b))

	room.Leave(b)
	assert.Equal(t, 1, room.Size())
	room.Deliver("bye")
	assert.Equal(t, []string{"bye"}, drain(a))
	assert.Empty(t, drain(b))
}

func TestRoomSkipsClosedSessions(t *testing.T) {
	room := NewRoom()
	a := &session{out: make(chan string, 8)}
	room.Join(a)
	drain(a)

	a.shutdown()
	// a closed session silently drops the broadcast
	room.Deliver("hi")
	assert.Equal(t, 1, room.Size())
}

func TestNilCacheIsSafe(t *testing.T) {
	c := NewCache("")
	assert.Nil(t, c)

	ctx := context.Background()
	c.Set(ctx, "k", "v", 0)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	c.Close()
}
