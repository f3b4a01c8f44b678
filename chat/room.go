package chat

import (
	mapset "github.com/deckarep/golang-set"
)

// Room is the broadcast group every connected session belongs to. Message
// rows still live on each author's shard; the room only fans out live
// traffic.
type Room struct {
	sessions mapset.Set
}

func NewRoom() *Room {
	return &Room{sessions: mapset.NewSet()}
}

func (r *Room) Join(s *session) {
	r.sessions.Add(s)
	s.deliver("Welcome to the chat!")
}

func (r *Room) Leave(s *session) {
	r.sessions.Remove(s)
}

// Deliver fans msg out to every joined session.
func (r *Room) Deliver(msg string) {
	r.sessions.Each(func(v interface{}) bool {
		v.(*session).deliver(msg)
		return false
	})
}

func (r *Room) Size() int {
	return r.sessions.Cardinality()
}
