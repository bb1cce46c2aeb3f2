// Package reconcile keeps a client-side view of the chat log consistent with
// the server under at-least-once delivery.
//
// Messages are identified by author plus content (the text, or the blob id of
// a file message). Two distinct messages with the same author and text are
// therefore indistinguishable and collapse into one.
package reconcile

import (
	"sync"

	"chatvault/internal/models"
)

type identity struct {
	author  string
	content string
}

func identityOf(msg models.Message) identity {
	return identity{author: msg.Author, content: msg.ContentKey()}
}

// State is the merged view. It is safe for concurrent use.
type State struct {
	mu       sync.Mutex
	messages []models.Message
	seen     map[identity]struct{}
}

// NewState returns an empty view.
func NewState() *State {
	return &State{seen: make(map[identity]struct{})}
}

// Apply merges one message and reports whether it was new.
func (s *State) Apply(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(msg)
}

// Seed merges a backfilled snapshot in log order and returns the messages
// that were not already present.
func (s *State) Seed(snapshot []models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []models.Message
	for _, msg := range snapshot {
		if s.applyLocked(msg) {
			added = append(added, msg)
		}
	}
	return added
}

func (s *State) applyLocked(msg models.Message) bool {
	key := identityOf(msg)
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.messages = append(s.messages, msg)
	return true
}

// Messages returns a copy of the merged view in merge order.
func (s *State) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len reports the number of distinct messages.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
