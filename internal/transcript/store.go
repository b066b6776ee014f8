// Package transcript keeps the text side of live sessions: fragments are
// merged into utterances and the latest consultations are kept in memory.
package transcript

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Speaker identifies who said an utterance.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// SpeakerOf maps the session's fromUser flag to a Speaker.
func SpeakerOf(fromUser bool) Speaker {
	if fromUser {
		return SpeakerUser
	}
	return SpeakerAssistant
}

// Entry is one utterance.
type Entry struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

// Store holds transcripts of the most recently used consultations.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []Entry]
}

// NewStore creates a store that keeps at most size consultations.
func NewStore(size int) (*Store, error) {
	c, err := lru.New[string, []Entry](size)
	if err != nil {
		return nil, err
	}
	return &Store{cache: c}, nil
}

// Append adds an entry to the consultation's transcript.
func (s *Store) Append(consultationID string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, _ := s.cache.Get(consultationID)
	s.cache.Add(consultationID, append(entries, e))
}

// Entries returns a copy of the consultation's transcript.
func (s *Store) Entries(consultationID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.cache.Peek(consultationID)
	if !ok {
		return nil
	}
	return append([]Entry(nil), entries...)
}

// Remove forgets a consultation.
func (s *Store) Remove(consultationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(consultationID)
}

// Len returns the number of consultations held.
func (s *Store) Len() int {
	return s.cache.Len()
}
