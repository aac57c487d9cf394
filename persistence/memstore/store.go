// Package memstore provides an in-memory persistence.Store suitable for
// local development and the demo command, mirroring the
// registry/store/memory package's mutex-guarded map pattern alongside the
// teacher's mongo-backed store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/busterhq/agentcore/persistence"
)

// Store is an in-memory implementation of persistence.Store. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	chats    map[string]persistence.Chat
	messages map[string][]persistence.Message // by chat ID
	assocs   map[string][]persistence.FileAssociation
	dash     map[string][]persistence.DashboardContent // by file ID, append-only version history
}

var _ persistence.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		chats:    map[string]persistence.Chat{},
		messages: map[string][]persistence.Message{},
		assocs:   map[string][]persistence.FileAssociation{},
		dash:     map[string][]persistence.DashboardContent{},
	}
}

func (s *Store) UpsertChat(_ context.Context, chat persistence.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat
	return nil
}

func (s *Store) InsertMessage(_ context.Context, msg persistence.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	return nil
}

func (s *Store) InsertFileAssociations(_ context.Context, assocs []persistence.FileAssociation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range assocs {
		s.assocs[a.MessageID] = append(s.assocs[a.MessageID], a)
	}
	return nil
}

// GetDashboardContent returns the highest VersionNumber entry stored under
// fileID, matching mongostore's sort-by-version-desc semantics.
func (s *Store) GetDashboardContent(_ context.Context, fileID string) (persistence.DashboardContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.dash[fileID]
	if len(versions) == 0 {
		return persistence.DashboardContent{}, nil
	}
	sorted := append([]persistence.DashboardContent{}, versions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VersionNumber > sorted[j].VersionNumber })
	return sorted[0], nil
}

// PutDashboardContent seeds a dashboard version for local testing/demo runs;
// persistence.Store has no write path for this since production dashboard
// content is written by a different service than the chat orchestrator.
func (s *Store) PutDashboardContent(d persistence.DashboardContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dash[d.FileID] = append(s.dash[d.FileID], d)
}

// Chats returns a snapshot of every upserted chat, for demo/debug printing.
func (s *Store) Chats() []persistence.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	return out
}

// Messages returns the messages stored for chatID, in insertion order.
func (s *Store) Messages(chatID string) ([]persistence.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.messages[chatID]
	if !ok {
		return nil, fmt.Errorf("memstore: no messages for chat %q", chatID)
	}
	return append([]persistence.Message{}, msgs...), nil
}
