package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/mandate/internal/model"
)

// MemoryStore keeps everything in process. Reads take the read lock, so a snapshot never
// observes half of a commit.
type MemoryStore struct {
	mu sync.RWMutex

	delegations map[string]model.Delegation
	policies    map[string][]model.Policy
	events      map[string][]model.Event
	usages      []model.Usage

	eventIDs map[string]bool
	usageIDs map[string]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		delegations: make(map[string]model.Delegation),
		policies:    make(map[string][]model.Policy),
		events:      make(map[string][]model.Event),
		eventIDs:    make(map[string]bool),
		usageIDs:    make(map[string]bool),
	}
}

func (s *MemoryStore) CreateDelegation(_ context.Context, d model.Delegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delegations[d.ID]; ok {
		return fmt.Errorf("delegation %s: %w", d.ID, ErrExists)
	}
	s.delegations[d.ID] = d
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, delegationID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[delegationID]
	if !ok {
		return Snapshot{}, fmt.Errorf("delegation %s: %w", delegationID, ErrNotFound)
	}
	return Snapshot{
		Delegation: copyDelegation(d),
		Policies:   append([]model.Policy(nil), s.policies[delegationID]...),
	}, nil
}

func (s *MemoryStore) Delegations(_ context.Context) ([]model.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Delegation, 0, len(s.delegations))
	for _, d := range s.delegations {
		out = append(out, copyDelegation(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Events(_ context.Context, delegationID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.delegations[delegationID]; !ok {
		return nil, fmt.Errorf("delegation %s: %w", delegationID, ErrNotFound)
	}
	return append([]model.Event(nil), s.events[delegationID]...), nil
}

func (s *MemoryStore) UsagesByStatus(_ context.Context, status model.Verdict) ([]model.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Usage
	for _, u := range s.usages {
		if u.Status == status {
			out = append(out, u)
		}
	}
	return out, nil
}

// Commit validates every part of m before applying any of it.
func (s *MemoryStore) Commit(_ context.Context, m Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := m.Delegation.ID
	current, ok := s.delegations[id]
	if !ok {
		return fmt.Errorf("delegation %s: %w", id, ErrNotFound)
	}
	if current.HeadHash != m.ExpectedHead {
		return fmt.Errorf("delegation %s: %w", id, ErrConflict)
	}
	if s.eventIDs[m.Event.ID] {
		return fmt.Errorf("event %s: %w", m.Event.ID, ErrExists)
	}
	if m.Usage != nil && s.usageIDs[m.Usage.ID] {
		return fmt.Errorf("usage %s: %w", m.Usage.ID, ErrExists)
	}

	policies := s.policies[id]
	if m.RemovePolicyID != "" {
		idx := -1
		for i, p := range policies {
			if p.ID == m.RemovePolicyID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("policy %s: %w", m.RemovePolicyID, ErrNotFound)
		}
		next := make([]model.Policy, 0, len(policies)-1)
		next = append(next, policies[:idx]...)
		policies = append(next, policies[idx+1:]...)
	}
	if m.AddPolicy != nil {
		for _, p := range policies {
			if p.ID == m.AddPolicy.ID {
				return fmt.Errorf("policy %s: %w", p.ID, ErrExists)
			}
		}
		policies = append(append([]model.Policy(nil), policies...), *m.AddPolicy)
	}

	s.delegations[id] = copyDelegation(m.Delegation)
	s.policies[id] = policies
	s.events[id] = append(s.events[id], m.Event)
	s.eventIDs[m.Event.ID] = true
	if m.Usage != nil {
		s.usages = append(s.usages, *m.Usage)
		s.usageIDs[m.Usage.ID] = true
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyDelegation(d model.Delegation) model.Delegation {
	if d.LastUsedAt != nil {
		at := *d.LastUsedAt
		d.LastUsedAt = &at
	}
	return d
}
