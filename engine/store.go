package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRuleNotFound is returned when a rule id does not exist.
var ErrRuleNotFound = errors.New("earning rule not found")

// EarningRule is a persisted rule record. RuleJSON holds the workflow
// document and is opaque to storage.
type EarningRule struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	RuleJSON  string    `json:"ruleJson"`
	Active    bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RuleStore manages earning rule persistence and retrieval.
type RuleStore interface {
	// Create a new rule; assigns the rule's ID.
	Create(ctx context.Context, rule *EarningRule) error

	// Get a rule by ID.
	Get(ctx context.Context, id int64) (*EarningRule, error)

	// List all rules, active or not.
	List(ctx context.Context) ([]*EarningRule, error)

	// ListActive returns all active rules in creation order.
	ListActive(ctx context.Context) ([]*EarningRule, error)

	// Update an existing rule in place. Edits are destructive; there is
	// no historical versioning.
	Update(ctx context.Context, rule *EarningRule) error

	// SetActive flips a rule's active flag.
	SetActive(ctx context.Context, id int64, active bool) error

	// Delete removes a rule permanently.
	Delete(ctx context.Context, id int64) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleStore struct {
	rules  map[int64]*EarningRule
	nextID int64
	mu     sync.RWMutex
}

func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules:  make(map[int64]*EarningRule),
		nextID: 1,
	}
}

func (s *InMemoryRuleStore) Create(ctx context.Context, rule *EarningRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rule.ID = s.nextID
	s.nextID++
	rule.CreatedAt = now
	rule.UpdatedAt = now

	clone := *rule
	s.rules[rule.ID] = &clone
	return nil
}

func (s *InMemoryRuleStore) Get(ctx context.Context, id int64) (*EarningRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	clone := *rule
	return &clone, nil
}

func (s *InMemoryRuleStore) List(ctx context.Context) ([]*EarningRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*EarningRule, 0, len(s.rules))
	for _, rule := range s.rules {
		clone := *rule
		list = append(list, &clone)
	}
	sortRules(list)
	return list, nil
}

func (s *InMemoryRuleStore) ListActive(ctx context.Context) ([]*EarningRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*EarningRule
	for _, rule := range s.rules {
		if rule.Active {
			clone := *rule
			active = append(active, &clone)
		}
	}
	sortRules(active)
	return active, nil
}

func (s *InMemoryRuleStore) Update(ctx context.Context, rule *EarningRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %d: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	clone := *rule
	s.rules[rule.ID] = &clone
	return nil
}

func (s *InMemoryRuleStore) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}

	rule.Active = active
	rule.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryRuleStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	return nil
}

// sortRules orders rules by creation time, ID as tiebreak, matching
// the postgres store's ORDER BY created_at.
func sortRules(list []*EarningRule) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
