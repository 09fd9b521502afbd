// Package favset implements the bounded, insertion-ordered favorites set.
//
// A Set keeps an ordered slice of identifiers and a membership index behind a
// small set of internal update methods, so the two views never drift apart.
// Capacity is enforced in the same step as the mutation that would exceed it.
//
// A Set is not safe for concurrent use; its owner serializes access.
package favset

import (
	"fmt"
	"iter"
	"slices"
)

// Policy decides what happens when a full set receives a new member.
type Policy string

const (
	// PolicyReject refuses the new member with ReasonLimitReached.
	PolicyReject Policy = "reject"
	// PolicyDropOldest evicts the least recently inserted member first.
	PolicyDropOldest Policy = "drop_oldest"
)

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyDropOldest:
		return PolicyDropOldest, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q", s)
}

// Config configures a Set.
type Config struct {
	// Max is the capacity. 0 means unlimited.
	Max int
	// Overflow defaults to PolicyReject.
	Overflow Policy
	// Normalizer defaults to DefaultNormalizer().
	Normalizer *Normalizer
}

// Set is the bounded ordered favorites collection.
type Set struct {
	items  []string
	index  map[string]struct{}
	max    int
	policy Policy
	norm   *Normalizer
}

// New creates an empty set.
func New(cfg Config) *Set {
	if cfg.Max < 0 {
		cfg.Max = 0
	}
	if cfg.Overflow == "" {
		cfg.Overflow = PolicyReject
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = DefaultNormalizer()
	}
	return &Set{
		index:  make(map[string]struct{}),
		max:    cfg.Max,
		policy: cfg.Overflow,
		norm:   cfg.Normalizer,
	}
}

// Max returns the configured capacity.
func (s *Set) Max() int { return s.max }

// Policy returns the overflow policy.
func (s *Set) Policy() Policy { return s.policy }

// Normalize exposes the set's normalizer.
func (s *Set) Normalize(item any) (string, bool) {
	return s.norm.Normalize(item)
}

// --- lockstep update path ---

func (s *Set) push(id string) {
	s.items = append(s.items, id)
	s.index[id] = struct{}{}
}

func (s *Set) drop(id string) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	i := slices.Index(s.items, id)
	s.items = slices.Delete(s.items, i, i+1)
	return true
}

func (s *Set) reset(ids []string) {
	s.items = ids
	s.index = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.index[id] = struct{}{}
	}
}

func (s *Set) full() bool {
	return s.max > 0 && len(s.items) >= s.max
}

// insert adds a normalized non-member, applying the overflow policy.
func (s *Set) insert(id string) Outcome {
	var evicted string
	if s.full() {
		if s.policy != PolicyDropOldest {
			return Outcome{Reason: ReasonLimitReached, ID: id}
		}
		evicted = s.items[0]
		s.drop(evicted)
	}
	s.push(id)
	return Outcome{OK: true, ID: id, Evicted: evicted}
}

// dedupe normalizes items keeping the first occurrence of each identifier.
func (s *Set) dedupe(items []any) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		id, ok := s.norm.Normalize(item)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// --- operations ---

// ReplaceAll swaps the contents for items. When the normalized list exceeds
// the capacity only the most recent Max entries are kept.
func (s *Set) ReplaceAll(items []any) ReplaceResult {
	ids := s.dedupe(items)
	truncated := false
	if s.max > 0 && len(ids) > s.max {
		ids = slices.Clone(ids[len(ids)-s.max:])
		truncated = true
	}
	s.reset(ids)
	return ReplaceResult{Truncated: truncated, List: s.Export()}
}

// Add appends item unless it is invalid, already present, or rejected by the
// capacity limit.
func (s *Set) Add(item any) Outcome {
	id, ok := s.norm.Normalize(item)
	if !ok {
		return Outcome{Reason: ReasonInvalidID}
	}
	if _, exists := s.index[id]; exists {
		return Outcome{Reason: ReasonExists, ID: id}
	}
	return s.insert(id)
}

// Remove deletes item, preserving the order of the remaining members.
func (s *Set) Remove(item any) Outcome {
	id, ok := s.norm.Normalize(item)
	if !ok {
		return Outcome{Reason: ReasonInvalidID}
	}
	if !s.drop(id) {
		return Outcome{Reason: ReasonNotFound, ID: id}
	}
	return Outcome{OK: true, ID: id}
}

// Toggle removes item when present and adds it otherwise.
func (s *Set) Toggle(item any) Outcome {
	id, ok := s.norm.Normalize(item)
	if !ok {
		return Outcome{Reason: ReasonInvalidID}
	}
	if _, exists := s.index[id]; exists {
		s.drop(id)
		return Outcome{OK: true, ID: id, Action: ActionRemove}
	}
	out := s.insert(id)
	if out.Reason == ReasonLimitReached {
		out.Action = ActionLimit
	} else {
		out.Action = ActionAdd
	}
	return out
}

// Clear empties the set.
func (s *Set) Clear() Outcome {
	if len(s.items) == 0 {
		return Outcome{Reason: ReasonAlreadyEmpty}
	}
	s.reset(nil)
	return Outcome{OK: true}
}

// Import merges items into the set, or replaces the contents when replace is
// true. Items a full set rejects are skipped rather than failing the batch.
func (s *Set) Import(items []any, replace bool) ImportResult {
	if replace {
		before := s.Export()
		res := s.ReplaceAll(items)
		return ImportResult{
			OK:        true,
			Truncated: res.Truncated,
			Changed:   !slices.Equal(before, res.List),
			List:      res.List,
		}
	}

	res := ImportResult{OK: true}
	for _, id := range s.dedupe(items) {
		if _, exists := s.index[id]; exists {
			continue
		}
		out := s.insert(id)
		if !out.OK {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		res.Added = append(res.Added, id)
	}
	res.Changed = len(res.Added) > 0
	res.List = s.Export()
	return res
}

// Export returns a copy of the members, oldest first.
func (s *Set) Export() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of members.
func (s *Set) Len() int { return len(s.items) }

// Contains reports membership. It does not affect eviction order.
func (s *Set) Contains(item any) bool {
	id, ok := s.norm.Normalize(item)
	if !ok {
		return false
	}
	_, exists := s.index[id]
	return exists
}

// All iterates over the members, oldest first.
func (s *Set) All() iter.Seq[string] {
	return slices.Values(s.Export())
}
