package session

import (
	"encoding/json"
	"sort"
)

// RoleSet holds role names with set semantics. Membership is the only query
// that matters; insertion order is not preserved.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet, skipping empty names.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}

// Has checks if the set contains role.
func (s RoleSet) Has(role string) bool {
	if s == nil {
		return false
	}
	_, ok := s[role]
	return ok
}

// HasAny checks if at least one of roles is present.
func (s RoleSet) HasAny(roles ...string) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// HasAll checks if every role is present. An empty list is satisfied.
func (s RoleSet) HasAll(roles ...string) bool {
	for _, r := range roles {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Slice returns the roles sorted, for stable output.
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (s RoleSet) clone() RoleSet {
	if s == nil {
		return nil
	}
	c := make(RoleSet, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// MarshalJSON encodes the set as a sorted array.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array of role names.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var roles []string
	if err := json.Unmarshal(data, &roles); err != nil {
		return err
	}
	*s = NewRoleSet(roles...)
	return nil
}
