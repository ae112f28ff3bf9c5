package domain

import (
	"slices"
	"strings"
)

// NormalizeAddress lower-cases and trims an address so lookups are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// AddressSet is a set of normalized addresses.
type AddressSet map[string]struct{}

// NewAddressSet builds a set from the given addresses. Empty entries are skipped.
func NewAddressSet(addrs ...string) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add inserts addr in normalized form.
func (s AddressSet) Add(addr string) {
	if a := NormalizeAddress(addr); a != "" {
		s[a] = struct{}{}
	}
}

// Contains reports whether addr is in the set. A nil set contains nothing.
func (s AddressSet) Contains(addr string) bool {
	if addr == "" {
		return false
	}
	_, ok := s[NormalizeAddress(addr)]
	return ok
}

// Union returns a new set holding the members of both sets.
func (s AddressSet) Union(other AddressSet) AddressSet {
	out := make(AddressSet, len(s)+len(other))
	for a := range s {
		out[a] = struct{}{}
	}
	for a := range other {
		out[a] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s AddressSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// UnmarshalYAML decodes a YAML list of addresses.
func (s *AddressSet) UnmarshalYAML(unmarshal func(any) error) error {
	var list []string
	if err := unmarshal(&list); err != nil {
		return err
	}
	*s = NewAddressSet(list...)
	return nil
}

// MarshalYAML encodes the set as a sorted list.
func (s AddressSet) MarshalYAML() (any, error) {
	return s.Sorted(), nil
}
