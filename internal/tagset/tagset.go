// Package tagset implements the capability/tag sets consumers advertise
// and messages require.
package tagset

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Set is an unordered set of non-empty capability strings. The zero value
// is an empty, usable set.
type Set struct {
	inner map[string]struct{}
}

// New returns a Set containing the given tags.
func New(tags ...string) Set {
	s := Set{inner: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		s.inner[t] = struct{}{}
	}
	return s
}

// Add inserts a tag into the set.
func (s *Set) Add(tag string) {
	if s.inner == nil {
		s.inner = make(map[string]struct{})
	}
	s.inner[tag] = struct{}{}
}

// Len returns the number of tags in the set.
func (s Set) Len() int {
	return len(s.inner)
}

// IsSubsetOf reports whether every tag in s is present in other. An empty
// set is a subset of every set, including another empty set.
func (s Set) IsSubsetOf(other Set) bool {
	for t := range s.inner {
		if _, ok := other.inner[t]; !ok {
			return false
		}
	}
	return true
}

// IsSupersetOf reports whether every tag in other is present in s.
func (s Set) IsSupersetOf(other Set) bool {
	return other.IsSubsetOf(s)
}

// Slice returns the tags as a slice, in unspecified order.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s.inner))
	for t := range s.inner {
		out = append(out, t)
	}
	return out
}

// EncodeMsgpack implements msgpack.CustomEncoder so a Set encoded directly
// with msgpack serializes as a plain string array without exposing the
// internal map. The durable log and wire structs carry []string fields
// and do not go through this method.
func (s Set) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(s.Slice())
}

// DecodeMsgpack implements msgpack.CustomDecoder, the inverse of
// EncodeMsgpack.
func (s *Set) DecodeMsgpack(dec *msgpack.Decoder) error {
	var tags []string
	if err := dec.Decode(&tags); err != nil {
		return err
	}
	*s = New(tags...)
	return nil
}
