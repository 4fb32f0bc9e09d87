// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implement a set type as a `map[T]struct{}` but with better ergonomics.
package sets

import (
	"cmp"
	"slices"
)

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set of the given type.
func Make[T comparable]() Set[T] {
	return make(Set[T])
}

// MakeWith creates a Set[T] with the given elements inserted.
func MakeWith[T comparable](elements ...T) Set[T] {
	s := make(Set[T], len(elements))
	s.Insert(elements...)
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Add inserts the keys into the set and returns the ones that were not there before, in the order given.
func (s Set[T]) Add(keys ...T) (added []T) {
	for _, key := range keys {
		if !s.Has(key) {
			s[key] = struct{}{}
			added = append(added, key)
		}
	}
	return
}

// Sorted returns the elements of the set in ascending order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	elements := make([]T, 0, len(s))
	for key := range s {
		elements = append(elements, key)
	}
	slices.Sort(elements)
	return elements
}
