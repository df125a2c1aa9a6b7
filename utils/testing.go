package utils

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Test helper
func Assert(t testing.TB, predicate bool, msg string) {
	t.Helper()
	if !predicate {
		t.Error(msg)
	}
}

func AssertEqual[T comparable](t testing.TB, a T, b T) {
	t.Helper()
	if a != b {
		t.Errorf("Expected %v == %v (%T)", a, b, a)
	}
}

func AssertNotEqual[T comparable](t testing.TB, a T, b T) {
	t.Helper()
	if a == b {
		t.Errorf("Expected %v != %v (%T)", a, b, a)
	}
}

// Assert that error is nil
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error, got '%v'", err)
	}
}

// Assert that an error is not nil
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected error, got nil")
	}
}

// Assert that err matches target through errors.Is-style classification.
func AssertErrorIs(t testing.TB, err error, is func(error) bool) {
	t.Helper()
	if err == nil || !is(err) {
		t.Errorf("Unexpected error class: '%v'", err)
	}
}

// Compare two values using a custom comparator function.
func AssertEqualWithComparator[T any](t testing.TB, a T, b T, comparator func(T, T) bool) {
	t.Helper()
	if !comparator(a, b) {
		t.Errorf("Expected %v == %v (%T)", a, b, a)
	}
}

// Structural comparison for anything cmp can walk: snapshots, tables, configs.
// want comes first so the diff reads as (-want +got).
func AssertDiff(t testing.TB, want, got any, opts ...cmp.Option) {
	t.Helper()
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("Mismatch (-want +got):\n%s", diff)
	}
}

func CompareArrays[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func CompareMaps[T comparable, V comparable](a map[T]V, b map[T]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	// Same length and every key of a is in b, so the key sets are equal.
	return true
}

func AssertEqualArrays[T comparable](t testing.TB, a []T, b []T) {
	t.Helper()
	AssertEqualWithComparator(t, a, b, CompareArrays)
}

func AssertEqualMaps[T comparable, V comparable](t testing.TB, a map[T]V, b map[T]V) {
	t.Helper()
	AssertEqualWithComparator(t, a, b, CompareMaps)
}

// Check if two arrays are equal, regardless of the order of the elements.
func CompareArraysUnordered[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	am := make(map[T]int) // element -> count
	for _, e := range a {
		am[e]++
	}
	for _, e := range b {
		if am[e] == 0 {
			return false
		}
		am[e]--
	}
	return true
}

func AssertEqualArraysUnordered[T comparable](t testing.TB, a []T, b []T) {
	t.Helper()
	AssertEqualWithComparator(t, a, b, CompareArraysUnordered)
}
