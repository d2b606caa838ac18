package fn

import "fmt"

// Map applies f to every element of s and returns the results in order.
func Map[I, O any](s []I, f func(I) O) []O {
	out := make([]O, 0, len(s))
	for _, x := range s {
		out = append(out, f(x))
	}

	return out
}

// MapErr is like Map but stops at the first error returned by f.
func MapErr[I, O any](s []I, f func(I) (O, error)) ([]O, error) {
	out := make([]O, 0, len(s))
	for i, x := range s {
		o, err := f(x)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, o)
	}

	return out, nil
}

// Filter returns the elements of s for which pred holds.
func Filter[T any](s []T, pred func(T) bool) []T {
	var out []T
	for _, x := range s {
		if pred(x) {
			out = append(out, x)
		}
	}

	return out
}

// Reduce folds s from the left, starting with the zero value of A.
func Reduce[A, T any](s []T, f func(A, T) A) A {
	var acc A
	for _, x := range s {
		acc = f(acc, x)
	}

	return acc
}

// Any returns true if pred holds for at least one element.
func Any[T any](s []T, pred func(T) bool) bool {
	for _, x := range s {
		if pred(x) {
			return true
		}
	}

	return false
}

// All returns true if pred holds for every element. It is vacuously true for
// an empty slice.
func All[T any](s []T, pred func(T) bool) bool {
	for _, x := range s {
		if !pred(x) {
			return false
		}
	}

	return true
}

// First returns the first element matching pred, or false if none does.
func First[T any](s []T, pred func(T) bool) (T, bool) {
	for _, x := range s {
		if pred(x) {
			return x, true
		}
	}

	var zero T
	return zero, false
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}
