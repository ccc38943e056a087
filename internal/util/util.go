package util

import "github.com/samber/lo"

// MapSlice converts []T into []R.
func MapSlice[T, R any](items []T, fn func(T) R) []R {
	return lo.Map(items, func(item T, _ int) R { return fn(item) })
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
