// Package pick chooses among driver-reported options.
package pick

import "golang.org/x/exp/constraints"

// Preferred returns the first entry of prefs that appears in available. If
// none do, it falls back to the first available option. ok is false only
// when available is empty.
func Preferred[T comparable](available []T, prefs ...T) (choice T, ok bool) {
	for _, pref := range prefs {
		for _, option := range available {
			if option == pref {
				return option, true
			}
		}
	}

	if len(available) == 0 {
		return choice, false
	}
	return available[0], true
}

// PreferredFunc is Preferred for types that cannot be compared with ==.
func PreferredFunc[T any, P any](available []T, prefs []P, match func(T, P) bool) (choice T, ok bool) {
	for _, pref := range prefs {
		for _, option := range available {
			if match(option, pref) {
				return option, true
			}
		}
	}

	if len(available) == 0 {
		return choice, false
	}
	return available[0], true
}

// Clamp limits v to [lo, hi]. A zero hi means there is no upper bound, which
// is how Vulkan reports an unlimited swapchain image count.
func Clamp[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		v = lo
	}
	if hi != 0 && v > hi {
		v = hi
	}
	return v
}
