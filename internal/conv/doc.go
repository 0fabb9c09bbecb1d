// Package conv provides checked integer conversions.
//
// Sizes cross between Go's platform-sized int and the fixed-width fields of
// the heap dump format. These helpers reject values that would silently
// truncate.
package conv
