package gencache

// DefaultThreshold is the generation at which an advance sweeps instead of
// incrementing.
const DefaultThreshold = 4

// DefaultName is the store name claimed when Options.Name is empty.
const DefaultName = "gencache"

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
