// Package featureflag toggles optional viewer behaviors.
package featureflag

type Flag string

const (
	// Render jobs of a same level in scheduling order instead of nearest to
	// the screen center first.
	FlagDisableNearestFirst Flag = "DISABLE_NEAREST_FIRST"

	// Keep every cached tile until the config changes.
	FlagDisableCacheTrim Flag = "DISABLE_CACHE_TRIM"

	// Stop pushing viewer status to websocket clients.
	FlagDisableStatusBroadcast Flag = "DISABLE_STATUS_BROADCAST"
)
