// Package ui is the Bubble Tea terminal client.
//
// The model watches every panel binding through the store when it starts.
// Store callbacks run on the store's event goroutine, so they only drop a
// token into a one-slot channel; a waiting command turns the token into a
// changeMsg and the model re-reads the pieces it renders. Bursts of changes
// collapse into one redraw.
//
// Keys: r reloads every panel, c clears the cache and reloads, i toggles the
// query identities, T cycles the theme, ? shows help, q quits. Theme and
// identity display are saved to the preferences file.
package ui
