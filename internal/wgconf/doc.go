// Package wgconf is the typed model of a WireGuard tunnel configuration and
// its text formats.
//
// A Config holds exactly one Interface and an ordered list of Peers. All
// three are immutable once built; edits go through the Edit builders, which
// copy the source value. Configs are read from the wg-quick text format with
// Parse and written back with WgQuickString, which re-parses to an equal
// Config. UserspaceString renders the key=value form understood by the
// embedded engine.
package wgconf
