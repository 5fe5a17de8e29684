// Package config loads etude settings.
//
// Settings come from four layers, lowest precedence first: the defaults in
// the embedded CUE schema, an optional etude.cue file, an optional .env file,
// and the process environment. Every layer is unified with the schema, so an
// out-of-range value is rejected no matter where it came from.
package config
