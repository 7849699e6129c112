package buildevent

import "github.com/cealn-go/cealn/label"

// Config is an opaque bag of build configuration key/value options
// (spec.md §6's `BuildConfig`): platform selection, feature flags, and
// similar options that rule analysis reads by name but the core never
// interprets itself.
type Config map[string]string

// Request is a client's request to build a set of targets (spec.md §6).
type Request struct {
	Targets        []label.Label
	DefaultPackage *label.Label // must not be package-relative, per spec.md §6
	BuildConfig    Config
	KeepGoing      bool
	Watch          bool
}
