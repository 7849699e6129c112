package buildevent

import (
	"encoding/json"
	"fmt"

	"github.com/cealn-go/cealn/label"
)

// wireEvent is BuildEvent's JSON wire shape, a flat envelope: a string
// discriminant plus the fields relevant to it. Source and kind are always
// present; the other fields are JSON-tagged with omitempty, but stream and
// level are always rendered to a name by MarshalJSON, so every event
// carries them alongside the fields its Kind actually uses.
type wireEvent struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`

	Fraction float64 `json:"fraction,omitempty"`

	Stream string `json:"stream,omitempty"`
	Bytes  []byte `json:"bytes,omitempty"`

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
	Human   string `json:"human,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	Backtrace    string `json:"backtrace,omitempty"`
	Cause        string `json:"cause,omitempty"`
	NestedQuery  string `json:"nested_query,omitempty"`

	Path      string `json:"path,omitempty"`
	ParentPID int    `json:"parent_pid,omitempty"`
}

// MarshalJSON renders the event in its wire shape.
func (e BuildEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Source:       e.Source.Display(),
		Kind:         e.Data.Kind.String(),
		Fraction:     e.Data.Fraction,
		Stream:       e.Data.Stream.String(),
		Bytes:        e.Data.Bytes,
		Level:        e.Data.Level.String(),
		Message:      e.Data.Message,
		Human:        e.Data.Human,
		ErrorMessage: e.Data.ErrorMessage,
		Backtrace:    e.Data.Backtrace,
		Cause:        e.Data.Cause,
		NestedQuery:  e.Data.NestedQuery,
		Path:         e.Data.Path,
		ParentPID:    e.Data.ParentPID,
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses an event from its wire shape.
func (e *BuildEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	src, err := label.Parse(w.Source)
	if err != nil {
		return fmt.Errorf("buildevent: parsing source label: %w", err)
	}

	kind, err := parseDataKind(w.Kind)
	if err != nil {
		return err
	}

	e.Source = src
	e.Data = Data{
		Kind:         kind,
		Fraction:     w.Fraction,
		Stream:       parseStream(w.Stream),
		Bytes:        w.Bytes,
		Level:        parseMessageLevel(w.Level),
		Message:      w.Message,
		Human:        w.Human,
		ErrorMessage: w.ErrorMessage,
		Backtrace:    w.Backtrace,
		Cause:        w.Cause,
		NestedQuery:  w.NestedQuery,
		Path:         w.Path,
		ParentPID:    w.ParentPID,
	}
	return nil
}

func parseDataKind(s string) (DataKind, error) {
	for k := KindQueryRunStart; k <= KindExecutablePrepped; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("buildevent: unknown event kind %q", s)
}

func parseStream(s string) Stream {
	if s == "stderr" {
		return StreamStderr
	}
	return StreamStdout
}

func parseMessageLevel(s string) MessageLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// wireRequest is Request's JSON wire shape.
type wireRequest struct {
	Targets        []string `json:"targets"`
	DefaultPackage string   `json:"default_package,omitempty"`
	BuildConfig    Config   `json:"build_config,omitempty"`
	KeepGoing      bool     `json:"keep_going,omitempty"`
	Watch          bool     `json:"watch,omitempty"`
}

// MarshalJSON renders the request in its wire shape.
func (r Request) MarshalJSON() ([]byte, error) {
	w := wireRequest{
		BuildConfig: r.BuildConfig,
		KeepGoing:   r.KeepGoing,
		Watch:       r.Watch,
	}
	for _, t := range r.Targets {
		w.Targets = append(w.Targets, t.Display())
	}
	if r.DefaultPackage != nil {
		w.DefaultPackage = r.DefaultPackage.Display()
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses a request from its wire shape.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	targets := make([]label.Label, 0, len(w.Targets))
	for _, s := range w.Targets {
		l, err := label.Parse(s)
		if err != nil {
			return fmt.Errorf("buildevent: parsing target label %q: %w", s, err)
		}
		targets = append(targets, l)
	}

	var defaultPackage *label.Label
	if w.DefaultPackage != "" {
		l, err := label.Parse(w.DefaultPackage)
		if err != nil {
			return fmt.Errorf("buildevent: parsing default_package: %w", err)
		}
		if l.Root == label.RootPackageRelative {
			return fmt.Errorf("buildevent: default_package must not be package-relative")
		}
		defaultPackage = &l
	}

	r.Targets = targets
	r.DefaultPackage = defaultPackage
	r.BuildConfig = w.BuildConfig
	r.KeepGoing = w.KeepGoing
	r.Watch = w.Watch
	return nil
}
