// Package buildevent defines the BuildRequest/BuildEvent protocol exchanged
// between a client and the running server (spec.md §6). A BuildRequest
// names targets and options; the server replies with a stream of
// BuildEvent values reporting query progress, cache hits, subprocess
// output, diagnostics and terminal errors.
//
// The variants are a closed sum type, following the tagged-envelope idiom
// of the teacher's coordinator WSMessage/payload pairs, but with a Go
// struct of optional fields instead of a map[string]interface{} payload: every BuildEvent variant is known up front, so there is no
// later-added-message-type case to keep open.
package buildevent

import "github.com/cealn-go/cealn/label"

// DataKind discriminates the BuildEventData sum type (spec.md §6).
type DataKind int

const (
	KindQueryRunStart DataKind = iota
	KindQueryRunEnd
	KindCacheCheckStart
	KindCacheCheckEnd
	KindProgress
	KindStdio
	KindMessage
	KindInternalError
	KindActionCacheHit
	KindWatchRun
	KindWatchIdle
	KindWorkspaceFileNotFound
	KindExecutablePrepped
)

func (k DataKind) String() string {
	switch k {
	case KindQueryRunStart:
		return "query_run_start"
	case KindQueryRunEnd:
		return "query_run_end"
	case KindCacheCheckStart:
		return "cache_check_start"
	case KindCacheCheckEnd:
		return "cache_check_end"
	case KindProgress:
		return "progress"
	case KindStdio:
		return "stdio"
	case KindMessage:
		return "message"
	case KindInternalError:
		return "internal_error"
	case KindActionCacheHit:
		return "action_cache_hit"
	case KindWatchRun:
		return "watch_run"
	case KindWatchIdle:
		return "watch_idle"
	case KindWorkspaceFileNotFound:
		return "workspace_file_not_found"
	case KindExecutablePrepped:
		return "executable_prepped"
	default:
		return "unknown"
	}
}

// Stream is one of stdout or stderr, for a Stdio event.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// MessageLevel is the severity of a Message event.
type MessageLevel int

const (
	LevelDebug MessageLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l MessageLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Data holds the fields for whichever variant Kind names. Only the fields
// relevant to Kind are meaningful; this mirrors spec.md §6's closed
// `BuildEventData` union, expressed as a single struct since Go has no
// tagged union type.
type Data struct {
	Kind DataKind

	// Progress
	Fraction float64

	// Stdio
	Stream Stream
	Bytes  []byte

	// Message
	Level   MessageLevel
	Message string
	Human   string

	// InternalError
	ErrorMessage string
	Backtrace    string
	Cause        string
	NestedQuery  string

	// ExecutablePrepped
	Path      string
	ParentPID int
}

// BuildEvent is one item in the stream reply to a BuildRequest: a labeled
// query/action identity (Source) paired with what happened (Data).
type BuildEvent struct {
	Source label.Label
	Data   Data
}

// helper constructors, one per variant, so callers never hand-assemble a
// Data literal with irrelevant fields left zero.

func QueryRunStart(source label.Label) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindQueryRunStart}}
}

func QueryRunEnd(source label.Label) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindQueryRunEnd}}
}

func CacheCheckStart(source label.Label) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindCacheCheckStart}}
}

func CacheCheckEnd(source label.Label) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindCacheCheckEnd}}
}

func Progress(source label.Label, fraction float64) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindProgress, Fraction: fraction}}
}

func Stdio(source label.Label, stream Stream, b []byte) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindStdio, Stream: stream, Bytes: b}}
}

func Message(source label.Label, level MessageLevel, message, human string) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindMessage, Level: level, Message: message, Human: human}}
}

func InternalError(source label.Label, message, backtrace, cause, nestedQuery string) BuildEvent {
	return BuildEvent{Source: source, Data: Data{
		Kind:         KindInternalError,
		ErrorMessage: message,
		Backtrace:    backtrace,
		Cause:        cause,
		NestedQuery:  nestedQuery,
	}}
}

func ActionCacheHit(source label.Label) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindActionCacheHit}}
}

func WatchRun(source label.Label) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindWatchRun}}
}

func WatchIdle(source label.Label) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindWatchIdle}}
}

func WorkspaceFileNotFound(source label.Label) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindWorkspaceFileNotFound}}
}

func ExecutablePrepped(source label.Label, path string, parentPID int) BuildEvent {
	return BuildEvent{Source: source, Data: Data{Kind: KindExecutablePrepped, Path: path, ParentPID: parentPID}}
}
