// Package query implements the incremental query graph: a demand-driven,
// content-hashing, watch-capable dependency graph that tracks queries and
// their source/query dependencies, performs minimal re-validation on
// subsequent requests, and supports cancellation when interest drops to
// zero (spec.md §4.1).
package query

import (
	"github.com/cealn-go/cealn/action"
	"github.com/cealn-go/cealn/label"
)

// Kind discriminates the Query sum type (spec.md §3).
type Kind int

const (
	KindAllWorkspacesLoad Kind = iota
	KindPackageLoad
	KindRuleAnalysis
	KindAction
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindAllWorkspacesLoad:
		return "all_workspaces_load"
	case KindPackageLoad:
		return "package_load"
	case KindRuleAnalysis:
		return "rule_analysis"
	case KindAction:
		return "action"
	case KindOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Query is the sum type keyed by value equality: the graph deduplicates
// nodes by the string this type renders via key().
//
//   - AllWorkspacesLoad carries no fields.
//   - PackageLoad carries Label (the package's label).
//   - RuleAnalysis carries Label (target) and Config.
//   - Action carries ActionKey, a caller-computed deterministic fingerprint
//     of the action.Action value (since actions embed depmap pointers that
//     are not comparable map keys), plus the Action value itself for the
//     KindAction handler to dispatch on.
//   - Output carries Label (target) and Config.
type Query struct {
	Kind      Kind
	Label     label.Label
	Config    string
	ActionKey string
	Action    *action.Action
}

// key renders the canonical string identity used for node deduplication.
func (q Query) key() string {
	switch q.Kind {
	case KindAllWorkspacesLoad:
		return "all_workspaces_load"
	case KindPackageLoad:
		return "package_load:" + q.Label.Display()
	case KindRuleAnalysis:
		return "rule_analysis:" + q.Label.Display() + ":" + q.Config
	case KindAction:
		return "action:" + q.ActionKey
	case KindOutput:
		return "output:" + q.Label.Display() + ":" + q.Config
	default:
		return "unknown"
	}
}
