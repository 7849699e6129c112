// Package action defines the Action sum type: the six kinds of work the
// execution core can perform, and their inherent cacheability (spec.md
// §3/§4.3). This package holds only the data shape; execengine interprets
// it.
package action

import (
	"github.com/cealn-go/cealn/depmap"
	"github.com/cealn-go/cealn/filehash"
	"github.com/cealn-go/cealn/label"
)

// Kind discriminates the Action sum type.
type Kind int

const (
	KindRun Kind = iota
	KindDownload
	KindDockerDownload
	KindExtract
	KindGitClone
	KindBuildDepmap
	KindTransition
)

func (k Kind) String() string {
	switch k {
	case KindRun:
		return "run"
	case KindDownload:
		return "download"
	case KindDockerDownload:
		return "docker_download"
	case KindExtract:
		return "extract"
	case KindGitClone:
		return "git_clone"
	case KindBuildDepmap:
		return "build_depmap"
	case KindTransition:
		return "transition"
	default:
		return "unknown"
	}
}

// Cacheability is an action's inherent sharing policy.
type Cacheability int

const (
	// Global: a pure function of its inputs, safe to share across workspaces.
	Global Cacheability = iota
	// Private: non-deterministic or workspace-specific, never shared.
	Private
)

// ArgKind discriminates how one Run argv entry is produced.
type ArgKind int

const (
	// ArgLiteral is a plain string argument.
	ArgLiteral ArgKind = iota
	// ArgLabel expands to one argv entry per key in a depmap.
	ArgLabel
	// ArgTemplate substitutes "$1" for each key of a depmap.
	ArgTemplate
	// ArgRespFile materializes a file whose lines are the depmap's keys and
	// passes that file's path as the argument.
	ArgRespFile
)

// Arg is one argv-producing entry of a Run action.
type Arg struct {
	Kind     ArgKind
	Literal  string
	Template string
	Depmap   *depmap.Depmap // valid for ArgLabel/ArgTemplate/ArgRespFile
}

// EnvVar is one entry of a Run's environment.
type EnvVar struct {
	Name  string
	Value string
}

// Platform names the target triple a Run action executes under.
type Platform struct {
	OS   string
	Arch string
}

// RunPayload is the data carried by a KindRun action.
type RunPayload struct {
	Executable label.Path
	Args       []Arg
	Cwd        label.Path
	Env        []EnvVar
	PathDirs   []string
	LDLibPath  []string

	InputDepmap         *depmap.Depmap // optional
	ExecutionSysroot    *depmap.Depmap // mandatory
	ExecutableContext   *depmap.Depmap // optional
	TargetUID, TargetGID int

	Platform Platform
}

// DownloadPayload is the data carried by a KindDownload action.
type DownloadPayload struct {
	URL          string
	ExpectedHash filehash.Hash // zero if unknown ahead of time
	Executable   bool
}

// DockerDownloadPayload is the data carried by a KindDockerDownload action.
type DockerDownloadPayload struct {
	Registry   string
	Repository string
	Reference  string // tag or digest
}

// ExtractPayload is the data carried by a KindExtract action.
type ExtractPayload struct {
	Archive depmap.Ref
	Format  ArchiveFormat
	StripComponents int
}

// ArchiveFormat names the supported archive encodings.
type ArchiveFormat int

const (
	FormatTarGz ArchiveFormat = iota
	FormatTar
	FormatGz
)

// GitClonePayload is the data carried by a KindGitClone action.
type GitClonePayload struct {
	Repository string
	Revision   string
}

// BuildDepmapEntryKind discriminates one BuildDepmap instruction.
type BuildDepmapEntryKind int

const (
	BDReference BuildDepmapEntryKind = iota
	BDDirectory
	BDInlineFile
	BDSymlink
	BDFilteredMount
)

// BuildDepmapEntry is one (destination_path, entry) instruction.
type BuildDepmapEntry struct {
	Destination label.Path
	Kind        BuildDepmapEntryKind

	Reference *depmap.Depmap // BDReference, BDFilteredMount
	Content   []byte         // BDInlineFile
	Executable bool          // BDInlineFile
	Target    string         // BDSymlink

	FilterPrefix   string   // BDFilteredMount
	FilterPatterns []string // BDFilteredMount
}

// BuildDepmapPayload is the data carried by a KindBuildDepmap action.
type BuildDepmapPayload struct {
	Entries []BuildDepmapEntry
}

// TransitionPayload is the data carried by a KindTransition action: a
// build-config remap applied when crossing into a different target
// platform/configuration (e.g. cross-compilation).
type TransitionPayload struct {
	Config map[string]string
}

// Action is the tagged union of the six executable action kinds plus
// Transition. Exactly one payload field is valid per Kind.
type Action struct {
	Kind         Kind
	Cacheability Cacheability

	Run            *RunPayload
	Download       *DownloadPayload
	DockerDownload *DockerDownloadPayload
	Extract        *ExtractPayload
	GitClone       *GitClonePayload
	BuildDepmap    *BuildDepmapPayload
	Transition     *TransitionPayload
}

// ActionOutput is what executing an Action produces: a files depmap plus
// captured stdout/stderr (spec.md §2/§4.4). Every non-Transition Kind
// resolves to one of these; Download/Extract/GitClone/DockerDownload/
// BuildDepmap leave Stdout/Stderr nil since they have no subprocess.
type ActionOutput struct {
	Files  *depmap.Depmap
	Stdout []byte
	Stderr []byte
}

// Hash combines the files depmap's identity with stdout/stderr so that
// query.Graph's early-cutoff-by-output-equivalence (spec.md §4.1) also
// catches a Run whose files were unchanged but whose console output
// differs (e.g. a test binary that prints a failure but writes the same
// artifact it wrote on a prior success).
func (o *ActionOutput) Hash() filehash.Hash {
	b := filehash.NewBuilder(filehash.KindDepmap)
	if o.Files != nil {
		h := o.Files.Hash()
		raw := h.Bytes()
		b.Write(raw[:])
	}
	b.Write(o.Stdout)
	b.Write(o.Stderr)
	return b.Sum()
}
