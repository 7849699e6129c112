package execengine

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/cealn-go/cealn/action"
	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/depmap"
	"github.com/cealn-go/cealn/filehash"
	"github.com/cealn-go/cealn/sandbox"
)

// RunAction dispatches a to its executor, producing the hashable
// ActionOutput that query.Graph's KindAction handler returns as its
// product (spec.md §2/§4.4). Run is the only kind that needs a sandbox;
// it is admission-gated by sem and given a fresh scratch directory under
// scratchRoot, removed once the run completes. The other five kinds
// (Download/DockerDownload/Extract/GitClone/BuildDepmap) are thin
// plumbing over a resource fetch or depmap assembly and run inline,
// matching spec.md's own framing of them alongside the out-of-scope
// collaborators (registry clients, downloaders, archive extraction).
func RunAction(ctx context.Context, c *cache.Cache, sem *Semaphore, scratchRoot string, useFUSE bool, a *action.Action) (*action.ActionOutput, error) {
	switch a.Kind {
	case action.KindRun:
		return runRun(ctx, c, sem, scratchRoot, useFUSE, a.Run)

	case action.KindDownload:
		h, err := RunDownload(ctx, c, a.Download)
		if err != nil {
			return nil, err
		}
		return &action.ActionOutput{Files: singleFileDepmap(downloadName(a.Download.URL), h, a.Download.Executable)}, nil

	case action.KindDockerDownload:
		d, err := RunDockerDownload(ctx, c, a.DockerDownload)
		if err != nil {
			return nil, err
		}
		return &action.ActionOutput{Files: d}, nil

	case action.KindExtract:
		d, err := RunExtract(ctx, c, a.Extract)
		if err != nil {
			return nil, err
		}
		return &action.ActionOutput{Files: d}, nil

	case action.KindGitClone:
		d, err := RunGitClone(ctx, c, a.GitClone)
		if err != nil {
			return nil, err
		}
		return &action.ActionOutput{Files: d}, nil

	case action.KindBuildDepmap:
		d, err := RunBuildDepmap(c, a.BuildDepmap)
		if err != nil {
			return nil, err
		}
		return &action.ActionOutput{Files: d}, nil

	case action.KindTransition:
		// A build-config remap crossing into a different target platform/
		// configuration: it carries no files of its own and is applied by
		// the rule-analysis layer (spec.md's out-of-scope rule
		// interpreter) before issuing the remapped sub-query, not
		// executed here.
		return nil, fmt.Errorf("execengine: Transition is resolved by rule analysis, not executed")

	default:
		return nil, fmt.Errorf("execengine: unknown action kind %s", a.Kind)
	}
}

func runRun(ctx context.Context, c *cache.Cache, sem *Semaphore, scratchRoot string, useFUSE bool, payload *action.RunPayload) (*action.ActionOutput, error) {
	ticket, err := sem.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("execengine: acquiring run ticket: %w", err)
	}
	defer ticket.Release()

	scratchDir, err := os.MkdirTemp(scratchRoot, "run-*")
	if err != nil {
		return nil, fmt.Errorf("execengine: creating run scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	res, err := sandbox.Spawn(ctx, sandbox.Config{
		Payload:    payload,
		Cache:      c,
		ScratchDir: scratchDir,
		UseFUSE:    useFUSE,
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		// spec.md §8: a non-zero exit is a build error, not a setup
		// failure, so it surfaces through the normal err path rather than
		// a SetupError.
		return nil, fmt.Errorf("execengine: %s exited with status %d: %s", payload.Executable, res.ExitCode, res.Stderr)
	}
	return &action.ActionOutput{Files: res.Output, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

// singleFileDepmap wraps a Download action's single fetched file into a
// one-entry depmap keyed by the URL's basename, so Download produces the
// same Files-depmap shape as every other action.
func singleFileDepmap(name string, h filehash.Hash, executable bool) *depmap.Depmap {
	builder := depmap.NewBuilder()
	builder.Insert(name, depmap.Regular(h, executable))
	return builder.Build()
}

// downloadName derives a depmap key from a Download action's URL, falling
// back to a fixed name when the URL has no usable path component.
func downloadName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return "download"
	}
	return base
}
