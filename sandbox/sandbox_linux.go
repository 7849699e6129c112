//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cealn-go/cealn/action"
	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/config"
	"github.com/cealn-go/cealn/depmap"
	"github.com/cealn-go/cealn/fuseserver"
	"github.com/cealn-go/cealn/materializer"
)

// fuseWorkerThreads is the number of dedicated worker threads per input
// mount (spec.md §4.4.2's "Threading" section).
const fuseWorkerThreads = 4

// reexecEnvKey flags a re-exec of the current binary as the sandbox's
// namespace-setup trampoline (the "stage 1 leader" of spec.md §4.4.1,
// collapsed here into a single clone3-equivalent SysProcAttr.Cloneflags
// instead of a hand-rolled clone3 syscall: os/exec's Cloneflags support
// is the documented Go idiom for namespace-isolated children and avoids
// unsafe raw clone3 plumbing).
const reexecEnvKey = "CEALN_SANDBOX_INIT"

// mountPlan is the serializable instruction set handed to the re-exec
// trampoline over a pipe, since the real Config carries *depmap.Depmap
// values that the trampoline (running post-fork, pre-exec) has no need
// to deserialize into live objects.
type mountPlan struct {
	LowerDirs  []string // overlayfs lowerdir stack, dominant first
	UpperDir   string
	WorkDir    string
	MergedDir  string
	ExtraBinds []bindMount
	Executable string
	Args       []string
	Env        []string
	Cwd        string
}

type bindMount struct {
	Source string
	Target string // relative to MergedDir
	RO     bool
}

// Spawn materializes cfg's depmaps, computes the overlay stack, and runs
// the payload inside a fresh user/mount/PID namespace.
func Spawn(ctx context.Context, cfg Config) (Result, error) {
	log := common.NewContextLogger(common.Logger, map[string]interface{}{"component": "sandbox"})

	if cfg.Payload.ExecutionSysroot == nil {
		return Result{}, &SetupError{Stage: "validate", Err: fmt.Errorf("execution sysroot is required")}
	}

	sysrootDir := filepath.Join(cfg.ScratchDir, "sysroot")
	upperDir := filepath.Join(cfg.ScratchDir, "upper")
	workDir := filepath.Join(cfg.ScratchDir, "work")
	mergedDir := filepath.Join(cfg.ScratchDir, "merged")
	outputDir := filepath.Join(cfg.ScratchDir, "output")
	for _, d := range []string{sysrootDir, upperDir, workDir, mergedDir, outputDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Result{}, &SetupError{Stage: "scratch", Err: err}
		}
	}

	lowerDirs, err := materializeLowerDirs(cfg, sysrootDir, log)
	if err != nil {
		return Result{}, &SetupError{Stage: "materialize", Err: err}
	}

	if cfg.Payload.InputDepmap != nil {
		inputDir := filepath.Join(cfg.ScratchDir, "input")
		if err := os.MkdirAll(inputDir, 0o755); err != nil {
			return Result{}, &SetupError{Stage: "input-dir", Err: err}
		}
		if cfg.UseFUSE {
			// §4.4 step 5 FUSE mode: serve the input depmap live instead
			// of materializing it to a real directory.
			mount, err := fuseserver.Mount(cfg.Cache, cfg.Payload.InputDepmap, inputDir, fuseWorkerThreads)
			if err != nil {
				return Result{}, &SetupError{Stage: "fuse-mount", Err: err}
			}
			defer mount.Unmount()
		} else {
			if err := materializer.Materialize(cfg.Cache, cfg.Payload.InputDepmap, inputDir); err != nil {
				return Result{}, &SetupError{Stage: "materialize-input", Err: err}
			}
		}
		lowerDirs = append([]string{inputDir}, lowerDirs...)
	}

	respDir := filepath.Join(cfg.ScratchDir, "respfiles")
	args, wroteRespFiles, err := renderArgs(cfg.Payload, respDir)
	if err != nil {
		return Result{}, &SetupError{Stage: "respfile", Err: err}
	}

	extraBinds := []bindMount{
		{Source: outputDir, Target: "output", RO: false},
		{Source: cfg.Cache.Dir, Target: "cache", RO: true},
	}
	if wroteRespFiles {
		extraBinds = append(extraBinds, bindMount{Source: respDir, Target: "respfiles", RO: true})
	}

	plan := mountPlan{
		LowerDirs:  lowerDirs,
		UpperDir:   upperDir,
		WorkDir:    workDir,
		MergedDir:  mergedDir,
		ExtraBinds: extraBinds,
		Executable: cfg.Payload.Executable.String(),
		Args:       args,
		Env:        renderEnv(cfg.Payload),
		Cwd:        cfg.Payload.Cwd.String(),
	}

	exitCode, stdout, stderr, err := runNamespaced(ctx, plan, cfg.Payload.TargetUID, cfg.Payload.TargetGID)
	if err != nil {
		return Result{}, &SetupError{Stage: "run", Err: err}
	}

	outDepmap, err := collectOutput(cfg.Cache, outputDir)
	if err != nil {
		return Result{}, &SetupError{Stage: "collect", Err: err}
	}

	return Result{ExitCode: exitCode, Output: outDepmap, Stdout: stdout, Stderr: stderr}, nil
}

func materializeLowerDirs(cfg Config, sysrootDir string, log *common.ContextLogger) ([]string, error) {
	order := LowerDirOrder(cfg.Payload.ExecutionSysroot)
	dirs := make([]string, 0, len(order))
	for _, dm := range order {
		dir := filepath.Join(sysrootDir, dm.Hash().Hex())
		if err := materializer.Materialize(cfg.Cache, dm, dir); err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	log.WithField("layers", len(dirs)).Debug("materialized sysroot overlay stack")
	return dirs, nil
}

// renderArgs expands a RunPayload's Args into a flat argv, handling each
// ArgKind per spec.md §4.4 step 7. respDir is where any ArgRespFile
// entries are written; the bool return reports whether respDir needs to
// be bind-mounted into the namespace (it is only created on demand).
func renderArgs(p *action.RunPayload, respDir string) ([]string, bool, error) {
	var out []string
	wroteRespFiles := false
	respIndex := 0

	for _, a := range p.Args {
		switch a.Kind {
		case action.ArgLiteral:
			out = append(out, a.Literal)

		case action.ArgLabel:
			if a.Depmap == nil {
				continue
			}
			pairs, err := a.Depmap.Iter()
			if err != nil {
				continue
			}
			for _, pr := range pairs {
				out = append(out, pr.Key)
			}

		case action.ArgTemplate:
			if a.Depmap == nil {
				continue
			}
			pairs, err := a.Depmap.Iter()
			if err != nil {
				continue
			}
			for _, pr := range pairs {
				out = append(out, strings.ReplaceAll(a.Template, "$1", pr.Key))
			}

		case action.ArgRespFile:
			if a.Depmap == nil {
				continue
			}
			pairs, err := a.Depmap.Iter()
			if err != nil {
				continue
			}
			var keys []string
			for _, pr := range pairs {
				keys = append(keys, pr.Key)
			}
			sort.Strings(keys)

			if err := os.MkdirAll(respDir, 0o755); err != nil {
				return nil, false, fmt.Errorf("creating respfile dir: %w", err)
			}
			name := fmt.Sprintf("respfile-%d", respIndex)
			respIndex++
			if err := os.WriteFile(filepath.Join(respDir, name), []byte(strings.Join(keys, "\n")), 0o644); err != nil {
				return nil, false, fmt.Errorf("writing respfile: %w", err)
			}
			wroteRespFiles = true

			// respfiles/<name> is relative to the merged root, resolved
			// the same way ArgLabel/ArgTemplate's depmap keys are: the
			// sandboxed process's cwd is inside MergedDir.
			relPath := "respfiles/" + name
			template := a.Template
			if template == "" {
				template = "$1"
			}
			out = append(out, strings.ReplaceAll(template, "$1", relPath))
		}
	}
	return out, wroteRespFiles, nil
}

// renderEnv flattens a RunPayload's environment list plus its PATH/
// LD_LIBRARY_PATH directory lists into a process environment, forwarding
// the curated host allowlist (spec.md's "Environment" section) first so a
// payload's own entries can still override an inherited value.
func renderEnv(p *action.RunPayload) []string {
	env := make([]string, 0, len(p.Env)+len(config.EnvAllowlist)+2)
	for _, name := range config.EnvAllowlist {
		if v := common.GetEnv(name, ""); v != "" {
			env = append(env, name+"="+v)
		}
	}
	for _, e := range p.Env {
		env = append(env, e.Name+"="+e.Value)
	}
	if len(p.PathDirs) > 0 {
		env = append(env, "PATH="+strings.Join(p.PathDirs, ":"))
	}
	if len(p.LDLibPath) > 0 {
		env = append(env, "LD_LIBRARY_PATH="+strings.Join(p.LDLibPath, ":"))
	}
	return env
}

// collectOutput walks outputDir with sorted readdir (for determinism),
// hashing each regular file into the cache and building a depmap
// mirroring the tree (spec.md §4.4 "Output collection").
func collectOutput(c *cache.Cache, outputDir string) (*depmap.Depmap, error) {
	builder := depmap.NewBuilder()
	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		return builder.Build(), nil
	}
	if err := walkOutput(c, builder, outputDir, ""); err != nil {
		return nil, err
	}
	return builder.Build(), nil
}

func walkOutput(c *cache.Cache, builder *depmap.Builder, dir, relPath string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		rel := e.Name()
		if relPath != "" {
			rel = relPath + "/" + e.Name()
		}
		info, err := os.Lstat(full)
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return err
			}
			builder.Insert(rel, depmap.Symlink(target))

		case info.IsDir():
			children, err := os.ReadDir(full)
			if err != nil {
				return err
			}
			if len(children) == 0 {
				builder.Insert(rel, depmap.Directory())
				continue
			}
			if err := walkOutput(c, builder, full, rel); err != nil {
				return err
			}

		default:
			h, err := cache.HashFile(full)
			if err != nil {
				return err
			}
			executable := info.Mode()&0o111 != 0
			tmp, err := os.CreateTemp(c.Dir, "output-*")
			if err != nil {
				return err
			}
			tmpPath := tmp.Name()
			in, err := os.Open(full)
			if err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return err
			}
			_, copyErr := tmp.ReadFrom(in)
			in.Close()
			tmp.Close()
			if copyErr != nil {
				os.Remove(tmpPath)
				return copyErr
			}
			if _, err := c.MoveInto(tmpPath, h, executable); err != nil {
				return err
			}
			builder.Insert(rel, depmap.Regular(h, executable))
		}
	}
	return nil
}
