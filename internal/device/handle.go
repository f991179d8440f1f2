// Package device models the execution side of tuning: a device handle with
// one in-order execution stream, kernel build and dispatch, and kernel time
// accounting used by the autotune search.
package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/subprocess"
)

// Kernel describes one dispatchable kernel: device entry point, source
// file, build flags and launch geometry.
type Kernel struct {
	Name       string
	File       string
	BuildFlags []string
	LocalSize  [3]int
	GridSize   [3]int
}

// Executor runs kernels on the device stream. Dispatch enqueues one launch
// and returns the device-measured elapsed time once it retires; the stream
// executes launches in order. Synchronize drains the stream.
type Executor interface {
	Dispatch(ctx context.Context, k Kernel, args any) (time.Duration, error)
	Synchronize(ctx context.Context) error
}

// NullExecutor accepts every dispatch and reports zero elapsed time. It
// backs handles on systems where no device runtime is present, so the
// default-config path still produces a usable plan.
type NullExecutor struct{}

func (NullExecutor) Dispatch(ctx context.Context, k Kernel, args any) (time.Duration, error) {
	return 0, nil
}

func (NullExecutor) Synchronize(ctx context.Context) error { return nil }

// Handle is one device seen by the tuner: architecture identity, compute
// unit count, the execution stream and an optional out-of-process kernel
// compiler.
type Handle struct {
	arch         string
	computeUnits int
	exec         Executor
	log          logger.Logger

	// compiler, when set, is invoked through internal/subprocess to build
	// kernels before first dispatch.
	compiler     string
	compilerDir  string
	compilerEnv  map[string]string
	builtMu      sync.Mutex
	built        map[string]struct{}

	timeMu     sync.Mutex
	kernelTime time.Duration
	profiling  bool
}

type Option func(*Handle)

// WithCompiler configures an external compiler command run once per kernel
// source file, in dir with extra environment env.
func WithCompiler(command, dir string, env map[string]string) Option {
	return func(h *Handle) {
		h.compiler = command
		h.compilerDir = dir
		h.compilerEnv = env
	}
}

func WithLogger(log logger.Logger) Option {
	return func(h *Handle) { h.log = log }
}

func NewHandle(arch string, computeUnits int, exec Executor, opts ...Option) *Handle {
	if exec == nil {
		exec = NullExecutor{}
	}
	h := &Handle{
		arch:         arch,
		computeUnits: computeUnits,
		exec:         exec,
		log:          logger.Discard(),
		built:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handle) Arch() string         { return h.arch }
func (h *Handle) MaxComputeUnits() int { return h.computeUnits }

// Run builds the kernel if needed, dispatches it once and returns the
// device-measured elapsed time. With profiling enabled the time is also
// accumulated on the handle.
func (h *Handle) Run(ctx context.Context, k Kernel, args any) (time.Duration, error) {
	if err := h.BuildKernel(ctx, k); err != nil {
		return 0, err
	}
	elapsed, err := h.exec.Dispatch(ctx, k, args)
	if err != nil {
		return 0, err
	}
	h.timeMu.Lock()
	if h.profiling {
		h.kernelTime += elapsed
	}
	h.timeMu.Unlock()
	return elapsed, nil
}

// Synchronize drains the execution stream.
func (h *Handle) Synchronize(ctx context.Context) error {
	return h.exec.Synchronize(ctx)
}

// BuildKernel compiles the kernel source out of process when a compiler is
// configured. Each source file is built at most once per handle.
func (h *Handle) BuildKernel(ctx context.Context, k Kernel) error {
	if h.compiler == "" || k.File == "" {
		return nil
	}
	h.builtMu.Lock()
	defer h.builtMu.Unlock()
	cacheKey := k.File + " " + strings.Join(k.BuildFlags, " ")
	if _, ok := h.built[cacheKey]; ok {
		return nil
	}

	args := append(append([]string{}, k.BuildFlags...), k.File)
	proc := subprocess.New(h.compiler, args...).WorkingDirectory(h.compilerDir)
	if len(h.compilerEnv) > 0 {
		proc.EnvironmentVariables(h.compilerEnv)
	}
	status, err := proc.Execute(ctx)
	if err != nil {
		return fmt.Errorf("device: build %s: %w", k.File, err)
	}
	if status != 0 {
		return fmt.Errorf("device: build %s: compiler exited with status %d", k.File, status)
	}
	h.built[cacheKey] = struct{}{}
	h.log.Debug("kernel built", "file", k.File, "flags", strings.Join(k.BuildFlags, " "))
	return nil
}

// EnableProfiling toggles kernel time accumulation.
func (h *Handle) EnableProfiling(on bool) {
	h.timeMu.Lock()
	h.profiling = on
	h.timeMu.Unlock()
}

func (h *Handle) ResetKernelTime() {
	h.timeMu.Lock()
	h.kernelTime = 0
	h.timeMu.Unlock()
}

func (h *Handle) KernelTime() time.Duration {
	h.timeMu.Lock()
	defer h.timeMu.Unlock()
	return h.kernelTime
}
