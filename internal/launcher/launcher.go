package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/google/uuid"
	"github.com/loykin/cloudsync/internal/env"
	"github.com/loykin/cloudsync/internal/logger"
	"github.com/loykin/cloudsync/internal/platform"
)

var (
	ErrServerBinaryMissing = errors.New("server binary missing")
	ErrServerSpawnFailed   = errors.New("server spawn failed")
)

const DefaultBinary = "sync-server"

type Options struct {
	ResourcesDir string
	// Binary is the backend file name under ResourcesDir. ".exe" is appended
	// on Windows when it has no extension.
	Binary  string
	Args    []string
	WorkDir string
	// Env is the base environment; nil snapshots the OS environment per launch.
	Env *env.Env
	// Log configures rotating files for the backend's output.
	Log    logger.Config
	Sink   OutputSink // optional, receives every output line in addition to the log
	Logger *slog.Logger
}

type Launcher struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Launcher {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if runtime.GOOS == "windows" && filepath.Ext(opts.Binary) == "" {
		opts.Binary += ".exe"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Launcher{opts: opts, log: opts.Logger.With("component", "launcher")}
}

// ServerPath is the absolute location of the backend binary.
func (l *Launcher) ServerPath() string {
	return filepath.Join(l.opts.ResourcesDir, l.opts.Binary)
}

// Launch spawns the backend with the dependent path and port in its
// environment. The child is not bound to ctx; ctx is only checked before
// spawning. Use Handle.Terminate to stop it.
func (l *Launcher) Launch(ctx context.Context, dependentPath string, port int) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin := l.ServerPath()
	fi, err := os.Stat(bin)
	if err != nil || fi.IsDir() {
		l.log.Error("server binary not found", "path", bin)
		return nil, fmt.Errorf("%w: %s", ErrServerBinaryMissing, bin)
	}
	if err := platform.EnsureExecutable(bin); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServerSpawnFailed, bin, err)
	}

	base := l.opts.Env
	if base == nil {
		base = env.FromOS()
	}
	vars := base.Build(env.Vars{
		env.RclonePathKey: dependentPath,
		env.PortKey:       strconv.Itoa(port),
	})

	// #nosec G204 -- bin is the configured backend under the resources dir
	cmd := exec.Command(bin, l.opts.Args...)
	cmd.Env = vars
	if l.opts.WorkDir != "" {
		cmd.Dir = l.opts.WorkDir
	}
	configureSysProcAttr(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrServerSpawnFailed, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrServerSpawnFailed, err)
	}
	cmd.Stdout, cmd.Stderr = outW, errW

	runID := uuid.NewString()
	log := l.log.With("run_id", runID)
	sink, err := l.newSink(log)
	if err != nil {
		log.Warn("backend log files unavailable", "error", err)
	}

	log.Info("spawning backend", "path", bin, "port", port, "dependent", dependentPath)
	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			_ = f.Close()
		}
		_ = sink.Close()
		log.Error("failed to spawn backend", "path", bin, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrServerSpawnFailed, bin, err)
	}
	// the child holds its own copies of the write ends
	_ = outW.Close()
	_ = errW.Close()

	h := newHandle(cmd, runID, log)
	go h.run(outR, errR, sink)
	log.Info("backend spawned", "pid", h.PID())
	return h, nil
}

func (l *Launcher) newSink(log *slog.Logger) (*lineSink, error) {
	s := &lineSink{log: log, extra: l.opts.Sink}
	out, errw, err := l.opts.Log.ProcessWriters(l.processName())
	if err != nil {
		return s, err
	}
	s.files[Stdout], s.files[Stderr] = out, errw
	return s, nil
}

func (l *Launcher) processName() string {
	return l.opts.Binary[:len(l.opts.Binary)-len(filepath.Ext(l.opts.Binary))]
}
