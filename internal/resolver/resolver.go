package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/cloudsync/internal/platform"
)

// ErrDependentBinaryNotFound means neither the bundled binary nor a system
// installation could be used. It is fatal for startup.
var ErrDependentBinaryNotFound = errors.New("dependent binary not found")

const (
	DefaultName          = "rclone"
	DefaultBundleDir     = "rclone-binaries"
	DefaultMarker        = "rclone v"
	DefaultVersionArg    = "version"
	DefaultVerifyTimeout = 10 * time.Second
)

// Runner executes name with args and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Source tells where a resolved binary came from.
type Source string

const (
	SourceBundled Source = "bundled"
	SourceSystem  Source = "system"
)

// Candidate is a path considered during resolution.
type Candidate struct {
	Path     string `json:"path"`
	Source   Source `json:"source"`
	Verified bool   `json:"verified"`
}

type Options struct {
	ResourcesDir  string
	BundleDir     string // subdirectory of ResourcesDir holding per-platform binaries
	Name          string // executable name for the command-path search
	Marker        string // substring expected in the version output
	VersionArg    string
	VerifyTimeout time.Duration
	// VerifySystem also runs the version check on a command-path hit.
	// Off by default: a hit from the search path is trusted as-is.
	VerifySystem bool

	// Profile overrides host detection; nil means platform.Current().
	Profile  *platform.Profile
	Run      Runner
	LookPath func(string) (string, error)
	Logger   *slog.Logger
}

type Resolver struct {
	opts    Options
	profile *platform.Profile
	log     *slog.Logger
}

func New(opts Options) *Resolver {
	if opts.BundleDir == "" {
		opts.BundleDir = DefaultBundleDir
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.VersionArg == "" {
		opts.VersionArg = DefaultVersionArg
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = DefaultVerifyTimeout
	}
	if opts.Run == nil {
		opts.Run = runCombined
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Resolver{opts: opts, log: opts.Logger.With("component", "resolver")}
	if opts.Profile != nil {
		p := *opts.Profile
		r.profile = &p
	} else if p, err := platform.Current(); err == nil {
		r.profile = &p
	} else {
		r.log.Warn("no bundled binary for this host", "error", err)
	}
	return r
}

// BundledPath returns the expected bundled location, or "" when the host
// platform has no bundled binary.
func (r *Resolver) BundledPath() string {
	if r.profile == nil {
		return ""
	}
	return r.profile.BundledPath(r.opts.ResourcesDir, r.opts.BundleDir)
}

// Resolve returns the first usable dependent binary: a verified bundled copy,
// otherwise the first command-path match.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	c, err := r.ResolveCandidate(ctx)
	if err != nil {
		return "", err
	}
	return c.Path, nil
}

func (r *Resolver) ResolveCandidate(ctx context.Context) (Candidate, error) {
	if bundled := r.BundledPath(); bundled != "" {
		r.log.Info("looking for bundled binary", "path", bundled)
		c := Candidate{Path: bundled, Source: SourceBundled}
		if _, err := os.Stat(bundled); err != nil {
			r.log.Info("bundled binary not found", "path", bundled)
		} else if err := r.verify(ctx, bundled); err != nil {
			r.log.Error("bundled binary failed verification", "path", bundled, "error", err)
		} else {
			c.Verified = true
			r.log.Info("using bundled binary", "path", bundled)
			return c, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}

	r.log.Info("falling back to command search path", "name", r.opts.Name)
	found, err := r.opts.LookPath(r.opts.Name)
	if err != nil || strings.TrimSpace(found) == "" {
		r.log.Error("no system installation found", "name", r.opts.Name, "error", err)
		return Candidate{}, fmt.Errorf("%w: bundled copy missing or broken and %q not on PATH", ErrDependentBinaryNotFound, r.opts.Name)
	}
	c := Candidate{Path: found, Source: SourceSystem}
	if r.opts.VerifySystem {
		if err := r.verify(ctx, found); err != nil {
			return Candidate{}, fmt.Errorf("%w: system %s failed verification: %v", ErrDependentBinaryNotFound, found, err)
		}
		c.Verified = true
	}
	r.log.Info("using system binary", "path", found, "verified", c.Verified)
	return c, nil
}

// verify makes path executable if needed and checks its version output.
func (r *Resolver) verify(ctx context.Context, path string) error {
	if err := platform.EnsureExecutable(path); err != nil {
		return fmt.Errorf("make executable: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, r.opts.VerifyTimeout)
	defer cancel()
	out, err := r.opts.Run(vctx, path, r.opts.VersionArg)
	if err != nil {
		if vctx.Err() != nil {
			return fmt.Errorf("version check timed out after %s", r.opts.VerifyTimeout)
		}
		return err
	}
	if !strings.Contains(string(out), r.opts.Marker) {
		return fmt.Errorf("version output does not contain %q", r.opts.Marker)
	}
	return nil
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- name is the resolved dependent binary
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	return cmd.CombinedOutput()
}
