// Package sphinx runs the external documentation toolchain and orchestrates
// publish pipelines.
package sphinx

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/logfields"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

// Toolchain wraps the external Python/Sphinx build commands for one checkout.
type Toolchain struct {
	cfg config.BuildConfig
	dir string // repository checkout directory
}

// NewToolchain builds a toolchain rooted at the given checkout directory.
func NewToolchain(cfg config.BuildConfig, dir string) *Toolchain {
	return &Toolchain{cfg: cfg, dir: dir}
}

// shouldRunBuild determines if the external build command should execute.
// DOCPAGES_SKIP_SPHINX=1 disables it (used by tests and dry runs).
func shouldRunBuild() bool {
	return os.Getenv("DOCPAGES_SKIP_SPHINX") != "1"
}

// EnvSetupStatus describes what SetupEnvironment actually did.
type EnvSetupStatus int

const (
	// EnvSetupRan means at least one tool step executed.
	EnvSetupRan EnvSetupStatus = iota
	// EnvSetupDisabled means setup was turned off via config or the test gate.
	EnvSetupDisabled
	// EnvSetupNoFiles means neither the environment file nor the requirements
	// file exists in the checkout; callers record a report issue.
	EnvSetupNoFiles
)

// SetupEnvironment prepares the Python environment: a conda env update from the
// environment file when present, then a pip install of the requirements file.
func (t *Toolchain) SetupEnvironment(ctx context.Context) (EnvSetupStatus, error) {
	if t.cfg.SkipEnvironmentSetup || !shouldRunBuild() {
		slog.Debug("Environment setup skipped")
		return EnvSetupDisabled, nil
	}

	ran := false

	envFile := filepath.Join(t.dir, filepath.FromSlash(t.cfg.EnvironmentFile))
	if _, err := os.Stat(envFile); t.cfg.EnvironmentFile != "" && err == nil {
		if _, lerr := exec.LookPath("conda"); lerr != nil {
			return EnvSetupRan, fmt.Errorf("%w: environment file %s present but conda not in PATH", models.ErrEnvironment, t.cfg.EnvironmentFile)
		}
		slog.Info("Updating conda environment", logfields.Path(t.cfg.EnvironmentFile))
		if err := t.run(ctx, "conda", "env", "update", "--quiet", "--file", envFile); err != nil {
			return EnvSetupRan, fmt.Errorf("%w: conda env update: %v", models.ErrEnvironment, err)
		}
		ran = true
	}

	reqFile := filepath.Join(t.dir, filepath.FromSlash(t.cfg.RequirementsFile))
	if _, err := os.Stat(reqFile); t.cfg.RequirementsFile != "" && err == nil {
		py := t.pythonExecutable()
		slog.Info("Installing build requirements",
			logfields.Path(t.cfg.RequirementsFile), slog.String("python", py))
		if err := t.run(ctx, py, "-m", "pip", "install", "--quiet", "-r", reqFile); err != nil {
			return EnvSetupRan, fmt.Errorf("%w: pip install: %v", models.ErrEnvironment, err)
		}
		ran = true
	}

	if !ran {
		return EnvSetupNoFiles, nil
	}
	return EnvSetupRan, nil
}

// pythonExecutable resolves the interpreter used for pip: the pinned
// python3.X when installed, otherwise python3, otherwise python.
func (t *Toolchain) pythonExecutable() string {
	if t.cfg.PythonVersion != "" {
		pinned := "python" + t.cfg.PythonVersion
		if _, err := exec.LookPath(pinned); err == nil {
			return pinned
		}
	}
	if _, err := exec.LookPath("python3"); err == nil {
		return "python3"
	}
	return "python"
}

// RunBuild executes the configured build command with the configured timeout.
func (t *Toolchain) RunBuild(ctx context.Context) error {
	if !shouldRunBuild() {
		slog.Info("Build command skipped via DOCPAGES_SKIP_SPHINX")
		return nil
	}

	timeout := config.ParseDurationDefault(t.cfg.Timeout, 20*time.Minute)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := t.cfg.Command
	if command == "" {
		command = config.DefaultBuildCommand
	}

	slog.Info("Running documentation build", slog.String("command", command))
	// The command is a shell line from config (make targets, sphinx-build
	// invocations with flags), so it runs through sh.
	if err := t.runShell(ctx, command); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: timed out after %s", models.ErrBuild, timeout)
		}
		return fmt.Errorf("%w: %v", models.ErrBuild, err)
	}
	return nil
}

// VerifyOutput checks the rendered tree for a site entry point and counts the
// HTML pages produced.
func (t *Toolchain) VerifyOutput(outputDir string) (int, error) {
	root := filepath.Join(t.dir, filepath.FromSlash(outputDir))

	if _, err := os.Stat(filepath.Join(root, "index.html")); err != nil {
		return 0, fmt.Errorf("%w: missing index.html under %s", models.ErrOutput, outputDir)
	}

	pages := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".html") {
			pages++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: walk output: %v", models.ErrOutput, err)
	}
	return pages, nil
}

func (t *Toolchain) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = t.workingDir()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = t.commandEnv()
	return cmd.Run()
}

func (t *Toolchain) runShell(ctx context.Context, line string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Dir = t.workingDir()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = t.commandEnv()
	return cmd.Run()
}

func (t *Toolchain) workingDir() string {
	if t.cfg.WorkingDir != "" {
		return filepath.Join(t.dir, filepath.FromSlash(t.cfg.WorkingDir))
	}
	return t.dir
}

func (t *Toolchain) commandEnv() []string {
	env := os.Environ()
	if t.cfg.PythonVersion != "" {
		env = append(env, "DOCPAGES_PYTHON_VERSION="+t.cfg.PythonVersion)
	}
	return env
}
