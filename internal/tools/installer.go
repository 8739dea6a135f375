// Package tools provides the wg and wg-quick executables to the privileged
// shell. They are copied into a private binary directory that the shell puts
// first on its PATH, and can optionally be installed system-wide.
package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"grimm.is/wgtunnel/internal/logging"

	"golang.org/x/sys/unix"
)

// Executables are the tools wg-quick tunnels need.
var Executables = []string{"wg", "wg-quick"}

// InstallDirs are the system directories tools may be installed into, in
// order of preference. Only one that is on PATH is used.
var InstallDirs = []string{"/usr/local/bin", "/usr/bin"}

// ErrUnavailable is returned when the tools cannot be provided.
var ErrUnavailable = errors.New("the wg and wg-quick tools are not available")

// Status describes the system-wide installation.
type Status int

const (
	StatusError  Status = 0x0
	StatusYes    Status = 0x1
	StatusNo     Status = 0x2
	StatusSystem Status = 0x8
)

func (s Status) String() string {
	switch {
	case s == StatusError:
		return "unknown"
	case s&StatusYes != 0:
		return "installed"
	case s&StatusNo != 0:
		return "not installed"
	}
	return "unknown"
}

// Shell runs commands with elevated privilege.
type Shell interface {
	Run(ctx context.Context, output *[]string, command string) (int, error)
}

// Installer extracts and installs the tools.
type Installer struct {
	binDir     string
	installDir string
	shell      Shell
	logger     *logging.Logger
	// Locate finds the source file of a tool; exec.LookPath by default.
	Locate func(name string) (string, error)

	mu        sync.Mutex
	available *bool
}

// New returns an installer extracting into binDir. The system install
// directory is chosen from InstallDirs against the PATH of this process.
func New(binDir string, shell Shell, logger *logging.Logger) *Installer {
	if logger == nil {
		logger = logging.WithComponent("tools")
	}
	return &Installer{
		binDir:     binDir,
		installDir: findInstallDir(os.Getenv("PATH")),
		shell:      shell,
		logger:     logger,
		Locate:     exec.LookPath,
	}
}

// FromDir locates tools in dir instead of on PATH.
func FromDir(dir string) func(string) (string, error) {
	return func(name string) (string, error) {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
}

func findInstallDir(path string) string {
	if path == "" {
		return InstallDirs[0]
	}
	paths := filepath.SplitList(path)
	for _, dir := range InstallDirs {
		if !slices.Contains(paths, dir) {
			continue
		}
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	return ""
}

// InstallDir is the chosen system directory, or "" if there is none.
func (i *Installer) InstallDir() string { return i.installDir }

// Extract copies every tool into the binary directory. It reports false if
// they were all already present.
func (i *Installer) Extract() (bool, error) {
	if err := os.MkdirAll(i.binDir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", i.binDir, err)
	}
	allExist := true
	for _, name := range Executables {
		if _, err := os.Stat(filepath.Join(i.binDir, name)); err != nil {
			allExist = false
		}
	}
	if allExist {
		return false, nil
	}
	for _, name := range Executables {
		src, err := i.Locate(name)
		if err != nil {
			return false, fmt.Errorf("unable to find %s: %w", name, err)
		}
		dst := filepath.Join(i.binDir, name)
		tmp := dst + ".tmp"
		if err := copyFile(src, tmp); err != nil {
			return false, err
		}
		if err := os.Chmod(tmp, 0o755); err != nil {
			return false, fmt.Errorf("unable to mark %s as executable: %w", tmp, err)
		}
		if err := os.Rename(tmp, dst); err != nil {
			return false, fmt.Errorf("unable to rename %s to %s: %w", tmp, dst, err)
		}
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// EnsureToolsAvailable extracts the tools once. The outcome is remembered,
// so a failure is not retried.
func (i *Installer) EnsureToolsAvailable(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.available == nil {
		extracted, err := i.Extract()
		ok := err == nil
		i.available = &ok
		switch {
		case err != nil:
			i.logger.Error("The wg and wg-quick tools are not available", "error", err)
		case extracted:
			i.logger.Debug("Tools are now extracted into the private binary directory")
		default:
			i.logger.Debug("Tools were already extracted into the private binary directory")
		}
	}
	if !*i.available {
		return ErrUnavailable
	}
	return nil
}

// AreInstalled compares the extracted tools with the system-wide copies.
func (i *Installer) AreInstalled(ctx context.Context) Status {
	if i.installDir == "" {
		return StatusError
	}
	var script strings.Builder
	for _, name := range Executables {
		fmt.Fprintf(&script, "cmp -s '%s' '%s' && ", filepath.Join(i.binDir, name), filepath.Join(i.installDir, name))
	}
	fmt.Fprintf(&script, "exit %d;", int(unix.EALREADY))

	code, err := i.shell.Run(ctx, nil, script.String())
	if err != nil {
		i.logger.Debug("Unable to compare installed tools", "error", err)
		return StatusError
	}
	if code == int(unix.EALREADY) {
		return StatusYes | StatusSystem
	}
	return StatusNo | StatusSystem
}

// Install copies the tools into the system directory.
func (i *Installer) Install(ctx context.Context) (Status, error) {
	if i.installDir == "" {
		return StatusError, fmt.Errorf("no install directory on PATH: %w", os.ErrNotExist)
	}
	if _, err := i.Extract(); err != nil {
		return StatusError, err
	}
	var script strings.Builder
	script.WriteString("set -ex; ")
	for _, name := range Executables {
		src := filepath.Join(i.binDir, name)
		dst := filepath.Join(i.installDir, name)
		fmt.Fprintf(&script, "cp '%s' '%s'; chmod 755 '%s'; ", src, dst, dst)
	}
	code, err := i.shell.Run(ctx, nil, script.String())
	if err != nil {
		return StatusError, err
	}
	if code != 0 {
		return StatusError, fmt.Errorf("install script exited with status %d", code)
	}
	i.logger.Info("Tools installed", "dir", i.installDir)
	return StatusYes | StatusSystem, nil
}
