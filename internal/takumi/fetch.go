package takumi

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Fetcher retrieves component archives into the build directory. Download
// tools are tried in priority order; both curl and wget are invoked with
// their resume flags so an interrupted multi-hundred-megabyte download is
// continued, not restarted.
type Fetcher struct {
	Runner CommandRunner
	Quiet  bool
}

// Fetch downloads url into destDir under the given filename and returns the
// local path. Idempotent: an already-present file is returned untouched,
// with no network traffic.
func (f *Fetcher) Fetch(url, destDir, filename string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory %s: %w", destDir, err)
	}
	absPath := filepath.Join(destDir, filename)

	if _, err := os.Stat(absPath); err == nil {
		debugf("Already fetched: %s\n", absPath)
		return absPath, nil
	}

	// Lock file guards against a concurrent prefetch writing the same path.
	lockPath := absPath + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return "", fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return "", fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Double check: the file may have appeared while we waited for the lock.
	if _, err := os.Stat(absPath); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", absPath)
		_ = os.Remove(lockPath)
		return absPath, nil
	}

	defer func() {
		if _, err := os.Stat(absPath); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	if !f.Quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Fetching %s\n", filename)
	}
	debugf("Downloading %s -> %s\n", url, absPath)

	// --- Primary choice: curl ---
	if _, err := exec.LookPath("curl"); err == nil {
		args := []string{"-L", "--fail", "-C", "-", "-o", absPath}
		if f.Quiet {
			args = append(args, "-sS")
		} else {
			args = append(args, "-#")
		}
		args = append(args, url)
		cmd := exec.Command("curl", args...)
		f.wireOutput(cmd)
		if err := f.Runner.Run(cmd); err != nil {
			// A stale partial file would poison the next resume attempt.
			_ = os.Remove(absPath)
			return "", fmt.Errorf("%w: curl could not retrieve %s: %v", ErrDownloadFailed, url, err)
		}
		debugf("Download successful with curl.\n")
		return absPath, nil
	}
	debugf("curl not found, trying wget\n")

	// --- Fallback: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		args := []string{"-c", "-O", absPath}
		if f.Quiet {
			args = append([]string{"-q"}, args...)
		} else {
			args = append([]string{"-nv"}, args...)
		}
		args = append(args, url)
		cmd := exec.Command("wget", args...)
		f.wireOutput(cmd)
		if err := f.Runner.Run(cmd); err != nil {
			_ = os.Remove(absPath)
			return "", fmt.Errorf("%w: wget could not retrieve %s: %v", ErrDownloadFailed, url, err)
		}
		debugf("Download successful with wget.\n")
		return absPath, nil
	}

	return "", ErrDownloadUnavailable
}

func (f *Fetcher) wireOutput(cmd *exec.Cmd) {
	if f.Quiet && !Debug {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
}
