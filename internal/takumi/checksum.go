package takumi

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"lukechampine.com/blake3"
)

// hashFile computes the BLAKE3 digest of a file, showing a progress bar on a
// TTY. Toolchain archives run to hundreds of megabytes, so silent hashing
// looks like a hang.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)

	var w io.Writer = h
	if term.IsTerminal(int(os.Stdout.Fd())) && !Debug {
		st, err := f.Stat()
		if err == nil {
			bar := progressbar.NewOptions64(st.Size(),
				progressbar.OptionSetDescription("verifying "+filepath.Base(path)),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
			w = io.MultiWriter(h, bar)
		}
	}

	if _, err := io.Copy(w, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// verifyChecksum compares a fetched archive against the expected BLAKE3
// digest. An empty expectation skips verification; components without pinned
// checksums are accepted as-is.
func verifyChecksum(path, expected string) error {
	if expected == "" {
		return nil
	}
	got, err := hashFile(path)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", filepath.Base(path), expected, got)
	}
	debugf("Checksum ok: %s\n", path)
	return nil
}
