package takumi

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestFetchSkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	name := "alpha-1.0.tar.gz"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("tarball"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &fakeRunner{}
	f := &Fetcher{Runner: r, Quiet: true}

	got, err := f.Fetch("https://example.org/"+name, dir, name)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != filepath.Join(dir, name) {
		t.Errorf("Fetch returned %s", got)
	}
	if len(r.calls) != 0 {
		t.Errorf("present file still triggered downloads: %v", r.commandNames())
	}
}

func TestFetchInvokesDownloaderOnce(t *testing.T) {
	if _, err := exec.LookPath("curl"); err != nil {
		if _, err := exec.LookPath("wget"); err != nil {
			t.Skip("neither curl nor wget installed")
		}
	}

	dir := t.TempDir()
	name := "alpha-1.0.tar.gz"
	dest := filepath.Join(dir, name)

	r := &fakeRunner{handler: func(cmd *exec.Cmd) error {
		// Simulate the tool writing the output file named by -o / -O.
		for i, a := range cmd.Args {
			if (a == "-o" || a == "-O") && i+1 < len(cmd.Args) {
				return os.WriteFile(cmd.Args[i+1], []byte("tarball"), 0o644)
			}
		}
		t.Errorf("download command has no output flag: %v", cmd.Args)
		return nil
	}}
	f := &Fetcher{Runner: r, Quiet: true}

	got, err := f.Fetch("https://example.org/"+name, dir, name)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != dest {
		t.Errorf("Fetch returned %s, want %s", got, dest)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected one download invocation, got %v", r.commandNames())
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("downloaded file missing: %v", err)
	}
	if _, err := os.Stat(dest + ".lock"); err == nil {
		t.Error("lock file left behind after a successful fetch")
	}

	// A second fetch is a no-op.
	r.calls = nil
	if _, err := f.Fetch("https://example.org/"+name, dir, name); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("refetch hit the network: %v", r.commandNames())
	}
}
