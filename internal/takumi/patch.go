package takumi

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// patchedMarker is deliberately separate from the StageStore: patches must
// run exactly once per unpacked tree, even if the build stages are later
// reconfigured or their markers removed.
const patchedMarker = ".takumi_patched"

// PatchApplicator applies local unified diffs to an unpacked source tree.
type PatchApplicator struct {
	Runner     CommandRunner
	PatchesDir string
}

// Apply looks for patch files named after the component directory and applies
// them in lexical order at strip level 1. A second call is a no-op. Any
// failing patch aborts the run; the tree must then be deleted and re-unpacked,
// no rollback is attempted.
func (p *PatchApplicator) Apply(componentDir string) error {
	marker := filepath.Join(componentDir, patchedMarker)
	if _, err := os.Stat(marker); err == nil {
		debugf("Patches already applied in %s\n", componentDir)
		return nil
	}

	patches, err := p.discover(filepath.Base(componentDir))
	if err != nil {
		return err
	}
	if len(patches) == 0 {
		debugf("No patches for %s\n", filepath.Base(componentDir))
		return p.writeMarker(marker)
	}

	for _, patch := range patches {
		colArrow.Print("-> ")
		colSuccess.Printf("Applying patch %s\n", filepath.Base(patch))

		cmd := exec.Command("patch", "-p1", "-i", patch)
		cmd.Dir = componentDir
		if err := p.Runner.Run(cmd); err != nil {
			return fmt.Errorf("%w: %s did not apply in %s: %v",
				ErrPatchFailed, filepath.Base(patch), componentDir, err)
		}
	}

	return p.writeMarker(marker)
}

// discover collects <dir name>*.patch and <dir name>*.diff files, sorted.
func (p *PatchApplicator) discover(dirName string) ([]string, error) {
	if p.PatchesDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(p.PatchesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: cannot read patches directory %s: %v", ErrPatchFailed, p.PatchesDir, err)
	}

	var patches []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, dirName) {
			continue
		}
		if strings.HasSuffix(name, ".patch") || strings.HasSuffix(name, ".diff") {
			patches = append(patches, filepath.Join(p.PatchesDir, name))
		}
	}
	sort.Strings(patches)
	return patches, nil
}

func (p *PatchApplicator) writeMarker(marker string) error {
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to record patch completion %s: %w", marker, err)
	}
	return f.Close()
}
