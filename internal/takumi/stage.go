package takumi

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Stage names form a small closed set per component. The gcc variants exist
// because gcc is compiled in several passes inside one build tree.
const (
	StageConfigured     = "configured"
	StageCompiled       = "compiled"
	StageInstalled      = "installed"
	StagePackaged       = "packaged"
	StageGCCCompiled    = "gcc_compiled"
	StageLibgccCompiled = "libgcc_compiled"
	StageGCCFinished    = "gcc_finished"
	StageFinalInstalled = "final_installed"
	StageFinalPackaged  = "final_packaged"
)

// StageStore is the idempotency substrate: a durable boolean fact per
// (working directory, stage name) pair. Markers are never cleared by the
// orchestrator; only a human deleting them forces re-execution.
type StageStore interface {
	// Completed reports whether the stage already ran to success in scope.
	// Checking is side-effect free.
	Completed(scope, stage string) bool
	// MarkCompleted records success. Only called after the guarded external
	// process exited with status zero.
	MarkCompleted(scope, stage string) error
}

// DirStageStore keeps markers as dotfiles inside the working directory
// itself, so run state is reconstructed purely by filesystem inspection and
// survives crashes without a central state file.
type DirStageStore struct{}

func (DirStageStore) markerPath(scope, stage string) string {
	return filepath.Join(scope, "."+stage)
}

func (s DirStageStore) Completed(scope, stage string) bool {
	_, err := os.Stat(s.markerPath(scope, stage))
	return err == nil
}

func (s DirStageStore) MarkCompleted(scope, stage string) error {
	if err := os.MkdirAll(scope, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory %s: %w", scope, err)
	}
	path := s.markerPath(scope, stage)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write stage marker %s: %w", path, err)
	}
	return f.Close()
}

// Markers lists the completed stages recorded in scope, sorted. Used by the
// status command.
func (s DirStageStore) Markers(scope string) []string {
	entries, err := os.ReadDir(scope)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, ".") {
			out = append(out, strings.TrimPrefix(name, "."))
		}
	}
	sort.Strings(out)
	return out
}

// MemStageStore is the in-memory implementation used to unit test the
// pipeline executor without touching disk.
type MemStageStore struct {
	done map[string]struct{}
}

func NewMemStageStore() *MemStageStore {
	return &MemStageStore{done: make(map[string]struct{})}
}

func (s *MemStageStore) key(scope, stage string) string { return scope + "\x00" + stage }

func (s *MemStageStore) Completed(scope, stage string) bool {
	_, ok := s.done[s.key(scope, stage)]
	return ok
}

func (s *MemStageStore) MarkCompleted(scope, stage string) error {
	s.done[s.key(scope, stage)] = struct{}{}
	return nil
}
