package takumi

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// fakeRunner records every command and delegates behavior to an optional
// handler, so pipeline logic is tested without spawning processes.
type fakeRunner struct {
	calls   [][]string
	handler func(cmd *exec.Cmd) error
}

func (f *fakeRunner) Run(cmd *exec.Cmd) error {
	f.calls = append(f.calls, append([]string(nil), cmd.Args...))
	if f.handler != nil {
		return f.handler(cmd)
	}
	return nil
}

func (f *fakeRunner) Capture(cmd *exec.Cmd) (CommandResult, error) {
	err := f.Run(cmd)
	if err != nil {
		return CommandResult{ExitCode: 1, Output: err.Error()}, err
	}
	return CommandResult{}, nil
}

func (f *fakeRunner) commandNames() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c[0])
	}
	return out
}

func testPipeline(store StageStore, runner CommandRunner) *Pipeline {
	return &Pipeline{
		Store:  store,
		Runner: runner,
		Env:    &EnvConfig{Jobs: 2, BuildDir: "/build", Prefix: "/opt/tc", StagingDir: "/build/tmpinst", RootDir: "/"},
		Topo:   Topology{Build: "x86_64-linux-gnu", Host: "x86_64-linux-gnu", Target: "arm-none-eabi"},
		State:  nil,
	}
}

func stepNode(component, stage, scope string, ran *[]string, fail error, deps ...string) *StageNode {
	return &StageNode{
		Component: component,
		Stage:     stage,
		Scope:     scope,
		Deps:      deps,
		Run: func(p *Pipeline, r CommandRunner) error {
			*ran = append(*ran, component+"/"+stage)
			return fail
		},
	}
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	store := NewMemStageStore()
	p := testPipeline(store, &fakeRunner{})

	var ran []string
	plan := []*StageNode{
		stepNode("alpha", StageConfigured, "wd", &ran, nil),
		stepNode("alpha", StageCompiled, "wd", &ran, nil, "alpha/configured"),
		stepNode("alpha", StageInstalled, "wd", &ran, nil, "alpha/compiled"),
		stepNode("alpha", StagePackaged, "wd", &ran, nil, "alpha/installed"),
	}

	if err := p.Run(plan); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"alpha/configured", "alpha/compiled", "alpha/installed", "alpha/packaged"}
	if strings.Join(ran, ",") != strings.Join(want, ",") {
		t.Fatalf("stages ran out of order: got %v, want %v", ran, want)
	}
	for _, stage := range []string{StageConfigured, StageCompiled, StageInstalled, StagePackaged} {
		if !store.Completed("wd", stage) {
			t.Errorf("stage %s not marked completed", stage)
		}
	}
	for id, st := range p.State {
		if st != NodeDone {
			t.Errorf("node %s in state %s, want DONE", id, st)
		}
	}
}

func TestPipelineSkipsCompletedStages(t *testing.T) {
	store := NewMemStageStore()
	store.MarkCompleted("wd", StageConfigured)
	store.MarkCompleted("wd", StageCompiled)

	p := testPipeline(store, &fakeRunner{})

	var ran []string
	plan := []*StageNode{
		stepNode("alpha", StageConfigured, "wd", &ran, nil),
		stepNode("alpha", StageCompiled, "wd", &ran, nil, "alpha/configured"),
		stepNode("alpha", StageInstalled, "wd", &ran, nil, "alpha/compiled"),
	}

	if err := p.Run(plan); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(ran) != 1 || ran[0] != "alpha/installed" {
		t.Fatalf("expected only the unfinished stage to run, got %v", ran)
	}
	if p.State["alpha/configured"] != NodeDone || p.State["alpha/compiled"] != NodeDone {
		t.Errorf("skipped stages should end DONE: %v", p.State)
	}
}

func TestPipelineIdempotentRerun(t *testing.T) {
	store := NewMemStageStore()
	p := testPipeline(store, &fakeRunner{})

	var ran []string
	mkPlan := func() []*StageNode {
		return []*StageNode{
			stepNode("alpha", StageConfigured, "wd", &ran, nil),
			stepNode("alpha", StageCompiled, "wd", &ran, nil, "alpha/configured"),
		}
	}

	if err := p.Run(mkPlan()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	ran = nil
	if err := p.Run(mkPlan()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(ran) != 0 {
		t.Fatalf("second run invoked %v, want nothing", ran)
	}
}

func TestPipelineFailureAbortsBeforeLaterStages(t *testing.T) {
	store := NewMemStageStore()
	p := testPipeline(store, &fakeRunner{})

	var ran []string
	boom := fmt.Errorf("compiler exploded")
	plan := []*StageNode{
		stepNode("alpha", StageConfigured, "wd", &ran, nil),
		stepNode("alpha", StageCompiled, "wd", &ran, boom, "alpha/configured"),
		stepNode("alpha", StageInstalled, "wd", &ran, nil, "alpha/compiled"),
	}

	err := p.Run(plan)
	if err == nil {
		t.Fatal("expected failure")
	}

	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %T: %v", err, err)
	}
	if se.Component != "alpha" || se.Stage != StageCompiled || se.Scope != "wd" {
		t.Errorf("StageError misidentifies the failure: %+v", se)
	}

	if store.Completed("wd", StageCompiled) {
		t.Error("failed stage must not be marked completed")
	}
	if !store.Completed("wd", StageConfigured) {
		t.Error("earlier completed stage lost its marker")
	}
	for _, r := range ran {
		if r == "alpha/installed" {
			t.Error("install ran after the compile failure")
		}
	}
	if p.State["alpha/compiled"] != NodeFailed {
		t.Errorf("failed node state = %s, want FAILED", p.State["alpha/compiled"])
	}
	if p.State["alpha/installed"] != NodePending {
		t.Errorf("downstream node state = %s, want PENDING", p.State["alpha/installed"])
	}
}

func TestPipelineResumesAfterInterruption(t *testing.T) {
	store := NewMemStageStore()
	p := testPipeline(store, &fakeRunner{})

	var ran []string
	interrupted := fmt.Errorf("killed")
	first := []*StageNode{
		stepNode("alpha", StageConfigured, "wd", &ran, nil),
		stepNode("alpha", StageCompiled, "wd", &ran, interrupted, "alpha/configured"),
	}
	if err := p.Run(first); err == nil {
		t.Fatal("expected the interrupted run to fail")
	}

	// Next invocation resumes at the first unmarked stage.
	ran = nil
	second := []*StageNode{
		stepNode("alpha", StageConfigured, "wd", &ran, nil),
		stepNode("alpha", StageCompiled, "wd", &ran, nil, "alpha/configured"),
		stepNode("alpha", StageInstalled, "wd", &ran, nil, "alpha/compiled"),
	}
	if err := p.Run(second); err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	want := []string{"alpha/compiled", "alpha/installed"}
	if strings.Join(ran, ",") != strings.Join(want, ",") {
		t.Fatalf("resume ran %v, want %v", ran, want)
	}
}

func TestInstallEscalatesOnPermissionError(t *testing.T) {
	store := NewMemStageStore()
	p := testPipeline(store, &fakeRunner{})

	rootRan := 0
	p.RootRunner = &fakeRunner{}

	attempts := 0
	node := &StageNode{
		Component: "alpha", Stage: StageInstalled, Scope: "wd", Install: true,
		Run: func(p *Pipeline, r CommandRunner) error {
			attempts++
			if r == p.RootRunner {
				rootRan++
				return nil
			}
			return fmt.Errorf("cp: cannot create directory '/opt/tc': Permission denied")
		},
	}

	if err := p.Run([]*StageNode{node}); err != nil {
		t.Fatalf("escalated install should succeed: %v", err)
	}
	if attempts != 2 || rootRan != 1 {
		t.Fatalf("expected plain attempt then escalated retry, got %d attempts (%d escalated)", attempts, rootRan)
	}
	if !store.Completed("wd", StageInstalled) {
		t.Error("install not marked after escalated success")
	}
}

func TestInstallDoesNotEscalateOnOtherFailures(t *testing.T) {
	store := NewMemStageStore()
	p := testPipeline(store, &fakeRunner{})
	p.RootRunner = &fakeRunner{}

	attempts := 0
	node := &StageNode{
		Component: "alpha", Stage: StageInstalled, Scope: "wd", Install: true,
		Run: func(p *Pipeline, r CommandRunner) error {
			attempts++
			return fmt.Errorf("make: *** No rule to make target 'install'")
		},
	}

	err := p.Run([]*StageNode{node})
	if err == nil {
		t.Fatal("expected failure")
	}
	if attempts != 1 {
		t.Fatalf("non-permission failure must not be retried, got %d attempts", attempts)
	}
	if errors.Is(err, ErrPrivilegeEscalation) {
		t.Error("non-permission failure must not be reported as an escalation failure")
	}
	if store.Completed("wd", StageInstalled) {
		t.Error("failed install must not be marked")
	}
}

func TestEscalationFailureIsTyped(t *testing.T) {
	store := NewMemStageStore()
	p := testPipeline(store, &fakeRunner{})
	p.RootRunner = &fakeRunner{}

	node := &StageNode{
		Component: "alpha", Stage: StageInstalled, Scope: "wd", Install: true,
		Run: func(p *Pipeline, r CommandRunner) error {
			return fmt.Errorf("install: Permission denied")
		},
	}

	err := p.Run([]*StageNode{node})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrPrivilegeEscalation) {
		t.Fatalf("expected ErrPrivilegeEscalation, got %v", err)
	}
}

func TestIsPermissionError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("cp: Permission denied"), true},
		{fmt.Errorf("mkdir: cannot create directory: permission denied"), true},
		{fmt.Errorf("chown: Operation not permitted"), true},
		{fmt.Errorf("wrapped: %w", os.ErrPermission), true},
		{fmt.Errorf("make: *** [all] Error 2"), false},
		{fmt.Errorf("No space left on device"), false},
	}
	for _, c := range cases {
		if got := isPermissionError(c.err); got != c.want {
			t.Errorf("isPermissionError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
