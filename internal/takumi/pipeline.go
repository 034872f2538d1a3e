package takumi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// NodeState is the runtime execution state of one component-stage pair.
type NodeState string

const (
	NodePending NodeState = "PENDING"
	NodeRunning NodeState = "RUNNING"
	NodeDone    NodeState = "DONE"
	NodeFailed  NodeState = "FAILED"
)

// Pipeline drives the ordered component-stage plan. A single logical thread
// of control: stages run strictly sequentially because later stages consume
// the artifacts of earlier ones; parallelism lives inside the external make
// processes via the resolved job count.
type Pipeline struct {
	Store      StageStore
	Runner     CommandRunner
	RootRunner CommandRunner // escalated runner for the install retry; may be nil
	Env        *EnvConfig
	Topo       Topology
	Components map[string]*Component
	Packager   *Packager
	Fetcher    *Fetcher
	Unpacker   *Unpacker
	Patcher    *PatchApplicator
	Subversion string

	// State is per-node, keyed by node ID, rebuilt on every Run call.
	State map[string]NodeState
}

// NewPipeline wires the default collaborators around a stage store and
// command runner. Tests swap in MemStageStore and fake runners.
func NewPipeline(ctx context.Context, cfg *Config, env *EnvConfig, topo Topology, store StageStore) *Pipeline {
	user := NewExecutor(ctx)
	root := NewExecutor(ctx)
	root.ShouldRunAsRoot = true

	sub := cfg.Values["TAKUMI_SUBVERSION"]
	if sub == "" {
		sub = "-1"
	}

	return &Pipeline{
		Store:      store,
		Runner:     user,
		RootRunner: root,
		Env:        env,
		Topo:       topo,
		Components: DefaultComponents(cfg, topo),
		Packager:   &Packager{RepoDir: env.RepoDir, Archiver: &TarArchiver{Runner: user}},
		Fetcher:    &Fetcher{Runner: user},
		Unpacker:   &Unpacker{Runner: user},
		Patcher:    &PatchApplicator{Runner: user, PatchesDir: env.PatchesDir},
		Subversion: sub,
	}
}

// Run executes the plan in topological order, consulting the stage store
// before and after every store-guarded node. The first failure aborts the
// whole run; completed markers stay valid for the next invocation.
func (p *Pipeline) Run(plan []*StageNode) error {
	sorted, err := sortPlan(plan)
	if err != nil {
		return err
	}

	p.State = make(map[string]NodeState, len(sorted))
	for _, n := range sorted {
		p.State[n.ID()] = NodePending
	}

	for _, n := range sorted {
		// Marker present: PENDING -> DONE without invoking anything.
		if n.Scope != "" && p.Store.Completed(n.Scope, n.Stage) {
			debugf("Skipping %s (already completed)\n", n.ID())
			p.State[n.ID()] = NodeDone
			continue
		}

		p.State[n.ID()] = NodeRunning
		if n.Scope != "" {
			colArrow.Print("-> ")
			colSuccess.Printf("Running %s\n", n.ID())
		}

		var runErr error
		if n.Install {
			runErr = p.runWithEscalation(n)
		} else {
			runErr = n.Run(p, p.Runner)
		}
		if runErr != nil {
			p.State[n.ID()] = NodeFailed
			var se *StageError
			if errors.As(runErr, &se) {
				return runErr
			}
			return &StageError{
				Component: n.Component,
				Stage:     n.Stage,
				Scope:     n.Scope,
				ExitCode:  exitCodeOf(runErr),
				Err:       runErr,
			}
		}

		// Marking happens only after the external process reported success.
		if n.Scope != "" {
			if err := p.Store.MarkCompleted(n.Scope, n.Stage); err != nil {
				p.State[n.ID()] = NodeFailed
				return err
			}
		}
		p.State[n.ID()] = NodeDone
	}

	return nil
}

// runWithEscalation is the degraded-mode install retry: a plain attempt
// first, and only when that fails on a permission error, one retry through
// the escalated runner. Non-permission failures are surfaced untouched so
// escalation never masks a real build problem.
func (p *Pipeline) runWithEscalation(n *StageNode) error {
	err := n.Run(p, p.Runner)
	if err == nil {
		return nil
	}
	if !isPermissionError(err) {
		return err
	}

	if p.RootRunner == nil {
		return fmt.Errorf("%w: %s needs elevated privileges and no escalation path is available: %v",
			ErrPrivilegeEscalation, n.ID(), err)
	}

	colArrow.Print("-> ")
	colWarn.Printf("Install of %s hit a permission error, retrying with elevated privileges\n", n.Component)

	if err2 := n.Run(p, p.RootRunner); err2 != nil {
		return fmt.Errorf("%w: escalated install of %s also failed: %v", ErrPrivilegeEscalation, n.ID(), err2)
	}
	return nil
}

// isPermissionError recognizes a failure caused by missing write access, from
// either the Go error chain or the tool's captured output.
func isPermissionError(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Permission denied") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "Operation not permitted")
}
