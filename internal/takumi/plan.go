package takumi

import (
	"fmt"
)

// StepFunc performs the external work of one node using the given runner.
type StepFunc func(p *Pipeline, r CommandRunner) error

// StageNode is one vertex in the component-stage graph. Nodes with a Scope
// are guarded by the stage store; nodes without one (source preparation) are
// internally idempotent and always re-entered.
type StageNode struct {
	Component string // pipeline-unique component name, e.g. "gcc-bootstrap"
	Stage     string
	Scope     string // marker scope; empty means not store-guarded
	Deps      []string
	Run       StepFunc
	Install   bool // privilege-escalation retry applies to this node
}

// ID returns the node's unique identifier.
func (n *StageNode) ID() string { return n.Component + "/" + n.Stage }

// sortPlan topologically sorts the plan, keeping declaration order among
// ready nodes so a fixed topology always yields the same stage sequence.
func sortPlan(plan []*StageNode) ([]*StageNode, error) {
	index := make(map[string]int, len(plan))
	for i, n := range plan {
		if _, dup := index[n.ID()]; dup {
			return nil, fmt.Errorf("duplicate stage node %q", n.ID())
		}
		index[n.ID()] = i
	}

	indegree := make([]int, len(plan))
	dependents := make([][]int, len(plan))
	for i, n := range plan {
		for _, dep := range n.Deps {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("stage node %q depends on unknown node %q", n.ID(), dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	// Kahn's algorithm with a declaration-ordered frontier.
	var ready []int
	for i := range plan {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	sorted := make([]*StageNode, 0, len(plan))
	for len(ready) > 0 {
		// pick the smallest declaration index for determinism
		minIdx := 0
		for k := 1; k < len(ready); k++ {
			if ready[k] < ready[minIdx] {
				minIdx = k
			}
		}
		i := ready[minIdx]
		ready = append(ready[:minIdx], ready[minIdx+1:]...)

		sorted = append(sorted, plan[i])
		for _, dep := range dependents[i] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(sorted) != len(plan) {
		return nil, fmt.Errorf("stage graph contains a dependency cycle")
	}
	return sorted, nil
}

// BuildPlan assembles the component-stage graph for the resolved topology.
// The canadian-cross branch is a different graph, not duplicated control
// flow: it prepends the intermediate bootstrap chain and replaces the
// in-place gcc finish with a second discrete build tree.
func (p *Pipeline) BuildPlan(withGDB bool) []*StageNode {
	if p.Topo.CanadianCross {
		return p.canadianPlan(withGDB)
	}
	return p.standardPlan(withGDB)
}

func (p *Pipeline) standardPlan(withGDB bool) []*StageNode {
	var plan []*StageNode

	plan = append(plan, p.prepNode("binutils"))
	plan = append(plan, p.binutilsNodes("binutils", "", p.Env.Prefix, false, true,
		"binutils/prepared")...)

	plan = append(plan, p.prepGCCNode())
	plan = append(plan, p.gccStage1Nodes("gcc", "", p.Env.Prefix, false, true,
		"gcc/prepared", "binutils/"+StageInstalled)...)

	plan = append(plan, p.prepNode("newlib"))
	plan = append(plan, p.newlibNodes("newlib", p.Env.Prefix,
		"newlib/prepared", "gcc/"+StageInstalled)...)

	// Finish phase: complete all target libraries in place with the
	// stage-1 compiler and the freshly built newlib.
	scope := p.Components["gcc"].BuildScope(p.Env.BuildDir, "")
	plan = append(plan,
		&StageNode{
			Component: "gcc", Stage: StageGCCFinished, Scope: scope,
			Deps: []string{"newlib/" + StageInstalled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.makeTargets(r, scope, "all")
			},
		},
		&StageNode{
			Component: "gcc", Stage: StageFinalInstalled, Scope: scope, Install: true,
			Deps: []string{"gcc/" + StageGCCFinished},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.installStep(r, "gcc", scope, p.Env.Prefix, []string{"install"})
			},
		},
		&StageNode{
			Component: "gcc", Stage: StageFinalPackaged, Scope: scope,
			Deps: []string{"gcc/" + StageFinalInstalled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.packageStep("gcc", p.Components["gcc"])
			},
		},
	)

	if withGDB {
		plan = append(plan, p.prepNode("gdb"))
		plan = append(plan, p.gdbNodes(p.Env.Prefix,
			"gdb/prepared", "binutils/"+StageInstalled)...)
	}
	return plan
}

func (p *Pipeline) canadianPlan(withGDB bool) []*StageNode {
	var plan []*StageNode

	// Intermediate bootstrap chain: build-hosted cross tools into the
	// intermediate prefix. Never packaged; discarded after the run.
	plan = append(plan, p.prepNode("binutils"))
	plan = append(plan, p.binutilsNodes("binutils-bootstrap", "bootstrap", p.Env.Intermediate,
		false, false, "binutils/prepared")...)

	plan = append(plan, p.prepGCCNode())
	plan = append(plan, p.gccStage1Nodes("gcc-bootstrap", "bootstrap", p.Env.Intermediate,
		false, false, "gcc/prepared", "binutils-bootstrap/"+StageInstalled)...)

	// Target runtime library, compiled with the bootstrap cross compiler.
	plan = append(plan, p.prepNode("newlib"))
	plan = append(plan, p.newlibNodes("newlib", p.Env.Prefix,
		"newlib/prepared", "gcc-bootstrap/"+StageInstalled)...)

	// Host-targeting final components. The bootstrap compiler must be DONE
	// before any of these starts.
	plan = append(plan, p.binutilsNodes("binutils", "", p.Env.Prefix, true, true,
		"binutils-bootstrap/"+StageInstalled)...)

	// Final gcc in a second discrete build tree.
	scope := p.Components["gcc"].BuildScope(p.Env.BuildDir, "final")
	plan = append(plan,
		&StageNode{
			Component: "gcc-final", Stage: StageConfigured, Scope: scope,
			Deps: []string{"newlib/" + StageInstalled, "binutils/" + StageInstalled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.configureGCC(r, scope, p.Env.Prefix, true)
			},
		},
		&StageNode{
			Component: "gcc-final", Stage: StageCompiled, Scope: scope,
			Deps: []string{"gcc-final/" + StageConfigured},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.makeTargets(r, scope, "all")
			},
		},
		&StageNode{
			Component: "gcc-final", Stage: StageInstalled, Scope: scope, Install: true,
			Deps: []string{"gcc-final/" + StageCompiled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.installStep(r, "gcc", scope, p.Env.Prefix, []string{"install"})
			},
		},
		&StageNode{
			Component: "gcc-final", Stage: StagePackaged, Scope: scope,
			Deps: []string{"gcc-final/" + StageInstalled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.packageStep("gcc", p.Components["gcc"])
			},
		},
	)

	if withGDB {
		plan = append(plan, p.prepNode("gdb"))
		plan = append(plan, p.gdbNodes(p.Env.Prefix,
			"gdb/prepared", "binutils/"+StageInstalled)...)
	}
	return plan
}

// prepNode fetches, verifies, unpacks and patches one component's sources.
// Each sub-step is self-idempotent, so a re-run touches nothing.
func (p *Pipeline) prepNode(name string) *StageNode {
	return &StageNode{
		Component: name, Stage: "prepared",
		Run: func(p *Pipeline, r CommandRunner) error {
			return p.prepareSource(p.Components[name])
		},
	}
}

// prepGCCNode prepares gcc plus the arithmetic libraries, which are folded
// into the gcc source tree and built in-tree.
func (p *Pipeline) prepGCCNode() *StageNode {
	return &StageNode{
		Component: "gcc", Stage: "prepared",
		Run: func(p *Pipeline, r CommandRunner) error {
			return p.prepareGCCSource()
		},
	}
}

func (p *Pipeline) binutilsNodes(nodeName, scopeSuffix, prefix string, hosted, packaged bool, deps ...string) []*StageNode {
	comp := p.Components["binutils"]
	scope := comp.BuildScope(p.Env.BuildDir, scopeSuffix)

	nodes := []*StageNode{
		{
			Component: nodeName, Stage: StageConfigured, Scope: scope, Deps: deps,
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.configureBinutils(r, scope, prefix, hosted)
			},
		},
		{
			Component: nodeName, Stage: StageCompiled, Scope: scope,
			Deps: []string{nodeName + "/" + StageConfigured},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.makeTargets(r, scope, "all")
			},
		},
		{
			Component: nodeName, Stage: StageInstalled, Scope: scope, Install: true,
			Deps: []string{nodeName + "/" + StageCompiled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.installStep(r, nodeName, scope, prefix, []string{"install"})
			},
		},
	}
	if packaged {
		nodes = append(nodes, &StageNode{
			Component: nodeName, Stage: StagePackaged, Scope: scope,
			Deps: []string{nodeName + "/" + StageInstalled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.packageStep(nodeName, comp)
			},
		})
	}
	return nodes
}

func (p *Pipeline) gccStage1Nodes(nodeName, scopeSuffix, prefix string, hosted, packaged bool, deps ...string) []*StageNode {
	comp := p.Components["gcc"]
	scope := comp.BuildScope(p.Env.BuildDir, scopeSuffix)

	nodes := []*StageNode{
		{
			Component: nodeName, Stage: StageConfigured, Scope: scope, Deps: deps,
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.configureGCC(r, scope, prefix, hosted)
			},
		},
		{
			Component: nodeName, Stage: StageGCCCompiled, Scope: scope,
			Deps: []string{nodeName + "/" + StageConfigured},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.makeTargets(r, scope, "all-gcc")
			},
		},
		{
			Component: nodeName, Stage: StageLibgccCompiled, Scope: scope,
			Deps: []string{nodeName + "/" + StageGCCCompiled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.makeTargets(r, scope, "all-target-libgcc")
			},
		},
		{
			Component: nodeName, Stage: StageInstalled, Scope: scope, Install: true,
			Deps: []string{nodeName + "/" + StageLibgccCompiled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.installStep(r, nodeName, scope, prefix,
					[]string{"install-gcc", "install-target-libgcc"})
			},
		},
	}
	if packaged {
		nodes = append(nodes, &StageNode{
			Component: nodeName, Stage: StagePackaged, Scope: scope,
			Deps: []string{nodeName + "/" + StageInstalled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.packageStep(nodeName, comp)
			},
		})
	}
	return nodes
}

func (p *Pipeline) newlibNodes(nodeName, prefix string, deps ...string) []*StageNode {
	comp := p.Components["newlib"]
	scope := comp.BuildScope(p.Env.BuildDir, "")

	return []*StageNode{
		{
			Component: nodeName, Stage: StageConfigured, Scope: scope, Deps: deps,
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.configureNewlib(r, scope, prefix)
			},
		},
		{
			Component: nodeName, Stage: StageCompiled, Scope: scope,
			Deps: []string{nodeName + "/" + StageConfigured},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.makeTargets(r, scope, "all")
			},
		},
		{
			Component: nodeName, Stage: StageInstalled, Scope: scope, Install: true,
			Deps: []string{nodeName + "/" + StageCompiled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.installStep(r, nodeName, scope, prefix, []string{"install"})
			},
		},
		{
			Component: nodeName, Stage: StagePackaged, Scope: scope,
			Deps: []string{nodeName + "/" + StageInstalled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.packageStep(nodeName, comp)
			},
		},
	}
}

func (p *Pipeline) gdbNodes(prefix string, deps ...string) []*StageNode {
	comp := p.Components["gdb"]
	scope := comp.BuildScope(p.Env.BuildDir, "")

	return []*StageNode{
		{
			Component: "gdb", Stage: StageConfigured, Scope: scope, Deps: deps,
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.configureGDB(r, scope, prefix)
			},
		},
		{
			Component: "gdb", Stage: StageCompiled, Scope: scope,
			Deps: []string{"gdb/" + StageConfigured},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.makeTargets(r, scope, "all")
			},
		},
		{
			Component: "gdb", Stage: StageInstalled, Scope: scope, Install: true,
			Deps: []string{"gdb/" + StageCompiled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.installStep(r, "gdb", scope, prefix, []string{"install"})
			},
		},
		{
			Component: "gdb", Stage: StagePackaged, Scope: scope,
			Deps: []string{"gdb/" + StageInstalled},
			Run: func(p *Pipeline, r CommandRunner) error {
				return p.packageStep("gdb", comp)
			},
		},
	}
}
