package takumi

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// setup resolves topology and environment from the configuration and wires a
// pipeline over the filesystem stage store.
func setup(ctx context.Context, cfg *Config) (*Pipeline, error) {
	target := cfg.Values["TAKUMI_TARGET"]
	if target == "" {
		target = "arm-none-eabi"
	}

	topo, err := ResolveTopology(cfg.Values["TAKUMI_BUILD"], cfg.Values["TAKUMI_HOST"], target)
	if err != nil {
		return nil, err
	}

	env, err := ResolveEnv(cfg, topo)
	if err != nil {
		return nil, err
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Topology: %s\n", topo)
	debugf("Jobs: %d, prefix: %s, build dir: %s\n", env.Jobs, env.Prefix, env.BuildDir)

	return NewPipeline(ctx, cfg, env, topo, DirStageStore{}), nil
}

// RunBuild drives the whole pipeline: fetch, unpack, patch, configure,
// compile, install and package every component the topology calls for.
func RunBuild(ctx context.Context, cfg *Config) error {
	p, err := setup(ctx, cfg)
	if err != nil {
		return err
	}

	withGDB := cfg.Values["TAKUMI_GDB"] == "1"
	if err := p.Run(p.BuildPlan(withGDB)); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			colError.Printf("Stage %s/%s failed (exit code %d)\n", se.Component, se.Stage, se.ExitCode)
			colNote.Printf("Inspect %s, fix the cause and re-run; completed stages will be skipped.\n", se.Scope)
		}
		return err
	}

	fmt.Println()
	colArrow.Print("-> ")
	colSuccess.Printf("Toolchain for %s installed in %s\n", p.Topo.Target, p.Env.Prefix)
	colNote.Printf("Build trees kept in %s, artifacts in %s\n", p.Env.BuildDir, p.Env.RepoDir)
	return nil
}

// RunFetch downloads and verifies every component archive without building.
func RunFetch(ctx context.Context, cfg *Config) error {
	p, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	for _, name := range []string{"binutils", "gcc", "gmp", "mpfr", "mpc", "newlib", "gdb"} {
		comp := p.Components[name]
		archive, err := p.Fetcher.Fetch(comp.URL, p.Env.BuildDir, comp.Archive)
		if err != nil {
			return err
		}
		if err := verifyChecksum(archive, comp.Checksum); err != nil {
			return err
		}
	}
	return nil
}

// RunStatus prints the marker state for every node in the current plan.
func RunStatus(ctx context.Context, cfg *Config) error {
	p, err := setup(ctx, cfg)
	if err != nil {
		return err
	}

	plan, err := sortPlan(p.BuildPlan(cfg.Values["TAKUMI_GDB"] == "1"))
	if err != nil {
		return err
	}

	for _, n := range plan {
		if n.Scope == "" {
			continue
		}
		state := "pending"
		if p.Store.Completed(n.Scope, n.Stage) {
			state = "done"
		}
		if state == "done" {
			colSuccess.Printf("  %-32s %s\n", n.ID(), state)
		} else {
			fmt.Printf("  %-32s %s\n", n.ID(), state)
		}
	}
	return nil
}

// RunPublish uploads the output repository to the configured mirror.
func RunPublish(ctx context.Context, cfg *Config) error {
	topo, err := ResolveTopology(cfg.Values["TAKUMI_BUILD"], cfg.Values["TAKUMI_HOST"], firstNonEmpty(cfg.Values["TAKUMI_TARGET"], "arm-none-eabi"))
	if err != nil {
		return err
	}
	env, err := ResolveEnv(cfg, topo)
	if err != nil {
		return err
	}
	if _, err := os.Stat(env.RepoDir); err != nil {
		return fmt.Errorf("output repository %s does not exist: %w", env.RepoDir, err)
	}

	client, err := NewMirrorClient(cfg)
	if err != nil {
		return err
	}
	return client.PublishRepo(ctx, env.RepoDir)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
