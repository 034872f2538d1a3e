package takumi

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// prepareSource runs the fetch/verify/unpack/patch chain for one component.
func (p *Pipeline) prepareSource(comp *Component) error {
	archive, err := p.Fetcher.Fetch(comp.URL, p.Env.BuildDir, comp.Archive)
	if err != nil {
		return err
	}
	if err := verifyChecksum(archive, comp.Checksum); err != nil {
		return err
	}
	if err := p.Unpacker.Unpack(archive, p.Env.BuildDir, comp.UnpackDir); err != nil {
		return err
	}
	return p.Patcher.Apply(comp.SourceDir(p.Env.BuildDir))
}

// prepareGCCSource prepares gcc and folds gmp/mpfr/mpc into its source tree,
// where the gcc build system picks them up and builds them in-tree.
func (p *Pipeline) prepareGCCSource() error {
	gcc := p.Components["gcc"]
	if err := p.prepareSource(gcc); err != nil {
		return err
	}

	gccSrc := gcc.SourceDir(p.Env.BuildDir)
	for _, name := range []string{"gmp", "mpfr", "mpc"} {
		lib := p.Components[name]
		if err := p.prepareSource(lib); err != nil {
			return err
		}
		inTree := filepath.Join(gccSrc, name)
		if _, err := os.Lstat(inTree); err == nil {
			continue
		}
		if err := os.Symlink(lib.SourceDir(p.Env.BuildDir), inTree); err != nil {
			return fmt.Errorf("failed to link %s into gcc tree: %w", name, err)
		}
		debugf("Linked %s into %s\n", name, inTree)
	}
	return nil
}

// exec streams a long-running external step (configure, make) to the console.
func (p *Pipeline) exec(r CommandRunner, dir string, argv ...string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = p.Env.Environ()
	return r.Run(cmd)
}

// execCapture runs a short external step with output captured, so failures
// carry the tool's own message (needed by the permission-error detection).
func (p *Pipeline) execCapture(r CommandRunner, dir string, argv ...string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = p.Env.Environ()
	res, err := r.Capture(cmd)
	if err != nil {
		return fmt.Errorf("%s failed (exit code %d): %w: %s",
			argv[0], res.ExitCode, err, tail(res.Output, 2048))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// configure runs a component's configure script out of tree.
func (p *Pipeline) configure(r CommandRunner, srcDir, scope string, args ...string) error {
	if err := os.MkdirAll(scope, 0o755); err != nil {
		return fmt.Errorf("failed to create build directory %s: %w", scope, err)
	}
	script, err := filepath.Rel(scope, filepath.Join(srcDir, "configure"))
	if err != nil {
		script = filepath.Join(srcDir, "configure")
	}
	argv := append([]string{script}, args...)
	return p.exec(r, scope, argv...)
}

func (p *Pipeline) configureBinutils(r CommandRunner, scope, prefix string, hosted bool) error {
	src := p.Components["binutils"].SourceDir(p.Env.BuildDir)
	args := []string{
		"--target=" + p.Topo.Target,
		"--prefix=" + prefix,
		"--disable-nls",
		"--disable-werror",
	}
	args = p.hostArgs(args, hosted)
	return p.configure(r, src, scope, args...)
}

func (p *Pipeline) configureGCC(r CommandRunner, scope, prefix string, hosted bool) error {
	src := p.Components["gcc"].SourceDir(p.Env.BuildDir)
	args := []string{
		"--target=" + p.Topo.Target,
		"--prefix=" + prefix,
		"--enable-languages=c,c++",
		"--with-newlib",
		"--with-gnu-as",
		"--with-gnu-ld",
		"--disable-nls",
		"--disable-shared",
		"--disable-threads",
		"--disable-libssp",
	}
	args = p.hostArgs(args, hosted)
	return p.configure(r, src, scope, args...)
}

func (p *Pipeline) configureNewlib(r CommandRunner, scope, prefix string) error {
	src := p.Components["newlib"].SourceDir(p.Env.BuildDir)
	args := []string{
		"--target=" + p.Topo.Target,
		"--prefix=" + prefix,
		"--disable-nls",
	}
	return p.configure(r, src, scope, args...)
}

func (p *Pipeline) configureGDB(r CommandRunner, scope, prefix string) error {
	src := p.Components["gdb"].SourceDir(p.Env.BuildDir)
	args := []string{
		"--target=" + p.Topo.Target,
		"--prefix=" + prefix,
		"--disable-nls",
		"--disable-werror",
	}
	args = p.hostArgs(args, false)
	return p.configure(r, src, scope, args...)
}

// hostArgs appends the build/host triples. The host triple is only passed on
// host-targeting (canadian) configures; a plain cross build lets configure
// default host to build.
func (p *Pipeline) hostArgs(args []string, hosted bool) []string {
	args = append(args, "--build="+p.Topo.Build)
	if hosted {
		args = append(args, "--host="+p.Topo.Host)
	}
	return args
}

// makeTargets drives make with the resolved parallelism. One blocking call;
// all fan-out is internal to make.
func (p *Pipeline) makeTargets(r CommandRunner, scope string, targets ...string) error {
	argv := append([]string{"make", fmt.Sprintf("-j%d", p.Env.Jobs)}, targets...)
	return p.exec(r, scope, argv...)
}

// stagingRoot returns the per-component payload root under tmpinst.
func (p *Pipeline) stagingRoot(nodeName string) string {
	return filepath.Join(p.Env.StagingDir, nodeName, "root")
}

// installStep installs into the staging tree first, then syncs the staged
// prefix into the live system so subsequent stages find the just-built tools
// on their amended PATH (the cross-binutils must be usable by the gcc build).
// The sync is the part that can hit a permission error; the node is flagged
// for the escalation retry.
func (p *Pipeline) installStep(r CommandRunner, nodeName, scope, prefix string, targets []string) error {
	staged := p.stagingRoot(nodeName)
	if err := os.MkdirAll(staged, 0o755); err != nil {
		return fmt.Errorf("failed to create staging root %s: %w", staged, err)
	}

	argv := []string{"make", "DESTDIR=" + staged}
	argv = append(argv, targets...)
	if err := p.exec(r, scope, argv...); err != nil {
		return err
	}

	return p.syncStaged(r, staged, prefix)
}

// syncStaged copies the staged install tree into the live root.
func (p *Pipeline) syncStaged(r CommandRunner, staged, prefix string) error {
	src := filepath.Join(staged, prefix)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("staged install tree %s is missing: %w", src, err)
	}
	dest := filepath.Join(p.Env.RootDir, strings.TrimPrefix(prefix, "/"))

	// Both steps go through the runner so the escalated retry can create the
	// prefix and copy as root when the plain attempt is denied.
	if err := p.execCapture(r, p.Env.BuildDir, "mkdir", "-p", dest); err != nil {
		return err
	}
	return p.execCapture(r, p.Env.BuildDir, "cp", "-a", src+"/.", dest)
}

// packageStep builds the descriptor from the component and the staged
// payload, and hands it to the packager exactly once.
func (p *Pipeline) packageStep(nodeName string, comp *Component) error {
	desc := &PackageDescriptor{
		Name:        comp.Name,
		Version:     comp.Version,
		Subversion:  p.Subversion,
		Arch:        p.archToken(),
		Maintainer:  comp.Maintainer,
		Homepage:    comp.Homepage,
		Description: comp.Description,
		Depends:     comp.Depends,
		PayloadRoot: p.stagingRoot(nodeName),
	}
	_, err := p.Packager.Package(desc)
	return err
}

// archToken is the artifact architecture field: the CPU part of the host
// triple, which is what the packaged binaries actually run on.
func (p *Pipeline) archToken() string {
	if i := strings.Index(p.Topo.Host, "-"); i > 0 {
		return p.Topo.Host[:i]
	}
	if p.Topo.Host != "" {
		return p.Topo.Host
	}
	return hostArch
}
