package takumi

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Topology is the resolved (build, host, target) triple combination. The
// CanadianCross flag is the single branch point deciding whether the
// intermediate bootstrap compiler is built and which prefix stages land in.
type Topology struct {
	Build         string // platform the toolchain is compiled on
	Host          string // platform the toolchain will run on
	Target        string // platform the toolchain emits code for
	CanadianCross bool
}

func (t Topology) String() string {
	kind := "cross"
	if t.CanadianCross {
		kind = "canadian cross"
	}
	return fmt.Sprintf("%s build=%s host=%s target=%s", kind, t.Build, t.Host, t.Target)
}

// ResolveTopology computes the effective triple combination. An empty build
// override is auto-detected from the running platform; an empty host
// defaults to the build platform. Pure apart from the one-shot detection.
func ResolveTopology(buildOverride, hostOverride, target string) (Topology, error) {
	if target == "" {
		return Topology{}, fmt.Errorf("%w: no target triple configured", ErrConfiguration)
	}

	build := buildOverride
	if build == "" {
		build = detectBuildTriple()
	}
	host := hostOverride
	if host == "" {
		host = build
	}

	return Topology{
		Build:         build,
		Host:          host,
		Target:        target,
		CanadianCross: host != build,
	}, nil
}

// detectBuildTriple asks the native compiler for its canonical triple and
// falls back to a GOOS/GOARCH-derived guess when no compiler is installed.
func detectBuildTriple() string {
	for _, cc := range []string{"gcc", "cc", "clang"} {
		path, err := exec.LookPath(cc)
		if err != nil {
			continue
		}
		out, err := exec.Command(path, "-dumpmachine").Output()
		if err != nil {
			continue
		}
		triple := strings.TrimSpace(string(out))
		if triple != "" {
			debugf("Detected build triple via %s: %s\n", cc, triple)
			return triple
		}
	}

	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	}
	triple := fmt.Sprintf("%s-unknown-%s-gnu", arch, runtime.GOOS)
	debugf("No native compiler found, assuming build triple %s\n", triple)
	return triple
}
