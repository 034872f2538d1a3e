package takumi

import (
	"strings"
	"testing"
)

func TestDefaultComponentsComplete(t *testing.T) {
	topo := Topology{Target: "arm-none-eabi"}
	comps := DefaultComponents(&Config{Values: map[string]string{}}, topo)

	for _, name := range []string{"binutils", "gcc", "newlib", "gdb", "gmp", "mpfr", "mpc"} {
		c, ok := comps[name]
		if !ok {
			t.Errorf("component %s missing", name)
			continue
		}
		if c.URL == "" || c.Archive == "" || c.UnpackDir == "" {
			t.Errorf("component %s is incomplete: %+v", name, c)
		}
		if !strings.HasPrefix(c.UnpackDir, name+"-") {
			t.Errorf("component %s unpacks to %s", name, c.UnpackDir)
		}
	}

	if !strings.Contains(comps["gcc"].URL, "/gcc/gcc-") {
		t.Errorf("gcc URL misses the per-release directory: %s", comps["gcc"].URL)
	}
	if !strings.Contains(comps["newlib"].URL, "sourceware.org") {
		t.Errorf("newlib URL = %s", comps["newlib"].URL)
	}
}

func TestDefaultComponentsVersionOverride(t *testing.T) {
	cfg := &Config{Values: map[string]string{"TAKUMI_GCC_VERSION": "4.5.0"}}
	comps := DefaultComponents(cfg, Topology{Target: "arm-none-eabi"})

	gcc := comps["gcc"]
	if gcc.Version != "4.5.0" {
		t.Errorf("override lost: %s", gcc.Version)
	}
	if gcc.Archive != "gcc-4.5.0.tar.bz2" || gcc.UnpackDir != "gcc-4.5.0" {
		t.Errorf("derived names not rebuilt: %s / %s", gcc.Archive, gcc.UnpackDir)
	}
	if comps["binutils"].Version != "2.20.1" {
		t.Errorf("unrelated component changed: %s", comps["binutils"].Version)
	}
}

func TestBuildScopeSuffixes(t *testing.T) {
	c := &Component{Name: "gcc", UnpackDir: "gcc-4.4.5"}

	if got := c.BuildScope("/build", ""); got != "/build/build-gcc" {
		t.Errorf("BuildScope = %s", got)
	}
	if got := c.BuildScope("/build", "bootstrap"); got != "/build/build-gcc-bootstrap" {
		t.Errorf("BuildScope with suffix = %s", got)
	}
	if got := c.SourceDir("/build"); got != "/build/gcc-4.4.5" {
		t.Errorf("SourceDir = %s", got)
	}
}
