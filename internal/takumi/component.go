package takumi

import (
	"fmt"
	"path/filepath"
)

// Component identifies one buildable unit: where its archive comes from,
// what the archive is called locally and which directory it unpacks into.
// Constructed once at orchestration start; read-only afterwards.
type Component struct {
	Name      string
	Version   string
	URL       string // full archive URL
	Archive   string // local archive filename
	UnpackDir string // directory the archive extracts to
	Checksum  string // optional BLAKE3 hex digest of the archive

	// Package metadata, consumed by the packager.
	Maintainer  string
	Homepage    string
	Description string
	Depends     []string
}

// SourceDir returns the unpacked source tree under the build directory.
func (c *Component) SourceDir(buildDir string) string {
	return filepath.Join(buildDir, c.UnpackDir)
}

// BuildScope returns the out-of-tree build directory for this component.
// Stage markers live inside it. The suffix separates multiple build trees of
// the same source (gcc bootstrap vs. final, canadian second tree).
func (c *Component) BuildScope(buildDir, suffix string) string {
	name := "build-" + c.Name
	if suffix != "" {
		name += "-" + suffix
	}
	return filepath.Join(buildDir, name)
}

const defaultMaintainer = "takumi toolchain project"

// gnuArchive fills in the usual GNU mirror layout for a component.
func gnuArchive(name, version, ext string) (url, archive, dir string) {
	dir = fmt.Sprintf("%s-%s", name, version)
	archive = fmt.Sprintf("%s.tar.%s", dir, ext)
	url = fmt.Sprintf("https://ftp.gnu.org/gnu/%s/%s", name, archive)
	return
}

// DefaultComponents builds the component set for one run. Versions can be
// overridden through the configuration; the flags passed to each component's
// configure script are owned by steps.go, not by the descriptors.
func DefaultComponents(cfg *Config, topo Topology) map[string]*Component {
	ver := func(key, fallback string) string {
		if v := cfg.Values[key]; v != "" {
			return v
		}
		return fallback
	}

	binutilsVer := ver("TAKUMI_BINUTILS_VERSION", "2.20.1")
	gccVer := ver("TAKUMI_GCC_VERSION", "4.4.5")
	newlibVer := ver("TAKUMI_NEWLIB_VERSION", "1.18.0")
	gdbVer := ver("TAKUMI_GDB_VERSION", "7.2")
	gmpVer := ver("TAKUMI_GMP_VERSION", "5.0.1")
	mpfrVer := ver("TAKUMI_MPFR_VERSION", "3.0.0")
	mpcVer := ver("TAKUMI_MPC_VERSION", "0.8.2")

	comps := make(map[string]*Component)

	{
		url, archive, dir := gnuArchive("binutils", binutilsVer, "bz2")
		comps["binutils"] = &Component{
			Name: "binutils", Version: binutilsVer,
			URL: url, Archive: archive, UnpackDir: dir,
			Maintainer:  defaultMaintainer,
			Homepage:    "https://www.gnu.org/software/binutils/",
			Description: fmt.Sprintf("GNU binutils for the %s target", topo.Target),
		}
	}
	{
		url, archive, dir := gnuArchive("gcc", gccVer, "bz2")
		// gcc archives live one level deeper on the mirror
		url = fmt.Sprintf("https://ftp.gnu.org/gnu/gcc/gcc-%s/%s", gccVer, archive)
		comps["gcc"] = &Component{
			Name: "gcc", Version: gccVer,
			URL: url, Archive: archive, UnpackDir: dir,
			Maintainer:  defaultMaintainer,
			Homepage:    "https://gcc.gnu.org/",
			Description: fmt.Sprintf("GNU C cross compiler for the %s target", topo.Target),
			Depends:     []string{"binutils"},
		}
	}
	{
		dir := fmt.Sprintf("newlib-%s", newlibVer)
		archive := dir + ".tar.gz"
		comps["newlib"] = &Component{
			Name: "newlib", Version: newlibVer,
			URL:         fmt.Sprintf("https://sourceware.org/pub/newlib/%s", archive),
			Archive:     archive,
			UnpackDir:   dir,
			Maintainer:  defaultMaintainer,
			Homepage:    "https://sourceware.org/newlib/",
			Description: fmt.Sprintf("C runtime library for the %s target", topo.Target),
			Depends:     []string{"gcc"},
		}
	}
	{
		url, archive, dir := gnuArchive("gdb", gdbVer, "bz2")
		comps["gdb"] = &Component{
			Name: "gdb", Version: gdbVer,
			URL: url, Archive: archive, UnpackDir: dir,
			Maintainer:  defaultMaintainer,
			Homepage:    "https://www.gnu.org/software/gdb/",
			Description: fmt.Sprintf("GNU debugger for the %s target", topo.Target),
			Depends:     []string{"binutils"},
		}
	}

	// The arithmetic libraries are unpacked into the gcc source tree, which
	// builds them in-tree; they never get their own pipeline stages.
	{
		url, archive, dir := gnuArchive("gmp", gmpVer, "bz2")
		comps["gmp"] = &Component{Name: "gmp", Version: gmpVer, URL: url, Archive: archive, UnpackDir: dir}
	}
	{
		url, archive, dir := gnuArchive("mpfr", mpfrVer, "bz2")
		comps["mpfr"] = &Component{Name: "mpfr", Version: mpfrVer, URL: url, Archive: archive, UnpackDir: dir}
	}
	{
		dir := fmt.Sprintf("mpc-%s", mpcVer)
		archive := dir + ".tar.gz"
		comps["mpc"] = &Component{
			Name: "mpc", Version: mpcVer,
			URL:       fmt.Sprintf("https://ftp.gnu.org/gnu/mpc/%s", archive),
			Archive:   archive,
			UnpackDir: dir,
		}
	}

	return comps
}
