package takumi

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
)

// PackageDescriptor is produced by a component's final stage once the staged
// install tree is populated, and consumed exactly once by the packager.
type PackageDescriptor struct {
	Name        string
	Version     string
	Subversion  string // e.g. "-1"; appended verbatim to the version
	Arch        string // architecture the payload runs on (host triple)
	Maintainer  string
	Homepage    string
	Description string
	Depends     []string
	PayloadRoot string // staged install tree
}

// ArtifactName returns the deterministic artifact filename.
func (d *PackageDescriptor) ArtifactName() string {
	return fmt.Sprintf("%s_%s%s_%s.pkg", d.Name, d.Version, d.Subversion, d.Arch)
}

// Archiver combines a payload tree and its metadata file into one artifact.
// The encoding is external to the orchestration engine.
type Archiver interface {
	Archive(payloadRoot, controlPath, outPath string) error
}

// Packager emits distributable artifacts into the output repository.
type Packager struct {
	RepoDir  string
	Archiver Archiver
}

// Package writes the metadata record alongside the payload, archives both and
// places the artifact in the output repository. Fails when the payload tree
// is empty or the archiver errors.
func (p *Packager) Package(d *PackageDescriptor) (string, error) {
	size, err := dirSize(d.PayloadRoot)
	if err != nil {
		return "", fmt.Errorf("%w: cannot measure payload %s: %v", ErrPackagingFailed, d.PayloadRoot, err)
	}
	if size == 0 {
		return "", fmt.Errorf("%w: payload tree %s is empty", ErrPackagingFailed, d.PayloadRoot)
	}

	controlPath := filepath.Join(filepath.Dir(d.PayloadRoot), d.Name+".control")
	if err := os.WriteFile(controlPath, []byte(controlRecord(d, size)), 0o644); err != nil {
		return "", fmt.Errorf("%w: cannot write metadata %s: %v", ErrPackagingFailed, controlPath, err)
	}

	if err := os.MkdirAll(p.RepoDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: cannot create repository %s: %v", ErrPackagingFailed, p.RepoDir, err)
	}
	outPath := filepath.Join(p.RepoDir, d.ArtifactName())

	if err := p.Archiver.Archive(d.PayloadRoot, controlPath, outPath); err != nil {
		return "", fmt.Errorf("%w: archiver failed for %s: %v", ErrPackagingFailed, d.Name, err)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Packaged %s (%d KiB)\n", d.ArtifactName(), size/1024)
	return outPath, nil
}

// controlRecord renders the key/value metadata consumed by the external
// packaging tooling.
func controlRecord(d *PackageDescriptor, size int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s\n", d.Name)
	fmt.Fprintf(&b, "Architecture: %s\n", d.Arch)
	fmt.Fprintf(&b, "Installed-Size: %d\n", size)
	fmt.Fprintf(&b, "Maintainer: %s\n", d.Maintainer)
	fmt.Fprintf(&b, "Version: %s%s\n", d.Version, d.Subversion)
	if d.Homepage != "" {
		fmt.Fprintf(&b, "Homepage: %s\n", d.Homepage)
	}
	if len(d.Depends) > 0 {
		fmt.Fprintf(&b, "Depends: %s\n", strings.Join(d.Depends, ", "))
	}
	fmt.Fprintf(&b, "Description: %s\n", d.Description)
	return b.String()
}

// dirSize sums regular file sizes below root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// TarArchiver packages payload plus control file into a gzip-compressed tar.
// System tar is preferred; the pgzip writer is the fallback so packaging
// still works on a host without tar installed.
type TarArchiver struct {
	Runner CommandRunner
}

func (a *TarArchiver) Archive(payloadRoot, controlPath, outPath string) error {
	if _, err := exec.LookPath("tar"); err == nil {
		cmd := exec.Command("tar", "czf", outPath,
			"-C", filepath.Dir(controlPath), filepath.Base(controlPath),
			"-C", payloadRoot, ".")
		if err := a.Runner.Run(cmd); err == nil {
			debugf("Used system tar for %s\n", outPath)
			return nil
		}
		debugf("System tar failed for %s, using native writer\n", outPath)
	}
	return a.archiveNative(payloadRoot, controlPath, outPath)
}

func (a *TarArchiver) archiveNative(payloadRoot, controlPath, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := pgzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	if err := addFileToTar(tw, controlPath, filepath.Base(controlPath)); err != nil {
		return err
	}

	return filepath.WalkDir(payloadRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(payloadRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		return nil
	})
}

func addFileToTar(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
