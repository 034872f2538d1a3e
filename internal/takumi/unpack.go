package takumi

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Unpacker extracts component archives into the build directory.
type Unpacker struct {
	Runner CommandRunner
}

// Unpack extracts archivePath under destDir, expecting expectedDir to appear.
// Idempotent: if expectedDir already exists the archive is not touched.
// A partially extracted tree is left in place for manual cleanup; there is
// no transactional extraction.
func (u *Unpacker) Unpack(archivePath, destDir, expectedDir string) error {
	target := filepath.Join(destDir, expectedDir)
	if _, err := os.Stat(target); err == nil {
		debugf("Already unpacked: %s\n", target)
		return nil
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Unpacking %s\n", filepath.Base(archivePath))

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("%w: cannot create %s: %v", ErrUnpackFailed, destDir, err)
	}

	// System tar understands every compression we fetch and is much faster
	// than the native readers on large trees.
	if _, err := exec.LookPath("tar"); err == nil {
		cmd := exec.Command("tar", "xf", archivePath, "-C", destDir)
		if err := u.Runner.Run(cmd); err == nil {
			debugf("Used system tar\n")
			return u.checkUnpacked(target)
		}
		debugf("System tar failed, falling back to native extraction\n")
	}

	if err := u.extractNative(archivePath, destDir); err != nil {
		return err
	}
	return u.checkUnpacked(target)
}

func (u *Unpacker) checkUnpacked(target string) error {
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("%w: archive did not produce expected directory %s", ErrUnpackFailed, target)
	}
	return nil
}

// extractNative decompresses by archive extension and unrolls the tar stream
// with the stdlib reader.
func (u *Unpacker) extractNative(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: cannot open archive %s: %v", ErrUnpackFailed, archivePath, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: bad gzip stream in %s: %v", ErrUnpackFailed, archivePath, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(archivePath, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(archivePath, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: bad xz stream in %s: %v", ErrUnpackFailed, archivePath, err)
		}
		r = xr
	case strings.HasSuffix(archivePath, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: bad zstd stream in %s: %v", ErrUnpackFailed, archivePath, err)
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(archivePath, ".tar"):
		// no compression
	default:
		return fmt.Errorf("%w: unsupported archive format: %s", ErrUnpackFailed, archivePath)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: error reading tar header in %s: %v", ErrUnpackFailed, archivePath, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("%w: error skipping extended header in %s: %v", ErrUnpackFailed, archivePath, err)
			}
			continue
		}

		name := filepath.Clean(hdr.Name)
		if name == "." || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			continue
		}
		targetPath := filepath.Join(destDir, name)

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("%w: failed to create parent dir for %s: %v", ErrUnpackFailed, targetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("%w: failed to create dir %s: %v", ErrUnpackFailed, targetPath, err)
			}
		case tar.TypeReg:
			out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("%w: failed to create file %s: %v", ErrUnpackFailed, targetPath, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("%w: failed to write %s: %v", ErrUnpackFailed, targetPath, err)
			}
			out.Close()
		case tar.TypeSymlink:
			_ = os.Remove(targetPath)
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil {
				return fmt.Errorf("%w: failed to symlink %s: %v", ErrUnpackFailed, targetPath, err)
			}
		case tar.TypeLink:
			_ = os.Remove(targetPath)
			if err := os.Link(filepath.Join(destDir, hdr.Linkname), targetPath); err != nil {
				return fmt.Errorf("%w: failed to hardlink %s: %v", ErrUnpackFailed, targetPath, err)
			}
		default:
			debugf("Skipping tar entry %s (type %d)\n", hdr.Name, hdr.Typeflag)
		}
	}
	return nil
}
