package update

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Install downloads info's asset, verifies its checksum, and
// replaces the running binary.
func (c *Checker) Install(
	info *Info, progress func(done, total int64),
) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find current executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	return c.installTo(info, exe, progress)
}

func (c *Checker) installTo(
	info *Info, dstPath string, progress func(done, total int64),
) error {
	if info.Checksum == "" {
		return fmt.Errorf(
			"no checksum published for %s, refusing unverified binary",
			info.AssetName)
	}

	tmpDir, err := os.MkdirTemp("", "promptdex-update-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	archive := filepath.Join(tmpDir, info.AssetName)
	sum, err := c.download(info.DownloadURL, archive, info.Size, progress)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if !strings.EqualFold(sum, info.Checksum) {
		return fmt.Errorf("checksum mismatch for %s: want %s, got %s",
			info.AssetName, info.Checksum, sum)
	}

	extractDir := filepath.Join(tmpDir, "extract")
	if err := extractTarGz(archive, extractDir); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	binPath := filepath.Join(extractDir, "promptdex")
	if _, err := os.Stat(binPath); err != nil {
		return fmt.Errorf("promptdex binary not found in %s",
			info.AssetName)
	}
	return replaceBinary(binPath, dstPath)
}

type progressWriter struct {
	done, total int64
	fn          func(done, total int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	if w.fn != nil {
		w.fn(w.done, w.total)
	}
	return len(p), nil
}

// download streams url to dest and returns the hex SHA-256 of the
// bytes written.
func (c *Checker) download(
	url, dest string, total int64, progress func(done, total int64),
) (string, error) {
	resp, err := c.Client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	h := sha256.New()
	pw := &progressWriter{total: total, fn: progress}
	if _, err := io.Copy(io.MultiWriter(out, h, pw), resp.Body); err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// extractTarGz unpacks the regular files of a tar.gz archive into
// destDir. Entry names must stay inside destDir.
func extractTarGz(archive, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !filepath.IsLocal(filepath.FromSlash(hdr.Name)) {
			return fmt.Errorf("archive entry %q escapes extraction dir",
				hdr.Name)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		if err := os.Chmod(
			target, os.FileMode(hdr.Mode)&0o777,
		); err != nil {
			return err
		}
	}
}

// replaceBinary swaps dstPath for the file at srcPath. The previous
// binary moves aside to dstPath+".old" and comes back on failure.
func replaceBinary(srcPath, dstPath string) error {
	backup := dstPath + ".old"
	os.Remove(backup)

	restore := false
	if _, err := os.Stat(dstPath); err == nil {
		if err := os.Rename(dstPath, backup); err != nil {
			return fmt.Errorf("back up current binary: %w", err)
		}
		restore = true
	}

	if err := copyFile(srcPath, dstPath); err != nil {
		if restore {
			if rbErr := os.Rename(backup, dstPath); rbErr != nil {
				return fmt.Errorf(
					"install: %w (rollback failed: %v)", err, rbErr)
			}
		}
		return fmt.Errorf("install: %w", err)
	}
	if err := os.Chmod(dstPath, 0o755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	os.Remove(backup)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
