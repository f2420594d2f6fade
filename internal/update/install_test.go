package update

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// tarGzBytes builds a tar.gz archive holding named files.
func tarGzBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o755,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func archiveServer(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Write(archive)
		}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInstallReplacesBinary(t *testing.T) {
	archive := tarGzBytes(t, map[string]string{"promptdex": "v2"})
	sum := sha256.Sum256(archive)
	srv := archiveServer(t, archive)

	dst := filepath.Join(t.TempDir(), "promptdex")
	require.NoError(t, os.WriteFile(dst, []byte("v1"), 0o755))

	c := &Checker{Client: &http.Client{Timeout: 5 * time.Second}}
	info := &Info{
		AssetName:   "promptdex_0.2.0_linux_amd64.tar.gz",
		DownloadURL: srv.URL,
		Size:        int64(len(archive)),
		Checksum:    hex.EncodeToString(sum[:]),
	}

	var lastDone, lastTotal int64
	err := c.installTo(info, dst, func(done, total int64) {
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "v2", string(got))
	require.Equal(t, int64(len(archive)), lastDone)
	require.Equal(t, info.Size, lastTotal)

	// The backup is cleaned up after a successful swap.
	_, err = os.Stat(dst + ".old")
	require.True(t, os.IsNotExist(err))
}

func TestInstallChecksumMismatch(t *testing.T) {
	archive := tarGzBytes(t, map[string]string{"promptdex": "v2"})
	srv := archiveServer(t, archive)

	dst := filepath.Join(t.TempDir(), "promptdex")
	require.NoError(t, os.WriteFile(dst, []byte("v1"), 0o755))

	c := &Checker{Client: &http.Client{Timeout: 5 * time.Second}}
	info := &Info{
		AssetName:   "promptdex_0.2.0_linux_amd64.tar.gz",
		DownloadURL: srv.URL,
		Checksum:    strings.Repeat("00", 32),
	}
	err := c.installTo(info, dst, nil)
	require.ErrorContains(t, err, "checksum mismatch")

	// The running binary is untouched.
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))
}

func TestInstallRequiresChecksum(t *testing.T) {
	c := &Checker{Client: http.DefaultClient}
	err := c.installTo(&Info{AssetName: "x.tar.gz"}, "/nonexistent", nil)
	require.ErrorContains(t, err, "refusing unverified binary")
}

func TestExtractTarGzRejectsEscape(t *testing.T) {
	for _, name := range []string{"../evil", "/etc/evil"} {
		archive := tarGzBytes(t, map[string]string{name: "x"})
		src := filepath.Join(t.TempDir(), "a.tar.gz")
		require.NoError(t, os.WriteFile(src, archive, 0o644))

		err := extractTarGz(src, t.TempDir())
		require.ErrorContains(t, err, "escapes extraction dir")
	}
}

func TestReplaceBinary(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "new")
	dst := filepath.Join(dir, "promptdex")
	require.NoError(t, os.WriteFile(src, []byte("new-bin"), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("old-bin"), 0o755))

	require.NoError(t, replaceBinary(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "new-bin", string(got))

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), fi.Mode().Perm())

	_, err = os.Stat(dst + ".old")
	require.True(t, os.IsNotExist(err))
}

func TestReplaceBinaryRollsBack(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "promptdex")
	require.NoError(t, os.WriteFile(dst, []byte("old-bin"), 0o755))

	err := replaceBinary(filepath.Join(dir, "missing"), dst)
	require.Error(t, err)

	// The original came back from the .old backup.
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "old-bin", string(got))
}
