// Package update checks the GitHub releases feed for a newer
// promptdex binary and replaces the running one in place.
package update

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	defaultAPIURL = "https://api.github.com/repos/promptdex/promptdex/releases/latest"
	cacheFileName = "update_check.json"
	cacheTTL      = time.Hour
)

// release is the subset of the GitHub release payload we read.
type release struct {
	TagName string         `json:"tag_name"`
	Assets  []releaseAsset `json:"assets"`
}

type releaseAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Info describes a release the running binary can move to.
type Info struct {
	CurrentVersion string
	LatestVersion  string
	DownloadURL    string
	AssetName      string
	Size           int64
	Checksum       string
	IsDevBuild     bool
}

// Checker resolves the latest release for this platform.
type Checker struct {
	APIURL   string
	CacheDir string
	Token    string
	Client   *http.Client
}

// NewChecker returns a Checker caching results under cacheDir.
// token is an optional GitHub token for the API rate limit.
func NewChecker(cacheDir, token string) *Checker {
	return &Checker{
		APIURL:   defaultAPIURL,
		CacheDir: cacheDir,
		Token:    token,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Check returns the release to install, or nil when the running
// binary is current. Dev builds always report the latest release so
// the caller can show it. A recent cached check may answer the
// up-to-date case without hitting the API; anything that can lead
// to an install is always a fresh fetch with full asset metadata.
func (c *Checker) Check(currentVersion string, force bool) (*Info, error) {
	isDev := IsDevBuildVersion(currentVersion)

	if !force && !isDev {
		if tag, ok := c.cachedTag(); ok && !isNewer(tag, currentVersion) {
			return nil, nil
		}
	}

	rel, err := c.fetchLatest()
	if err != nil {
		return nil, fmt.Errorf("check for updates: %w", err)
	}
	c.writeCache(rel.TagName)

	if !isDev && !isNewer(rel.TagName, currentVersion) {
		return nil, nil
	}

	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("self-update is not supported on windows")
	}
	assetName := fmt.Sprintf("promptdex_%s_%s_%s.tar.gz",
		strings.TrimPrefix(rel.TagName, "v"),
		runtime.GOOS, runtime.GOARCH)

	var asset, sums *releaseAsset
	for i := range rel.Assets {
		switch rel.Assets[i].Name {
		case assetName:
			asset = &rel.Assets[i]
		case "SHA256SUMS", "checksums.txt":
			sums = &rel.Assets[i]
		}
	}
	if asset == nil {
		return nil, fmt.Errorf("release %s has no asset for %s/%s",
			rel.TagName, runtime.GOOS, runtime.GOARCH)
	}

	// Install refuses to proceed without a checksum, but a missing
	// sums file should not break --check.
	var checksum string
	if sums != nil {
		if body, err := c.get(sums.BrowserDownloadURL); err == nil {
			checksum = checksumFor(string(body), assetName)
		}
	}

	return &Info{
		CurrentVersion: currentVersion,
		LatestVersion:  rel.TagName,
		DownloadURL:    asset.BrowserDownloadURL,
		AssetName:      asset.Name,
		Size:           asset.Size,
		Checksum:       checksum,
		IsDevBuild:     isDev,
	}, nil
}

func (c *Checker) fetchLatest() (*release, error) {
	req, err := http.NewRequest(http.MethodGet, c.APIURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "promptdex-update")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned %s", resp.Status)
	}
	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (c *Checker) get(url string) ([]byte, error) {
	resp, err := c.Client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// checksumFor finds assetName's hash in a sha256sum-format listing.
func checksumFor(sums, assetName string) string {
	for _, line := range strings.Split(sums, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 &&
			strings.TrimPrefix(fields[1], "*") == assetName {
			return strings.ToLower(fields[0])
		}
	}
	return ""
}

type checkCache struct {
	CheckedAt time.Time `json:"checked_at"`
	Tag       string    `json:"tag"`
}

// cachedTag returns the release tag from a check inside the TTL.
// The cache records only the tag, never asset metadata, so a hit
// can only ever answer "up to date".
func (c *Checker) cachedTag() (string, bool) {
	data, err := os.ReadFile(filepath.Join(c.CacheDir, cacheFileName))
	if err != nil {
		return "", false
	}
	var cached checkCache
	if err := json.Unmarshal(data, &cached); err != nil {
		return "", false
	}
	if cached.Tag == "" || time.Since(cached.CheckedAt) >= cacheTTL {
		return "", false
	}
	return cached.Tag, true
}

func (c *Checker) writeCache(tag string) {
	data, err := json.Marshal(checkCache{
		CheckedAt: time.Now(),
		Tag:       tag,
	})
	if err != nil {
		return
	}
	_ = os.MkdirAll(c.CacheDir, 0o755)
	_ = os.WriteFile(
		filepath.Join(c.CacheDir, cacheFileName), data, 0o600)
}

// gitDescribeSuffix matches the -<n>-g<hash>[-dirty] tail that
// git describe appends past a tag.
var gitDescribeSuffix = regexp.MustCompile(`-\d+-g[0-9a-f]+(-dirty)?$`)

// IsDevBuildVersion reports whether v names a dev build rather
// than a tagged release.
func IsDevBuildVersion(v string) bool {
	v = "v" + strings.TrimPrefix(v, "v")
	return !semver.IsValid(v) || gitDescribeSuffix.MatchString(v)
}

func isNewer(latest, current string) bool {
	lv := "v" + strings.TrimPrefix(latest, "v")
	cv := "v" + strings.TrimPrefix(current, "v")
	if !semver.IsValid(lv) || !semver.IsValid(cv) {
		return false
	}
	return semver.Compare(lv, cv) > 0
}

// FormatSize renders a byte count as a human-readable string.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf(
		"%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
