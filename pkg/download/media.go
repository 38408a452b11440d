package download

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jukeboxd/jukebox/pkg/bundle"
)

// MediaDownload is a finished download bound to the request that asked for
// it. SourcePath points at the shared cached artifact; PlayPath is the
// per-use copy handed to the player and deleted after playback.
type MediaDownload struct {
	Request *bundle.MediaRequest

	VideoID         string
	WebpageURL      string
	Title           string
	Uploader        string
	Extractor       string
	DurationSeconds int

	SourcePath string
	PlayPath   string
	CacheHit   bool
}

// DisplayName returns the human text for queue and progress rendering
func (m *MediaDownload) DisplayName() string {
	if m.Title != "" && m.Uploader != "" {
		return fmt.Sprintf("%s by %s", m.Title, m.Uploader)
	}
	if m.Title != "" {
		return m.Title
	}
	return m.WebpageURL
}

// ReadyFile copies the cached source into guildDir under the request id so
// concurrent guilds never share a file handle. Fails if the source is gone,
// which signals the cache entry is stale.
func (m *MediaDownload) ReadyFile(guildDir string) error {
	if m.SourcePath == "" {
		return fmt.Errorf("download for %q has no source file", m.WebpageURL)
	}
	src, err := os.Open(m.SourcePath)
	if err != nil {
		return fmt.Errorf("source file missing for %q: %w", m.WebpageURL, err)
	}
	defer src.Close()

	if err := os.MkdirAll(guildDir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(guildDir, m.Request.ID+filepath.Ext(m.SourcePath))
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(target)
		return err
	}
	m.PlayPath = target
	return nil
}

// Delete removes the per-use copy. The cached source is owned by the cache
// and left alone.
func (m *MediaDownload) Delete() error {
	if m.PlayPath == "" {
		return nil
	}
	err := os.Remove(m.PlayPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	m.PlayPath = ""
	return nil
}
