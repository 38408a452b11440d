package download

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/logging"
)

const outputTemplate = "%(extractor)s.%(id)s.%(ext)s"

// BannedVideo blocks a specific URL with a custom refusal message
type BannedVideo struct {
	URL     string
	Message string
}

// Config controls the downloader binaries and limits
type Config struct {
	CacheDir           string
	YtDlpPath          string
	FfmpegPath         string
	MaxDurationSeconds int
	Timeout            time.Duration
	ExtraArgs          []string
	EnableAudioProcess bool
	BannedVideos       []BannedVideo
}

// Downloader fetches media through yt-dlp into the shared cache directory
type Downloader struct {
	cfg    Config
	logger logging.Logger
}

// NewDownloader creates a downloader. Missing binary paths default to the
// bare command names resolved from PATH.
func NewDownloader(cfg Config, logger logging.Logger) *Downloader {
	if cfg.YtDlpPath == "" {
		cfg.YtDlpPath = "yt-dlp"
	}
	if cfg.FfmpegPath == "" {
		cfg.FfmpegPath = "ffmpeg"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Downloader{cfg: cfg, logger: logger}
}

// ytDlpInfo is the subset of the --print-json output the cache records
type ytDlpInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	WebpageURL string  `json:"webpage_url"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	Extractor  string  `json:"extractor"`
	Filename   string  `json:"_filename"`

	RequestedDownloads []struct {
		Filepath string `json:"filepath"`
	} `json:"requested_downloads"`
}

// Download runs yt-dlp for the request's resolved URL and returns the
// finished artifact. Errors come back classified so callers can decide
// between requeue and discard.
func (d *Downloader) Download(ctx context.Context, req *bundle.MediaRequest) (*MediaDownload, error) {
	url := req.ResolvedSearch

	if banned := d.bannedMessage(url); banned != "" {
		return nil, &Error{
			Kind:        ErrKindBanned,
			Message:     fmt.Sprintf("url %q is banned", url),
			UserMessage: banned,
		}
	}

	info, filePath, err := d.runYtDlp(ctx, url)
	if err != nil {
		return nil, err
	}

	duration := int(info.Duration)
	if d.cfg.MaxDurationSeconds > 0 && duration > d.cfg.MaxDurationSeconds {
		os.Remove(filePath)
		return nil, &Error{
			Kind:        ErrKindTooLong,
			Message:     fmt.Sprintf("video length %d over max %d", duration, d.cfg.MaxDurationSeconds),
			UserMessage: fmt.Sprintf("Video %q exceeds max length of %d seconds, cannot play", bundle.ShortenString(info.Title, 64), d.cfg.MaxDurationSeconds),
		}
	}

	if d.cfg.EnableAudioProcess {
		processed, perr := d.processAudio(ctx, filePath)
		if perr != nil {
			d.logger.Warn("audio post-processing failed, using raw file", map[string]interface{}{
				"url":   url,
				"error": perr.Error(),
			})
		} else {
			filePath = processed
		}
	}

	d.logger.Info("download finished", map[string]interface{}{
		"url":      info.WebpageURL,
		"title":    info.Title,
		"duration": duration,
		"path":     filePath,
	})

	return &MediaDownload{
		Request:         req,
		VideoID:         info.ID,
		WebpageURL:      info.WebpageURL,
		Title:           info.Title,
		Uploader:        info.Uploader,
		Extractor:       info.Extractor,
		DurationSeconds: duration,
		SourcePath:      filePath,
	}, nil
}

func (d *Downloader) runYtDlp(ctx context.Context, url string) (*ytDlpInfo, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	args := []string{
		"--print-json",
		"--no-playlist",
		"-f", "bestaudio/best",
		"-o", filepath.Join(d.cfg.CacheDir, outputTemplate),
	}
	args = append(args, d.cfg.ExtraArgs...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, d.cfg.YtDlpPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, "", &Error{
				Kind:        ErrKindTimeout,
				Message:     fmt.Sprintf("download timed out after %s", d.cfg.Timeout),
				UserMessage: fmt.Sprintf("Download for %q timed out, will retry", url),
				Err:         ctx.Err(),
			}
		}
		return nil, "", classifyExtractorError(url, stderr.String(), err)
	}

	var info ytDlpInfo
	if err := json.Unmarshal(firstJSONLine(stdout.Bytes()), &info); err != nil {
		return nil, "", &Error{
			Kind:    ErrKindUnknown,
			Message: "unable to parse extractor output",
			Err:     err,
		}
	}

	filePath := info.Filename
	if len(info.RequestedDownloads) > 0 && info.RequestedDownloads[0].Filepath != "" {
		filePath = info.RequestedDownloads[0].Filepath
	}
	if filePath == "" {
		return nil, "", &Error{
			Kind:    ErrKindUnknown,
			Message: "extractor output missing file path",
		}
	}
	return &info, filePath, nil
}

// processAudio normalizes loudness and trims leading and trailing silence,
// replacing the raw artifact with the processed one
func (d *Downloader) processAudio(ctx context.Context, inputPath string) (string, error) {
	ext := filepath.Ext(inputPath)
	outputPath := strings.TrimSuffix(inputPath, ext) + ".edited" + ext

	filter := "loudnorm=I=-16:TP=-1.5:LRA=11," +
		"silenceremove=start_periods=1:start_threshold=-60dB:start_silence=0.5," +
		"areverse," +
		"silenceremove=start_periods=1:start_threshold=-60dB:start_silence=0.5," +
		"areverse"

	cmd := exec.CommandContext(ctx, d.cfg.FfmpegPath,
		"-y", "-i", inputPath,
		"-af", filter,
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg failed: %w: %s", err, bundle.ShortenString(stderr.String(), 256))
	}
	if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("unable to remove raw download", map[string]interface{}{
			"path":  inputPath,
			"error": err.Error(),
		})
	}
	return outputPath, nil
}

func (d *Downloader) bannedMessage(url string) string {
	for _, banned := range d.cfg.BannedVideos {
		if banned.URL != "" && strings.Contains(url, banned.URL) {
			if banned.Message != "" {
				return banned.Message
			}
			return "Video is banned, cannot download"
		}
	}
	return ""
}

// firstJSONLine isolates the json document when yt-dlp mixes progress
// output into stdout
func firstJSONLine(out []byte) []byte {
	for _, line := range bytes.Split(out, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return trimmed
		}
	}
	return out
}
