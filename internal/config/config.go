package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath is where the bot looks for its TOML configuration when
// JUKEBOX_CONFIG is not set
const DefaultConfigPath = "config/jukebox.toml"

// DiscordConfig holds the chat-facing settings. The token comes from the
// environment, never from the file.
type DiscordConfig struct {
	Token         string `toml:"-"`
	CommandPrefix string `toml:"command_prefix"`
}

// DatabaseConfig holds the Postgres connection. The URL comes from the
// environment, never from the file.
type DatabaseConfig struct {
	URL string `toml:"-"`
}

// BannedVideo pairs a blocked URL with the message shown when someone
// requests it
type BannedVideo struct {
	URL     string `toml:"url"`
	Message string `toml:"message"`
}

// MusicConfig tunes the request pipeline and playback
type MusicConfig struct {
	DownloadDir             string         `toml:"download_dir"`
	YtDlpPath               string         `toml:"ytdlp_path"`
	FfmpegPath              string         `toml:"ffmpeg_path"`
	YtDlpExtraArgs          []string       `toml:"ytdlp_extra_args"`
	MaxDurationSeconds      int            `toml:"max_duration_seconds"`
	DownloadTimeoutSeconds  int            `toml:"download_timeout_seconds"`
	MaxRetries              int            `toml:"max_retries"`
	BaseDownloadWaitSeconds int            `toml:"base_download_wait_seconds"`
	FailureMaxSize          int            `toml:"failure_max_size"`
	FailureMaxAgeSeconds    int            `toml:"failure_max_age_seconds"`
	EmptyChannelTimeoutMin  int            `toml:"empty_channel_timeout_minutes"`
	QueueSize               int            `toml:"queue_size"`
	SearchQueueSize         int            `toml:"search_queue_size"`
	PlayerQueueSize         int            `toml:"player_queue_size"`
	HistoryMaxItems         int            `toml:"history_max_items"`
	OpusBitrate             int            `toml:"opus_bitrate"`
	EnableAudioProcess      bool           `toml:"enable_audio_process"`
	GuildPriorities         map[string]int `toml:"guild_priorities"`
	BannedVideos            []BannedVideo  `toml:"banned_videos"`
}

// CacheConfig bounds the download cache
type CacheConfig struct {
	Directory        string `toml:"directory"`
	MaxEntries       int    `toml:"max_entries"`
	MaxSearchEntries int    `toml:"max_search_entries"`
	CleanupSpec      string `toml:"cleanup_spec"`
}

// BackupConfig enables Google Drive mirroring of cached files. Backup is
// disabled when the credentials file is empty.
type BackupConfig struct {
	DriveCredentialsFile string `toml:"drive_credentials_file"`
	DriveFolderID        string `toml:"drive_folder_id"`
	BatchSize            int    `toml:"batch_size"`
}

// SearchConfig holds catalog API credentials. Each catalog is disabled when
// its credentials are empty.
type SearchConfig struct {
	YouTubeAPIKey       string `toml:"youtube_api_key"`
	SpotifyClientID     string `toml:"spotify_client_id"`
	SpotifyClientSecret string `toml:"spotify_client_secret"`
}

// HealthConfig controls the heartbeat HTTP endpoint
type HealthConfig struct {
	Addr string `toml:"addr"`
}

// Config is the full application configuration
type Config struct {
	Discord  DiscordConfig  `toml:"discord"`
	Database DatabaseConfig `toml:"database"`
	Music    MusicConfig    `toml:"music"`
	Cache    CacheConfig    `toml:"cache"`
	Backup   BackupConfig   `toml:"backup"`
	Search   SearchConfig   `toml:"search"`
	Health   HealthConfig   `toml:"health"`
}

// LoadConfig reads the TOML file, layers environment secrets on top, fills
// defaults, and validates. A missing file is allowed; env and defaults
// must then carry everything.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	path := os.Getenv("JUKEBOX_CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.loadEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadEnv() {
	c.Discord.Token = os.Getenv("DISCORD_TOKEN")
	c.Database.URL = os.Getenv("DATABASE_URL")

	// Catalog credentials may come from either source; env wins
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		c.Search.YouTubeAPIKey = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Search.SpotifyClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Search.SpotifyClientSecret = v
	}
}

func (c *Config) setDefaults() {
	if c.Discord.CommandPrefix == "" {
		c.Discord.CommandPrefix = "!"
	}
	if c.Music.DownloadDir == "" {
		c.Music.DownloadDir = "data/downloads"
	}
	if c.Music.MaxDurationSeconds == 0 {
		c.Music.MaxDurationSeconds = 3 * 3600
	}
	if c.Music.DownloadTimeoutSeconds == 0 {
		c.Music.DownloadTimeoutSeconds = 300
	}
	if c.Music.MaxRetries == 0 {
		c.Music.MaxRetries = 3
	}
	if c.Music.BaseDownloadWaitSeconds == 0 {
		c.Music.BaseDownloadWaitSeconds = 2
	}
	if c.Music.EmptyChannelTimeoutMin == 0 {
		c.Music.EmptyChannelTimeoutMin = 5
	}
	if c.Music.FailureMaxSize == 0 {
		c.Music.FailureMaxSize = 100
	}
	if c.Music.FailureMaxAgeSeconds == 0 {
		c.Music.FailureMaxAgeSeconds = 300
	}
	if c.Music.QueueSize == 0 {
		c.Music.QueueSize = 128
	}
	if c.Music.SearchQueueSize == 0 {
		c.Music.SearchQueueSize = c.Music.QueueSize * 10
	}
	if c.Music.PlayerQueueSize == 0 {
		c.Music.PlayerQueueSize = 64
	}
	if c.Music.HistoryMaxItems == 0 {
		c.Music.HistoryMaxItems = 250
	}
	if c.Music.OpusBitrate == 0 {
		c.Music.OpusBitrate = 128000
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = "data/cache"
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 500
	}
	if c.Cache.MaxSearchEntries == 0 {
		c.Cache.MaxSearchEntries = 2000
	}
	if c.Cache.CleanupSpec == "" {
		c.Cache.CleanupSpec = "@every 5m"
	}
	if c.Backup.BatchSize == 0 {
		c.Backup.BatchSize = 10
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
}

// Validate reports every fatal configuration problem at once
func (c *Config) Validate() error {
	var problems []string
	if c.Discord.Token == "" {
		problems = append(problems, "DISCORD_TOKEN is not set")
	}
	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is not set")
	}
	if c.Music.MaxDurationSeconds < 0 {
		problems = append(problems, "music.max_duration_seconds must not be negative")
	}
	if c.Music.BaseDownloadWaitSeconds < 0 {
		problems = append(problems, "music.base_download_wait_seconds must not be negative")
	}
	if (c.Search.SpotifyClientID == "") != (c.Search.SpotifyClientSecret == "") {
		problems = append(problems, "spotify credentials require both client id and secret")
	}
	if c.Backup.DriveFolderID != "" && c.Backup.DriveCredentialsFile == "" {
		problems = append(problems, "backup.drive_folder_id set without backup.drive_credentials_file")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %v", problems)
	}
	return nil
}

// DownloadTimeout returns the per-download timeout as a duration
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Music.DownloadTimeoutSeconds) * time.Second
}

// BaseDownloadWait returns the inter-download wait as a duration
func (c *Config) BaseDownloadWait() time.Duration {
	return time.Duration(c.Music.BaseDownloadWaitSeconds) * time.Second
}

// FailureMaxAge returns how long a recorded download failure stays in the
// backoff tracker
func (c *Config) FailureMaxAge() time.Duration {
	return time.Duration(c.Music.FailureMaxAgeSeconds) * time.Second
}

// EmptyChannelTimeout returns the empty-voice-channel shutdown timeout
func (c *Config) EmptyChannelTimeout() time.Duration {
	return time.Duration(c.Music.EmptyChannelTimeoutMin) * time.Minute
}

// SpotifyEnabled reports whether the Spotify catalog is configured
func (c *Config) SpotifyEnabled() bool {
	return c.Search.SpotifyClientID != "" && c.Search.SpotifyClientSecret != ""
}

// YouTubeEnabled reports whether the YouTube Data API is configured
func (c *Config) YouTubeEnabled() bool {
	return c.Search.YouTubeAPIKey != ""
}

// BackupEnabled reports whether Drive mirroring is configured
func (c *Config) BackupEnabled() bool {
	return c.Backup.DriveCredentialsFile != ""
}
