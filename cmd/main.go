package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"github.com/jukeboxd/jukebox/internal/commands"
	"github.com/jukeboxd/jukebox/internal/config"
	"github.com/jukeboxd/jukebox/internal/handlers"
	"github.com/jukeboxd/jukebox/internal/presence"
	"github.com/jukeboxd/jukebox/pkg/cache"
	"github.com/jukeboxd/jukebox/pkg/database"
	"github.com/jukeboxd/jukebox/pkg/dispatch"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/history"
	"github.com/jukeboxd/jukebox/pkg/logging"
	"github.com/jukeboxd/jukebox/pkg/music"
	"github.com/jukeboxd/jukebox/pkg/player"
	"github.com/jukeboxd/jukebox/pkg/search"
)

// A loop is considered unhealthy when its heartbeat is older than this
const heartbeatStaleAfter = 2 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("startup failed: %v", err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: no .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.GetGlobalLoggerFactory().CreateLogger("main")

	for _, dir := range []string{cfg.Music.DownloadDir, cfg.Cache.Directory} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := database.NewGormDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	manager, err := database.NewManager(db)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	// Cache backup mirror is optional
	var objectStore cache.ObjectStore
	if cfg.BackupEnabled() {
		driveStore, err := cache.NewDriveStore(ctx, cfg.Backup.DriveCredentialsFile, cfg.Backup.DriveFolderID)
		if err != nil {
			return fmt.Errorf("failed to initialize Drive backup: %w", err)
		}
		objectStore = driveStore
	}

	downloadCache := cache.NewDownloadCache(cache.NewGormStore(db), objectStore, cache.Config{
		Directory:        cfg.Cache.Directory,
		MaxEntries:       cfg.Cache.MaxEntries,
		MaxSearchEntries: cfg.Cache.MaxSearchEntries,
	}, logging.GetGlobalLoggerFactory().CreateLogger("cache"))

	logger.Info("verifying download cache", nil)
	if err := downloadCache.VerifyCache(ctx); err != nil {
		return fmt.Errorf("cache verification failed: %w", err)
	}

	banned := make([]download.BannedVideo, 0, len(cfg.Music.BannedVideos))
	for _, b := range cfg.Music.BannedVideos {
		banned = append(banned, download.BannedVideo{URL: b.URL, Message: b.Message})
	}
	downloader := download.NewDownloader(download.Config{
		CacheDir:           cfg.Cache.Directory,
		YtDlpPath:          cfg.Music.YtDlpPath,
		FfmpegPath:         cfg.Music.FfmpegPath,
		MaxDurationSeconds: cfg.Music.MaxDurationSeconds,
		Timeout:            cfg.DownloadTimeout(),
		ExtraArgs:          cfg.Music.YtDlpExtraArgs,
		EnableAudioProcess: cfg.Music.EnableAudioProcess,
		BannedVideos:       banned,
	}, logging.GetGlobalLoggerFactory().CreateLogger("download"))

	// Catalog clients are optional; the resolver degrades gracefully
	var spotifyCatalog search.SpotifyCatalog
	if cfg.SpotifyEnabled() {
		spotifyCatalog = search.NewSpotifyClient(cfg.Search.SpotifyClientID, cfg.Search.SpotifyClientSecret)
	}
	var playlistCatalog search.PlaylistCatalog
	var musicSearch search.MusicSearcher
	if cfg.YouTubeEnabled() {
		ytClient, err := search.NewYouTubeClient(ctx, cfg.Search.YouTubeAPIKey)
		if err != nil {
			return fmt.Errorf("failed to create YouTube client: %w", err)
		}
		playlistCatalog = ytClient
		musicSearch = ytClient
	}
	resolver := search.NewResolver(spotifyCatalog, playlistCatalog,
		logging.GetGlobalLoggerFactory().CreateLogger("search"))

	histStore := history.NewGormStore(db)
	historyLogger := logging.GetGlobalLoggerFactory().CreateLogger("history")
	recorder := history.NewRecorder(histStore, cfg.Music.HistoryMaxItems, historyLogger)
	playlists := history.NewPlaylistManager(histStore, historyLogger)

	messenger := dispatch.NewDiscordMessenger(dg)
	dispatcher := dispatch.NewMessageDispatcher(messenger,
		logging.GetGlobalLoggerFactory().CreateLogger("dispatch"), 0)

	voice := player.NewDiscordVoiceSession(dg)
	streamer := player.NewStreamer(cfg.Music.FfmpegPath, cfg.Music.OpusBitrate,
		logging.GetGlobalLoggerFactory().CreateLogger("stream"))

	orchestrator := music.NewOrchestrator(music.Config{
		DownloadDir:         cfg.Music.DownloadDir,
		QueueSize:           cfg.Music.QueueSize,
		SearchQueueSize:     cfg.Music.SearchQueueSize,
		PlayerQueueSize:     cfg.Music.PlayerQueueSize,
		MaxRetries:          cfg.Music.MaxRetries,
		BaseDownloadWait:    cfg.BaseDownloadWait(),
		FailureMaxSize:      cfg.Music.FailureMaxSize,
		FailureMaxAge:       cfg.FailureMaxAge(),
		EmptyChannelTimeout: cfg.EmptyChannelTimeout(),
		BackupBatchSize:     cfg.Backup.BatchSize,
		CacheCleanupSpec:    cfg.Cache.CleanupSpec,
		GuildPriorities:     cfg.Music.GuildPriorities,
	}, music.Deps{
		Dispatcher:  dispatcher,
		Resolver:    resolver,
		MusicSearch: musicSearch,
		Downloader:  downloader,
		Cache:       downloadCache,
		Recorder:    recorder,
		Playlists:   playlists,
		Voice:       voice,
		Streamer:    streamer,
	}, logging.GetGlobalLoggerFactory().CreateLogger("music"))

	commands.Initialize(orchestrator, voice, cfg)
	handlers.Initialize(cfg.Discord.CommandPrefix)
	dg.AddHandler(handlers.MessageHandler)

	healthServer := startHealthServer(cfg.Health.Addr, orchestrator)

	orchestrator.Start(ctx)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	presenceManager := presence.NewManager(dg, logging.GetGlobalLoggerFactory().CreateLogger("presence"))
	presenceManager.UpdateDefault()
	presenceManager.StartPeriodicUpdates(orchestrator.ActiveGuilds)

	logger.Info("bot is running", map[string]interface{}{
		"prefix": cfg.Discord.CommandPrefix,
		"health": cfg.Health.Addr,
	})

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info("shutting down", nil)

	presenceManager.Stop()
	shutdownHealthServer(healthServer)
	orchestrator.Shutdown()
	cancel()
	orchestrator.Wait()
	dg.Close()

	return nil
}

// startHealthServer exposes the loop heartbeats for liveness probes
func startHealthServer(addr string, orchestrator *music.Orchestrator) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		heartbeats := orchestrator.Heartbeats()
		now := time.Now()

		type loopStatus struct {
			LastBeat time.Time `json:"last_beat"`
			Healthy  bool      `json:"healthy"`
		}
		loops := make(map[string]loopStatus, len(heartbeats))
		healthy := true
		for name, at := range heartbeats {
			ok := now.Sub(at) < heartbeatStaleAfter
			if !ok {
				healthy = false
			}
			loops[name] = loopStatus{LastBeat: at, Healthy: ok}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"healthy": healthy,
			"loops":   loops,
			"time":    now,
		})
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health server error: %v", err)
		}
	}()
	return server
}

func shutdownHealthServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("health server shutdown error: %v", err)
	}
}
