package music

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/dispatch"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/history"
	"github.com/jukeboxd/jukebox/pkg/logging"
	"github.com/jukeboxd/jukebox/pkg/player"
	"github.com/jukeboxd/jukebox/pkg/queue"
	"github.com/jukeboxd/jukebox/pkg/search"
)

// SearchResolver turns raw user input into media requests
type SearchResolver interface {
	Resolve(ctx context.Context, in search.RequestInput) ([]*bundle.MediaRequest, error)
}

// MediaDownloader fetches a request's media onto local disk
type MediaDownloader interface {
	Download(ctx context.Context, req *bundle.MediaRequest) (*download.MediaDownload, error)
}

// TrackCache is the download cache surface the pipeline drives
type TrackCache interface {
	Lookup(url string) (*models.VideoCache, error)
	Insert(dl *download.MediaDownload) error
	InsertFailure(url string, dlErr *download.Error) error
	LinkForUse(entry *models.VideoCache, req *bundle.MediaRequest, guildDir string) (*download.MediaDownload, error)
	Acquire(url string)
	Release(url string)
	RandomEntries(n int) ([]models.VideoCache, error)
	SearchLookup(searchType bundle.SearchType, query string) (string, error)
	SearchInsert(searchType bundle.SearchType, query, url string) error
	MarkLRUForDelete() (int, error)
	CollectDeletable() ([]models.VideoCache, error)
	DeleteEntries(ctx context.Context, entries []models.VideoCache) error
	BackupPending(ctx context.Context, limit int) (int, error)
	TrimSearchCache() (int, error)
}

// PlayRecorder persists finished plays and serves history reads
type PlayRecorder interface {
	Record(item history.PlayedItem) error
	Recent(guildID string, limit int) ([]models.PlaylistItem, error)
	Analytics(guildID string) (*models.GuildAnalytics, error)
}

// PlaylistStore manages saved playlists and history replay selection
type PlaylistStore interface {
	Create(guildID, name string) (*models.Playlist, error)
	Get(guildID, name string) (*models.Playlist, error)
	List(guildID string) ([]models.Playlist, error)
	Delete(guildID, name string) error
	Rename(guildID, oldName, newName string) error
	AddItem(playlistID uuid.UUID, url, title, uploader string) error
	Items(playlistID uuid.UUID) ([]models.PlaylistItem, error)
	RemoveItem(itemID uuid.UUID) error
	MarkQueued(playlist *models.Playlist) error
	RandomHistoryItems(guildID string, n int) ([]models.PlaylistItem, error)
}

// Loop names used for heartbeat reporting
const (
	LoopDispatch       = "dispatch"
	LoopSearch         = "search"
	LoopDownload       = "download"
	LoopPlayerCleanup  = "cleanup-players"
	LoopCacheCleanup   = "cache-cleanup"
	LoopHistoryWrite   = "history-write"
	LoopBundleReaper   = "bundle-reaper"
)

// Config tunes the orchestrator's queues, retries, and timers
type Config struct {
	DownloadDir         string
	QueueSize           int
	SearchQueueSize     int
	PlayerQueueSize     int
	MaxRetries          int
	BaseDownloadWait    time.Duration
	FailureMaxSize      int
	FailureMaxAge       time.Duration
	BundleGracePeriod   time.Duration
	PageCharLimit       int
	EmptyChannelTimeout time.Duration
	HistoryQueueSize    int
	BackupBatchSize     int
	CacheCleanupSpec    string
	GuildPriorities     map[string]int
}

func (c *Config) applyDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 128
	}
	// Search work is cheap compared to downloads, so its queue holds an
	// order of magnitude more
	if c.SearchQueueSize == 0 {
		c.SearchQueueSize = c.QueueSize * 10
	}
	if c.PlayerQueueSize == 0 {
		c.PlayerQueueSize = 64
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDownloadWait == 0 {
		c.BaseDownloadWait = 2 * time.Second
	}
	if c.FailureMaxSize == 0 {
		c.FailureMaxSize = 100
	}
	if c.FailureMaxAge == 0 {
		c.FailureMaxAge = 5 * time.Minute
	}
	if c.BundleGracePeriod == 0 {
		c.BundleGracePeriod = 5 * time.Minute
	}
	if c.PageCharLimit == 0 {
		c.PageCharLimit = 1500
	}
	if c.EmptyChannelTimeout == 0 {
		c.EmptyChannelTimeout = 5 * time.Minute
	}
	if c.HistoryQueueSize == 0 {
		c.HistoryQueueSize = 256
	}
	if c.BackupBatchSize == 0 {
		c.BackupBatchSize = 10
	}
	if c.CacheCleanupSpec == "" {
		c.CacheCleanupSpec = "@every 5m"
	}
}

// Orchestrator wires the request pipeline together: search and download
// queues, per-guild players, the download cache, and the background loops
// that keep them all moving.
type Orchestrator struct {
	cfg    Config
	logger logging.Logger

	dispatcher  *dispatch.MessageDispatcher
	resolver    SearchResolver
	musicSearch search.MusicSearcher
	downloader  MediaDownloader
	cache       TrackCache
	recorder    PlayRecorder
	playlists   PlaylistStore
	voice       player.VoiceSession
	streamer    player.AudioStreamer

	searchQueue   *queue.DistributedQueue[*bundle.MediaRequest]
	downloadQueue *queue.DistributedQueue[*bundle.MediaRequest]
	historyQueue  *queue.Queue[history.PlayedItem]
	failures      *queue.FailureTracker

	mu           sync.Mutex
	players      map[string]*player.GuildPlayer
	bundles      map[string]*bundle.RequestBundle
	heartbeats   map[string]time.Time
	shuttingDown bool

	runCtx context.Context
	cron   *cron.Cron
	loops  *errgroup.Group
	wg     sync.WaitGroup
}

// Deps carries the orchestrator's collaborators. MusicSearch may be nil
// when no search catalog is configured.
type Deps struct {
	Dispatcher  *dispatch.MessageDispatcher
	Resolver    SearchResolver
	MusicSearch search.MusicSearcher
	Downloader  MediaDownloader
	Cache       TrackCache
	Recorder    PlayRecorder
	Playlists   PlaylistStore
	Voice       player.VoiceSession
	Streamer    player.AudioStreamer
}

// NewOrchestrator creates the orchestrator with empty queues and no
// players. Start launches the loops.
func NewOrchestrator(cfg Config, deps Deps, logger logging.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:           cfg,
		logger:        logger,
		dispatcher:    deps.Dispatcher,
		resolver:      deps.Resolver,
		musicSearch:   deps.MusicSearch,
		downloader:    deps.Downloader,
		cache:         deps.Cache,
		recorder:      deps.Recorder,
		playlists:     deps.Playlists,
		voice:         deps.Voice,
		streamer:      deps.Streamer,
		searchQueue:   queue.NewDistributedQueue[*bundle.MediaRequest](cfg.SearchQueueSize, cfg.GuildPriorities),
		downloadQueue: queue.NewDistributedQueue[*bundle.MediaRequest](cfg.QueueSize, cfg.GuildPriorities),
		historyQueue:  queue.NewQueue[history.PlayedItem](cfg.HistoryQueueSize),
		failures:      queue.NewFailureTracker(cfg.FailureMaxSize, cfg.FailureMaxAge),
		players:       make(map[string]*player.GuildPlayer),
		bundles:       make(map[string]*bundle.RequestBundle),
		heartbeats:    make(map[string]time.Time),
	}
}

// Start launches every background loop. The loops stop when ctx is
// cancelled; call Wait to join them.
func (o *Orchestrator) Start(ctx context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	o.runCtx = ctx
	o.loops = group

	loops := map[string]func(context.Context){
		LoopDispatch:      o.runDispatchLoop,
		LoopSearch:        o.runSearchLoop,
		LoopDownload:      o.runDownloadLoop,
		LoopPlayerCleanup: o.runPlayerCleanupLoop,
		LoopHistoryWrite:  o.runHistoryLoop,
		LoopBundleReaper:  o.runBundleReaperLoop,
	}
	for name, loop := range loops {
		name, loop := name, loop
		group.Go(func() error {
			o.logger.Info("loop started", map[string]interface{}{"loop": name})
			loop(ctx)
			o.logger.Info("loop exited", map[string]interface{}{"loop": name})
			return nil
		})
	}

	o.cron = cron.New()
	o.cron.AddFunc(o.cfg.CacheCleanupSpec, func() {
		o.runCacheCleanup(ctx)
	})
	o.cron.Start()
}

// Wait blocks until every loop and player has exited
func (o *Orchestrator) Wait() {
	if o.loops != nil {
		o.loops.Wait()
	}
	o.wg.Wait()
}

// Shutdown marks the pipeline as stopping, discards queued work, and shuts
// every player down. Loop contexts are cancelled by the caller.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return
	}
	o.shuttingDown = true
	players := make([]*player.GuildPlayer, 0, len(o.players))
	for _, p := range o.players {
		players = append(players, p)
	}
	o.mu.Unlock()

	if o.cron != nil {
		o.cron.Stop()
	}

	// Queued work that never reached a player is discarded, not failed
	for {
		req, err := o.searchQueue.GetNowait()
		if err != nil {
			break
		}
		o.updateRow(req, bundle.StageDiscarded, "")
	}
	for {
		req, err := o.downloadQueue.GetNowait()
		if err != nil {
			break
		}
		o.updateRow(req, bundle.StageDiscarded, "")
	}

	for _, p := range players {
		p.Shutdown()
	}

	o.mu.Lock()
	for id, b := range o.bundles {
		b.Shutdown()
		o.dispatcher.RemoveBundle(id)
		delete(o.bundles, id)
	}
	o.mu.Unlock()

	o.logger.Info("orchestrator shut down", nil)
}

// Heartbeats returns a copy of each loop's last-iteration timestamp
func (o *Orchestrator) Heartbeats() map[string]time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]time.Time, len(o.heartbeats))
	for name, at := range o.heartbeats {
		out[name] = at
	}
	return out
}

func (o *Orchestrator) heartbeat(name string) {
	o.mu.Lock()
	o.heartbeats[name] = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) isShuttingDown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shuttingDown
}

// ActiveGuilds returns how many guilds currently have a player
func (o *Orchestrator) ActiveGuilds() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.players)
}

// Player returns the guild's player, nil when none exists
func (o *Orchestrator) Player(guildID string) *player.GuildPlayer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.players[guildID]
}

// EnsurePlayer returns the guild's player, creating and starting one bound
// to the text channel when absent
func (o *Orchestrator) EnsurePlayer(guildID, textChannelID string) *player.GuildPlayer {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.players[guildID]; ok {
		return p
	}

	baseCtx := o.runCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	// Each player gets its own run context so a stopped player's Run
	// goroutine exits instead of parking until process shutdown
	runCtx, stopRun := context.WithCancel(baseCtx)

	hooks := player.Hooks{
		OnFinished: func(item history.PlayedItem) {
			if err := o.historyQueue.PutNowait(item); err != nil {
				o.logger.Warn("history queue full, dropping record", map[string]interface{}{
					"guild_id": item.GuildID,
				})
			}
		},
		OnRelease: func(url string) {
			o.cache.Release(url)
		},
		OnStopped: func(guildID string) {
			stopRun()
			o.mu.Lock()
			delete(o.players, guildID)
			o.mu.Unlock()
		},
	}

	logger := logging.GetGlobalLoggerFactory().CreatePlayerLogger(guildID)
	p := player.NewGuildPlayer(guildID, textChannelID, player.Config{
		QueueSize:           o.cfg.PlayerQueueSize,
		EmptyChannelTimeout: o.cfg.EmptyChannelTimeout,
	}, o.voice, o.streamer, o.dispatcher, hooks, logger)
	o.players[guildID] = p

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		p.Run(runCtx)
	}()
	return p
}

// Playlists exposes the playlist manager for command handlers
func (o *Orchestrator) Playlists() PlaylistStore {
	return o.playlists
}

// Recorder exposes the history recorder for command handlers
func (o *Orchestrator) Recorder() PlayRecorder {
	return o.recorder
}

// FailureSummary reports the backoff tracker state for diagnostics
func (o *Orchestrator) FailureSummary() string {
	return o.failures.StatusSummary()
}

func (o *Orchestrator) guildDir(guildID string) string {
	return filepath.Join(o.cfg.DownloadDir, guildID)
}

func (o *Orchestrator) trackBundle(b *bundle.RequestBundle) {
	o.mu.Lock()
	o.bundles[b.ID] = b
	o.mu.Unlock()
}

func (o *Orchestrator) bundleFor(req *bundle.MediaRequest) *bundle.RequestBundle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bundles[req.BundleID]
}

// updateRow advances a request's bundle row and wakes the dispatcher
func (o *Orchestrator) updateRow(req *bundle.MediaRequest, stage bundle.LifecycleStage, reason string) {
	b := o.bundleFor(req)
	if b == nil {
		return
	}
	b.UpdateRequest(req.ID, stage, reason)
	o.dispatcher.Touch(b.ID)
}
