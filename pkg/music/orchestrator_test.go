package music

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/dispatch"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/history"
	"github.com/jukeboxd/jukebox/pkg/logging"
	"github.com/jukeboxd/jukebox/pkg/player"
	"github.com/jukeboxd/jukebox/pkg/search"
)

type fakeMessenger struct {
	mu   sync.Mutex
	next int
}

func (f *fakeMessenger) Send(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return fmt.Sprintf("msg-%d", f.next), nil
}

func (f *fakeMessenger) Edit(_ context.Context, _, _, _ string) error   { return nil }
func (f *fakeMessenger) Delete(_ context.Context, _, _ string) error    { return nil }
func (f *fakeMessenger) FetchRecent(_ context.Context, _ string, _ int) ([]string, error) {
	return nil, nil
}

type fakeResolver struct {
	requests []*bundle.MediaRequest
	err      error
}

func (f *fakeResolver) Resolve(_ context.Context, _ search.RequestInput) ([]*bundle.MediaRequest, error) {
	return f.requests, f.err
}

type fakeSearcher struct {
	videoID string
	err     error
	calls   int
}

func (f *fakeSearcher) SearchVideoID(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.videoID, f.err
}

type fakeDownloader struct {
	mu    sync.Mutex
	fn    func(req *bundle.MediaRequest) (*download.MediaDownload, error)
	calls int
}

func (f *fakeDownloader) Download(_ context.Context, req *bundle.MediaRequest) (*download.MediaDownload, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeDownloader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu       sync.Mutex
	entries  map[string]*models.VideoCache
	memo     map[string]string
	acquired map[string]int
	released map[string]int
	inserted []string
	failures map[string]*download.Error
	memoPuts map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:  make(map[string]*models.VideoCache),
		memo:     make(map[string]string),
		acquired: make(map[string]int),
		released: make(map[string]int),
		failures: make(map[string]*download.Error),
		memoPuts: make(map[string]string),
	}
}

func (f *fakeCache) Lookup(url string) (*models.VideoCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[url], nil
}

func (f *fakeCache) Insert(dl *download.MediaDownload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, dl.WebpageURL)
	return nil
}

func (f *fakeCache) InsertFailure(url string, dlErr *download.Error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = dlErr
	return nil
}

func (f *fakeCache) LinkForUse(entry *models.VideoCache, req *bundle.MediaRequest, guildDir string) (*download.MediaDownload, error) {
	f.Acquire(entry.URL)
	if err := os.MkdirAll(guildDir, 0o755); err != nil {
		f.Release(entry.URL)
		return nil, err
	}
	playPath := filepath.Join(guildDir, req.ID+".opus")
	if err := os.WriteFile(playPath, []byte("audio"), 0o644); err != nil {
		f.Release(entry.URL)
		return nil, err
	}
	return &download.MediaDownload{
		Request:         req,
		WebpageURL:      entry.URL,
		Title:           entry.Title,
		Uploader:        entry.Uploader,
		DurationSeconds: entry.DurationSeconds,
		SourcePath:      entry.Path,
		PlayPath:        playPath,
		CacheHit:        true,
	}, nil
}

func (f *fakeCache) Acquire(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired[url]++
}

func (f *fakeCache) Release(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[url]++
}

func (f *fakeCache) SearchLookup(_ bundle.SearchType, query string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memo[query], nil
}

func (f *fakeCache) SearchInsert(_ bundle.SearchType, query, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memoPuts[query] = url
	return nil
}

func (f *fakeCache) RandomEntries(n int) ([]models.VideoCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.VideoCache
	for _, e := range f.entries {
		if e.FailureKind != "" {
			continue
		}
		out = append(out, *e)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out, nil
}

func (f *fakeCache) MarkLRUForDelete() (int, error)                  { return 0, nil }
func (f *fakeCache) CollectDeletable() ([]models.VideoCache, error)  { return nil, nil }
func (f *fakeCache) DeleteEntries(context.Context, []models.VideoCache) error { return nil }
func (f *fakeCache) BackupPending(context.Context, int) (int, error) { return 0, nil }
func (f *fakeCache) TrimSearchCache() (int, error)                   { return 0, nil }

type fakeRecorder struct {
	mu      sync.Mutex
	records []history.PlayedItem
	recent  []models.PlaylistItem
}

func (f *fakeRecorder) Record(item history.PlayedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, item)
	return nil
}

func (f *fakeRecorder) Recent(_ string, _ int) ([]models.PlaylistItem, error) {
	return f.recent, nil
}

func (f *fakeRecorder) Analytics(_ string) (*models.GuildAnalytics, error) {
	return &models.GuildAnalytics{}, nil
}

type addedItem struct {
	playlistID uuid.UUID
	url        string
	title      string
}

type fakePlaylists struct {
	mu       sync.Mutex
	added    []addedItem
	history  []models.PlaylistItem
	saved    map[string]*models.Playlist
	items    map[uuid.UUID][]models.PlaylistItem
	queuedAt []uuid.UUID
}

func newFakePlaylists() *fakePlaylists {
	return &fakePlaylists{
		saved: make(map[string]*models.Playlist),
		items: make(map[uuid.UUID][]models.PlaylistItem),
	}
}

func (f *fakePlaylists) Create(guildID, name string) (*models.Playlist, error) {
	p := &models.Playlist{ID: uuid.New(), GuildID: guildID, Name: name}
	f.saved[name] = p
	return p, nil
}

func (f *fakePlaylists) Get(_, name string) (*models.Playlist, error) {
	return f.saved[name], nil
}

func (f *fakePlaylists) List(string) ([]models.Playlist, error) { return nil, nil }
func (f *fakePlaylists) Delete(string, string) error            { return nil }
func (f *fakePlaylists) Rename(string, string, string) error    { return nil }

func (f *fakePlaylists) AddItem(playlistID uuid.UUID, url, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, addedItem{playlistID: playlistID, url: url, title: title})
	return nil
}

func (f *fakePlaylists) Items(playlistID uuid.UUID) ([]models.PlaylistItem, error) {
	return f.items[playlistID], nil
}

func (f *fakePlaylists) RemoveItem(uuid.UUID) error { return nil }

func (f *fakePlaylists) MarkQueued(p *models.Playlist) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queuedAt = append(f.queuedAt, p.ID)
	return nil
}

func (f *fakePlaylists) RandomHistoryItems(_ string, n int) ([]models.PlaylistItem, error) {
	if n == 0 || n > len(f.history) {
		return f.history, nil
	}
	return f.history[:n], nil
}

type fakeConn struct {
	channelID string
}

func (f *fakeConn) Speaking(bool) error     { return nil }
func (f *fakeConn) OpusSend() chan<- []byte { return make(chan []byte, 16) }
func (f *fakeConn) Disconnect() error       { return nil }
func (f *fakeConn) ChannelID() string       { return f.channelID }

type fakeVoice struct {
	mu    sync.Mutex
	joins []string
}

func (f *fakeVoice) Join(_, channelID string) (player.VoiceConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, channelID)
	return &fakeConn{channelID: channelID}, nil
}

func (f *fakeVoice) NonBotMembers(_, _ string) (int, error) { return 1, nil }

type fakeStreamer struct {
	mu     sync.Mutex
	played []string
}

func (f *fakeStreamer) Stream(_ context.Context, path string, _ chan<- []byte, _ *player.PauseGate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, path)
	return nil
}

func (f *fakeStreamer) playedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

type testHarness struct {
	orch       *Orchestrator
	resolver   *fakeResolver
	searcher   *fakeSearcher
	downloader *fakeDownloader
	cache      *fakeCache
	recorder   *fakeRecorder
	playlists  *fakePlaylists
	voice      *fakeVoice
	streamer   *fakeStreamer
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := logging.NewZapLogger("test")
	h := &testHarness{
		resolver:   &fakeResolver{},
		searcher:   &fakeSearcher{},
		downloader: &fakeDownloader{},
		cache:      newFakeCache(),
		recorder:   &fakeRecorder{},
		playlists:  newFakePlaylists(),
		voice:      &fakeVoice{},
		streamer:   &fakeStreamer{},
	}
	h.downloader.fn = func(req *bundle.MediaRequest) (*download.MediaDownload, error) {
		return nil, fmt.Errorf("unexpected download call for %s", req.RawSearch)
	}
	dispatcher := dispatch.NewMessageDispatcher(&fakeMessenger{}, logger, 0)
	h.orch = NewOrchestrator(Config{
		DownloadDir:      t.TempDir(),
		BaseDownloadWait: time.Millisecond,
	}, Deps{
		Dispatcher: dispatcher,
		Resolver:   h.resolver,
		MusicSearch: h.searcher,
		Downloader: h.downloader,
		Cache:      h.cache,
		Recorder:   h.recorder,
		Playlists:  h.playlists,
		Voice:      h.voice,
		Streamer:   h.streamer,
	}, logger)
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func testInput() search.RequestInput {
	return search.RequestInput{
		GuildID:       "guild-1",
		ChannelID:     "chan-1",
		RequesterName: "tester",
		RequesterID:   "user-1",
		Input:         "https://www.youtube.com/watch?v=abc123",
	}
}

func videoRequest(in search.RequestInput, url string) *bundle.MediaRequest {
	return bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, url, bundle.SearchTypeVideoURL)
}

func requestStage(t *testing.T, o *Orchestrator, req *bundle.MediaRequest) bundle.LifecycleStage {
	t.Helper()
	b := o.bundleFor(req)
	require.NotNil(t, b)
	completed, failed, discarded := stageCounts(b)
	switch {
	case completed > 0:
		return bundle.StageCompleted
	case failed > 0:
		return bundle.StageFailed
	case discarded > 0:
		return bundle.StageDiscarded
	}
	return bundle.StageQueued
}

func stageCounts(b *bundle.RequestBundle) (int, int, int) {
	_, completed, failed, discarded := b.Counters()
	return completed, failed, discarded
}

func TestPlayCacheHitDeliversToPlayer(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	url := "https://www.youtube.com/watch?v=abc123"
	req := videoRequest(in, url)
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.cache.entries[url] = &models.VideoCache{
		URL:   url,
		Title: "A Song",
		Path:  filepath.Join(t.TempDir(), "src.opus"),
	}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))

	waitFor(t, func() bool {
		return len(h.streamer.playedPaths()) == 1
	})
	assert.Equal(t, bundle.StageCompleted, requestStage(t, h.orch, req))
	assert.Equal(t, []string{"voice-1"}, h.voice.joins)
	assert.Zero(t, h.downloader.callCount())

	// Playback finished, so the cache reference is dropped and the play
	// lands on the history queue for the write loop
	waitFor(t, func() bool {
		h.cache.mu.Lock()
		defer h.cache.mu.Unlock()
		return h.cache.released[url] == 1
	})
	waitFor(t, func() bool {
		return h.orch.historyQueue.Size() == 1
	})
}

func TestPlayFailureSentinelFailsFast(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	url := "https://www.youtube.com/watch?v=dead"
	req := videoRequest(in, url)
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.cache.entries[url] = &models.VideoCache{
		URL:            url,
		FailureKind:    string(download.ErrKindPrivate),
		FailureMessage: "Video is private",
	}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))

	assert.Equal(t, bundle.StageFailed, requestStage(t, h.orch, req))
	assert.Zero(t, h.orch.downloadQueue.TotalSize())
}

func TestPlayCacheMissEnqueuesDownload(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	req := videoRequest(in, "https://www.youtube.com/watch?v=new1")
	h.resolver.requests = []*bundle.MediaRequest{req}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))

	assert.Equal(t, 1, h.orch.downloadQueue.TotalSize())
}

func TestProcessSearchMemoHitSkipsCatalog(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	req := bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, "artist - song", bundle.SearchTypeStreamingTrack)
	req.BundleID = "missing"
	h.cache.memo["artist - song"] = "https://www.youtube.com/watch?v=memo1"

	h.orch.processSearch(context.Background(), req)

	assert.Zero(t, h.searcher.calls)
	assert.Equal(t, "https://www.youtube.com/watch?v=memo1", req.ResolvedSearch)
	assert.Equal(t, 1, h.orch.downloadQueue.TotalSize())
}

func TestProcessSearchNoResults(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	in.Input = "some obscure song"
	req := bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, in.Input, bundle.SearchTypeFreeText)
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.searcher.videoID = ""

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
	h.orch.processSearch(context.Background(), req)

	assert.Equal(t, 1, h.searcher.calls)
	assert.Equal(t, bundle.StageFailed, requestStage(t, h.orch, req))
}

func TestDownloadTerminalErrorRecordsSentinel(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	url := "https://www.youtube.com/watch?v=gone"
	req := videoRequest(in, url)
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.downloader.fn = func(*bundle.MediaRequest) (*download.MediaDownload, error) {
		return nil, &download.Error{
			Kind:        download.ErrKindUnavailable,
			Message:     "video unavailable",
			UserMessage: "Video is unavailable, cannot download",
		}
	}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
	h.orch.processDownload(context.Background(), req)

	assert.Equal(t, bundle.StageFailed, requestStage(t, h.orch, req))
	assert.Contains(t, h.cache.failures, url)
	assert.Zero(t, h.orch.downloadQueue.TotalSize())
}

func TestDownloadRetryableErrorRequeues(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	req := videoRequest(in, "https://www.youtube.com/watch?v=flaky")
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.downloader.fn = func(*bundle.MediaRequest) (*download.MediaDownload, error) {
		return nil, &download.Error{
			Kind:        download.ErrKindTimeout,
			Message:     "timed out",
			UserMessage: "Download timed out",
		}
	}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
	require.Equal(t, 1, h.orch.downloadQueue.TotalSize())
	got, err := h.orch.downloadQueue.Get(context.Background())
	require.NoError(t, err)

	h.orch.processDownload(context.Background(), got)

	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 1, h.orch.downloadQueue.TotalSize())
	assert.NotContains(t, h.cache.failures, got.ResolvedSearch)
}

func TestDownloadRetryableErrorExhaustsRetries(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	req := videoRequest(in, "https://www.youtube.com/watch?v=flaky")
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.downloader.fn = func(*bundle.MediaRequest) (*download.MediaDownload, error) {
		return nil, &download.Error{
			Kind:        download.ErrKindNetwork,
			Message:     "connection reset",
			UserMessage: "Network issue downloading",
		}
	}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
	req.RetryCount = h.orch.cfg.MaxRetries

	got, err := h.orch.downloadQueue.Get(context.Background())
	require.NoError(t, err)
	h.orch.processDownload(context.Background(), got)

	assert.Equal(t, bundle.StageFailed, requestStage(t, h.orch, req))
	assert.Zero(t, h.orch.downloadQueue.TotalSize())
}

func TestDownloadSuccessCachesAndDelivers(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	url := "https://www.youtube.com/watch?v=fresh"
	req := videoRequest(in, url)
	h.resolver.requests = []*bundle.MediaRequest{req}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "youtube.fresh.opus")
	require.NoError(t, os.WriteFile(srcPath, []byte("audio"), 0o644))
	h.downloader.fn = func(r *bundle.MediaRequest) (*download.MediaDownload, error) {
		return &download.MediaDownload{
			Request:    r,
			WebpageURL: url,
			Title:      "Fresh Track",
			Uploader:   "Uploader",
			SourcePath: srcPath,
		}, nil
	}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
	got, err := h.orch.downloadQueue.Get(context.Background())
	require.NoError(t, err)
	h.orch.processDownload(context.Background(), got)

	assert.Equal(t, []string{url}, h.cache.inserted)
	assert.Equal(t, bundle.StageCompleted, requestStage(t, h.orch, req))
	waitFor(t, func() bool {
		return len(h.streamer.playedPaths()) == 1
	})
}

func TestPlayToPlaylistSkipsPlayer(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	url := "https://www.youtube.com/watch?v=keep"
	req := videoRequest(in, url)
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.cache.entries[url] = &models.VideoCache{URL: url, Title: "Kept", Path: "/tmp/none"}
	playlistID := uuid.New()

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{AddToPlaylist: &playlistID}))

	assert.Equal(t, bundle.StageCompleted, requestStage(t, h.orch, req))
	require.Len(t, h.playlists.added, 1)
	assert.Equal(t, playlistID, h.playlists.added[0].playlistID)
	assert.Equal(t, url, h.playlists.added[0].url)
	assert.Nil(t, h.orch.Player(in.GuildID))
	assert.Empty(t, h.voice.joins)
}

func TestShutdownDiscardsQueuedWork(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	req := videoRequest(in, "https://www.youtube.com/watch?v=waiting")
	h.resolver.requests = []*bundle.MediaRequest{req}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
	require.Equal(t, 1, h.orch.downloadQueue.TotalSize())

	h.orch.Shutdown()

	assert.Equal(t, bundle.StageDiscarded, requestStage(t, h.orch, req))
	assert.Zero(t, h.orch.downloadQueue.TotalSize())
	assert.Error(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
}

func TestReapBundlesAfterGracePeriod(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	url := "https://www.youtube.com/watch?v=done"
	req := videoRequest(in, url)
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.cache.entries[url] = &models.VideoCache{
		URL:            url,
		FailureKind:    string(download.ErrKindPrivate),
		FailureMessage: "Video is private",
	}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
	b := h.orch.bundleFor(req)
	require.NotNil(t, b)
	require.True(t, b.Finished())

	// Still inside the grace period
	h.orch.reapBundles(time.Now())
	assert.NotNil(t, h.orch.bundleFor(req))

	h.orch.reapBundles(time.Now().Add(h.orch.cfg.BundleGracePeriod + time.Minute))
	assert.Nil(t, h.orch.bundleFor(req))
}

func TestRandomPlayUsesHistory(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	h.playlists.history = []models.PlaylistItem{
		{ID: uuid.New(), URL: "https://www.youtube.com/watch?v=old1", Title: "Old One"},
		{ID: uuid.New(), URL: "https://www.youtube.com/watch?v=old2", Title: "Old Two"},
	}

	require.NoError(t, h.orch.RandomPlay(in, "voice-1", 2))

	assert.Equal(t, 2, h.orch.downloadQueue.TotalSize())
	got, err := h.orch.downloadQueue.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, got.FromHistory)
	assert.Equal(t, "Old One", got.DisplayNameOverride)
}

func TestRandomPlayEmptyHistory(t *testing.T) {
	h := newTestHarness(t)
	assert.Error(t, h.orch.RandomPlay(testInput(), "voice-1", 3))
}

func TestPlaylistQueueMarksQueued(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	p, err := h.playlists.Create(in.GuildID, "road trip")
	require.NoError(t, err)
	h.playlists.items[p.ID] = []models.PlaylistItem{
		{ID: uuid.New(), URL: "https://www.youtube.com/watch?v=trip1", Title: "Trip One"},
	}

	require.NoError(t, h.orch.PlaylistQueue(in, "voice-1", "road trip", false))

	assert.Equal(t, 1, h.orch.downloadQueue.TotalSize())
	assert.Equal(t, []uuid.UUID{p.ID}, h.playlists.queuedAt)
	got, err := h.orch.downloadQueue.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, got.FromHistory)
}

func TestPlaylistQueueUnknownPlaylist(t *testing.T) {
	h := newTestHarness(t)
	assert.Error(t, h.orch.PlaylistQueue(testInput(), "voice-1", "nope", false))
}

func TestControlsWithoutPlayer(t *testing.T) {
	h := newTestHarness(t)
	assert.ErrorIs(t, h.orch.Skip("guild-x"), ErrNotPlaying)
	assert.ErrorIs(t, h.orch.Pause("guild-x"), ErrNotPlaying)
	assert.ErrorIs(t, h.orch.Resume("guild-x"), ErrNotPlaying)
	assert.ErrorIs(t, h.orch.Stop("guild-x"), ErrNotPlaying)
	assert.ErrorIs(t, h.orch.Shuffle("guild-x"), ErrNotPlaying)
	assert.Nil(t, h.orch.NowPlaying("guild-x"))
}

func TestDownloadRetryableErrorShowsRetryRow(t *testing.T) {
	h := newTestHarness(t)
	in := testInput()
	req := videoRequest(in, "https://www.youtube.com/watch?v=flaky")
	h.resolver.requests = []*bundle.MediaRequest{req}
	h.downloader.fn = func(*bundle.MediaRequest) (*download.MediaDownload, error) {
		return nil, &download.Error{
			Kind:        download.ErrKindTimeout,
			Message:     "timed out",
			UserMessage: "Download timed out",
		}
	}

	require.NoError(t, h.orch.Play(context.Background(), in, PlayOptions{VoiceChannelID: "voice-1"}))
	got, err := h.orch.downloadQueue.Get(context.Background())
	require.NoError(t, err)
	h.orch.processDownload(context.Background(), got)

	b := h.orch.bundleFor(got)
	require.NotNil(t, b)
	rendered := strings.Join(b.Render(), "\n")
	assert.Contains(t, rendered, "will retry")
}

func TestConfigDefaultsFailureTrackerAndSearchQueue(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	assert.Equal(t, 100, cfg.FailureMaxSize)
	assert.Equal(t, 5*time.Minute, cfg.FailureMaxAge)
	assert.Equal(t, cfg.QueueSize*10, cfg.SearchQueueSize)

	cfg = Config{QueueSize: 2}
	cfg.applyDefaults()
	assert.Equal(t, 20, cfg.SearchQueueSize)
}

func TestSearchQueueHoldsTenTimesDownloadCapacity(t *testing.T) {
	logger := logging.NewZapLogger("test")
	o := NewOrchestrator(Config{QueueSize: 2}, Deps{}, logger)
	in := testInput()

	for i := 0; i < 20; i++ {
		require.NoError(t, o.searchQueue.Put(in.GuildID, videoRequest(in, "https://example.com/v")))
	}
	assert.Error(t, o.searchQueue.Put(in.GuildID, videoRequest(in, "https://example.com/v")))

	require.NoError(t, o.downloadQueue.Put(in.GuildID, videoRequest(in, "https://example.com/v")))
	require.NoError(t, o.downloadQueue.Put(in.GuildID, videoRequest(in, "https://example.com/v")))
	assert.Error(t, o.downloadQueue.Put(in.GuildID, videoRequest(in, "https://example.com/v")))
}

func TestFailureTrackerUsesConfiguredBounds(t *testing.T) {
	logger := logging.NewZapLogger("test")
	o := NewOrchestrator(Config{FailureMaxSize: 2, FailureMaxAge: time.Hour}, Deps{}, logger)

	for i := 0; i < 5; i++ {
		o.failures.RecordFailure("connection reset")
	}
	assert.Equal(t, 2, o.failures.Multiplier())
}

func TestPlayerShutdownEndsRunLoop(t *testing.T) {
	h := newTestHarness(t)
	p := h.orch.EnsurePlayer("guild-1", "chan-1")
	p.Shutdown()
	waitFor(t, func() bool {
		return h.orch.Player("guild-1") == nil
	})

	done := make(chan struct{})
	go func() {
		h.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("player run goroutine still parked after shutdown")
	}
}
