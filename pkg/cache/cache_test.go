package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/logging"
)

type memoryStore struct {
	entries  map[string]models.VideoCache
	searches map[string]models.SearchString
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entries:  make(map[string]models.VideoCache),
		searches: make(map[string]models.SearchString),
	}
}

func (m *memoryStore) GetEntry(url string) (*models.VideoCache, error) {
	entry, ok := m.entries[url]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *memoryStore) SaveEntry(entry *models.VideoCache) error {
	m.entries[entry.URL] = *entry
	return nil
}

func (m *memoryStore) DeleteEntry(url string) error {
	delete(m.entries, url)
	return nil
}

func (m *memoryStore) ListEntries() ([]models.VideoCache, error) {
	var out []models.VideoCache
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	return out, nil
}

func (m *memoryStore) CountEntries() (int64, error) {
	return int64(len(m.entries)), nil
}

func (m *memoryStore) OldestUnmarked(limit int) ([]models.VideoCache, error) {
	var out []models.VideoCache
	for _, entry := range m.entries {
		if !entry.MarkedForDelete && entry.FailureKind == "" {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastIteratedAt.Before(out[j].LastIteratedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) MarkedEntries() ([]models.VideoCache, error) {
	var out []models.VideoCache
	for _, entry := range m.entries {
		if entry.MarkedForDelete {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memoryStore) PendingBackup(limit int) ([]models.VideoCache, error) {
	var out []models.VideoCache
	for _, entry := range m.entries {
		if entry.BackupKey == "" && !entry.MarkedForDelete && entry.FailureKind == "" {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) GetSearch(query string) (*models.SearchString, error) {
	search, ok := m.searches[query]
	if !ok {
		return nil, nil
	}
	return &search, nil
}

func (m *memoryStore) SaveSearch(search *models.SearchString) error {
	m.searches[search.Query] = *search
	return nil
}

func (m *memoryStore) CountSearch() (int64, error) {
	return int64(len(m.searches)), nil
}

func (m *memoryStore) OldestSearches(limit int) ([]models.SearchString, error) {
	var out []models.SearchString
	for _, search := range m.searches {
		out = append(out, search)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastIteratedAt.Before(out[j].LastIteratedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) DeleteSearch(query string) error {
	delete(m.searches, query)
	return nil
}

type fakeObjectStore struct {
	objects map[string][]byte
	nextID  int
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Put(_ context.Context, _, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.nextID++
	key := fmt.Sprintf("obj-%d", f.nextID)
	f.objects[key] = data
	return key, nil
}

func (f *fakeObjectStore) Get(_ context.Context, key, localPath string) error {
	data, ok := f.objects[key]
	if !ok {
		return fmt.Errorf("object %s not found", key)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (f *fakeObjectStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func testCache(t *testing.T, store entryStore, objectStore ObjectStore, maxEntries int) *DownloadCache {
	t.Helper()
	logger := logging.NewLoggerFactory().CreateLogger("cache-test")
	return NewDownloadCache(store, objectStore, Config{
		Directory:        t.TempDir(),
		MaxEntries:       maxEntries,
		MaxSearchEntries: 2,
	}, logger)
}

func testDownload(url, path string) *download.MediaDownload {
	req := bundle.NewMediaRequest("guild-1", "chan-1", "tester", "user-1", url, bundle.SearchTypeVideoURL)
	req.ResolvedSearch = url
	return &download.MediaDownload{
		Request:         req,
		WebpageURL:      url,
		Title:           "Title",
		Uploader:        "Uploader",
		DurationSeconds: 120,
		SourcePath:      path,
	}
}

func writeCachedFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	return path
}

func TestLookupMissAndHit(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	entry, err := c.Lookup("https://example.com/v1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, c.Insert(testDownload("https://example.com/v1", "/tmp/v1.opus")))

	entry, err = c.Lookup("https://example.com/v1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Title", entry.Title)
}

func TestLookupBumpsRecency(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Insert(testDownload("https://example.com/v1", "/tmp/v1.opus")))

	c.now = func() time.Time { return base.Add(time.Hour) }
	entry, err := c.Lookup("https://example.com/v1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), entry.LastIteratedAt)

	stored, _ := store.GetEntry("https://example.com/v1")
	assert.Equal(t, base.Add(time.Hour), stored.LastIteratedAt)
}

func TestInsertIdempotent(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	require.NoError(t, c.Insert(testDownload("https://example.com/v1", "/tmp/v1.opus")))
	require.NoError(t, c.Insert(testDownload("https://example.com/v1", "/tmp/v1.opus")))

	count, _ := store.CountEntries()
	assert.EqualValues(t, 1, count)
}

func TestInsertClearsFailureSentinel(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	require.NoError(t, c.InsertFailure("https://example.com/v1", &download.Error{
		Kind:        download.ErrKindAgeRestricted,
		UserMessage: "age restricted",
	}))
	entry, err := c.Lookup("https://example.com/v1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, string(download.ErrKindAgeRestricted), entry.FailureKind)

	require.NoError(t, c.Insert(testDownload("https://example.com/v1", "/tmp/v1.opus")))
	entry, err = c.Lookup("https://example.com/v1")
	require.NoError(t, err)
	assert.Empty(t, entry.FailureKind)
}

func TestLinkForUseProducesPerUseCopy(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	source := writeCachedFile(t, t.TempDir(), "youtube.abc.opus")
	require.NoError(t, c.Insert(testDownload("https://example.com/v1", source)))
	entry, err := c.Lookup("https://example.com/v1")
	require.NoError(t, err)

	req := bundle.NewMediaRequest("guild-1", "chan-1", "tester", "user-1", "https://example.com/v1", bundle.SearchTypeVideoURL)
	guildDir := t.TempDir()
	dl, err := c.LinkForUse(entry, req, guildDir)
	require.NoError(t, err)
	assert.True(t, dl.CacheHit)
	assert.NotEqual(t, source, dl.PlayPath)
	assert.True(t, c.isInTransit("https://example.com/v1"))

	// Per-use copy deletion leaves the source intact
	require.NoError(t, dl.Delete())
	_, err = os.Stat(source)
	assert.NoError(t, err)

	c.Release("https://example.com/v1")
	assert.False(t, c.isInTransit("https://example.com/v1"))
}

func TestMarkLRUSkipsInTransit(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 2)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		c.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		url := fmt.Sprintf("https://example.com/v%d", i)
		require.NoError(t, c.Insert(testDownload(url, fmt.Sprintf("/tmp/v%d.opus", i))))
	}

	// Oldest entry is playing somewhere
	c.Acquire("https://example.com/v0")

	marked, err := c.MarkLRUForDelete()
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	v0, _ := store.GetEntry("https://example.com/v0")
	assert.False(t, v0.MarkedForDelete)
	v1, _ := store.GetEntry("https://example.com/v1")
	assert.True(t, v1.MarkedForDelete)
	v2, _ := store.GetEntry("https://example.com/v2")
	assert.True(t, v2.MarkedForDelete)
}

func TestCollectDeletableExcludesInTransit(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 0)

	require.NoError(t, c.Insert(testDownload("https://example.com/v1", "/tmp/v1.opus")))
	require.NoError(t, c.Insert(testDownload("https://example.com/v2", "/tmp/v2.opus")))
	_, err := c.MarkLRUForDelete()
	require.NoError(t, err)

	c.Acquire("https://example.com/v1")
	deletable, err := c.CollectDeletable()
	require.NoError(t, err)
	require.Len(t, deletable, 1)
	assert.Equal(t, "https://example.com/v2", deletable[0].URL)

	c.Release("https://example.com/v1")
	deletable, err = c.CollectDeletable()
	require.NoError(t, err)
	assert.Len(t, deletable, 2)
}

func TestDeleteEntriesRemovesFilesAndBackups(t *testing.T) {
	store := newMemoryStore()
	objectStore := newFakeObjectStore()
	c := testCache(t, store, objectStore, 0)

	dir := t.TempDir()
	path := writeCachedFile(t, dir, "youtube.v1.opus")
	require.NoError(t, c.Insert(testDownload("https://example.com/v1", path)))

	uploaded, err := c.BackupPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, uploaded)

	_, err = c.MarkLRUForDelete()
	require.NoError(t, err)
	deletable, err := c.CollectDeletable()
	require.NoError(t, err)
	require.NoError(t, c.DeleteEntries(context.Background(), deletable))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, objectStore.objects)
	count, _ := store.CountEntries()
	assert.EqualValues(t, 0, count)
}

func TestBackupPendingRecordsKeys(t *testing.T) {
	store := newMemoryStore()
	objectStore := newFakeObjectStore()
	c := testCache(t, store, objectStore, 10)

	dir := t.TempDir()
	path := writeCachedFile(t, dir, "youtube.v1.opus")
	require.NoError(t, c.Insert(testDownload("https://example.com/v1", path)))

	uploaded, err := c.BackupPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, uploaded)

	entry, _ := store.GetEntry("https://example.com/v1")
	assert.NotEmpty(t, entry.BackupKey)

	// Second run finds nothing pending
	uploaded, err = c.BackupPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, uploaded)
}

func TestVerifyCacheRestoresFromBackup(t *testing.T) {
	store := newMemoryStore()
	objectStore := newFakeObjectStore()
	logger := logging.NewLoggerFactory().CreateLogger("cache-test")
	dir := t.TempDir()
	c := NewDownloadCache(store, objectStore, Config{
		Directory:        dir,
		MaxEntries:       10,
		MaxSearchEntries: 10,
	}, logger)

	path := writeCachedFile(t, dir, "youtube.v1.opus")
	require.NoError(t, c.Insert(testDownload("https://example.com/v1", path)))
	_, err := c.BackupPending(context.Background(), 10)
	require.NoError(t, err)

	// Simulate a wiped local file plus a stray one
	require.NoError(t, os.Remove(path))
	stray := filepath.Join(dir, "stray.opus")
	require.NoError(t, os.WriteFile(stray, []byte("junk"), 0o644))

	require.NoError(t, c.VerifyCache(context.Background()))

	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}

func TestVerifyCacheDropsUnrestorableEntries(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	require.NoError(t, c.Insert(testDownload("https://example.com/v1", filepath.Join(t.TempDir(), "gone.opus"))))
	require.NoError(t, c.VerifyCache(context.Background()))

	count, _ := store.CountEntries()
	assert.EqualValues(t, 0, count)
}

func TestSearchMemoizationOnlyForStreamingTracks(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	require.NoError(t, c.SearchInsert(bundle.SearchTypeFreeText, "some song", "https://example.com/v1"))
	url, err := c.SearchLookup(bundle.SearchTypeFreeText, "some song")
	require.NoError(t, err)
	assert.Empty(t, url)

	require.NoError(t, c.SearchInsert(bundle.SearchTypeStreamingTrack, "artist title", "https://example.com/v2"))
	url, err = c.SearchLookup(bundle.SearchTypeStreamingTrack, "artist title")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v2", url)
}

func TestTrimSearchCacheEvictsOldest(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		c.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		require.NoError(t, c.SearchInsert(bundle.SearchTypeStreamingTrack, fmt.Sprintf("query %d", i), fmt.Sprintf("https://example.com/v%d", i)))
	}

	removed, err := c.TrimSearchCache()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	url, err := c.SearchLookup(bundle.SearchTypeStreamingTrack, "query 0")
	require.NoError(t, err)
	assert.Empty(t, url)
	url, err = c.SearchLookup(bundle.SearchTypeStreamingTrack, "query 3")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v3", url)
}

func TestRandomEntriesSkipsSentinelsAndMarked(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	require.NoError(t, c.Insert(testDownload("https://example.com/v1", "/tmp/v1.opus")))
	require.NoError(t, c.Insert(testDownload("https://example.com/v2", "/tmp/v2.opus")))
	require.NoError(t, c.InsertFailure("https://example.com/v3", &download.Error{
		Kind:        download.ErrKindAgeRestricted,
		UserMessage: "age restricted",
	}))
	marked := store.entries["https://example.com/v2"]
	marked.MarkedForDelete = true
	store.entries["https://example.com/v2"] = marked

	entries, err := c.RandomEntries(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://example.com/v1", entries[0].URL)

	entries, err = c.RandomEntries(0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInsertFailureOverExistingEntryRemovesFile(t *testing.T) {
	store := newMemoryStore()
	c := testCache(t, store, nil, 10)

	dir := t.TempDir()
	path := writeCachedFile(t, dir, "v1.opus")
	require.NoError(t, c.Insert(testDownload("https://example.com/v1", path)))

	require.NoError(t, c.InsertFailure("https://example.com/v1", &download.Error{
		Kind:        download.ErrKindAgeRestricted,
		UserMessage: "age restricted",
	}))

	entry, err := store.GetEntry("https://example.com/v1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, string(download.ErrKindAgeRestricted), entry.FailureKind)
	assert.Equal(t, "Title", entry.Title)
	assert.Empty(t, entry.Path)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
