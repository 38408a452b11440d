package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukeboxd/jukebox/pkg/logging"
)

// fakeMessenger records chat operations and keeps per-channel message order
type fakeMessenger struct {
	mu       sync.Mutex
	nextID   int
	ops      []string
	messages map[string][]string // channelID -> message ids, oldest first
	contents map[string]string   // message id -> content

	failEdit   map[string]error
	failSend   error
	failDelete map[string]error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		messages:   map[string][]string{},
		contents:   map[string]string{},
		failEdit:   map[string]error{},
		failDelete: map[string]error{},
	}
}

func (f *fakeMessenger) Send(_ context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		err := f.failSend
		f.failSend = nil
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.messages[channelID] = append(f.messages[channelID], id)
	f.contents[id] = content
	f.ops = append(f.ops, "send:"+id)
	return id, nil
}

func (f *fakeMessenger) Edit(_ context.Context, _, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failEdit[messageID]; ok {
		return err
	}
	f.contents[messageID] = content
	f.ops = append(f.ops, "edit:"+messageID)
	return nil
}

func (f *fakeMessenger) Delete(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failDelete[messageID]; ok {
		return err
	}
	ids := f.messages[channelID]
	for i, id := range ids {
		if id == messageID {
			f.messages[channelID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	delete(f.contents, messageID)
	f.ops = append(f.ops, "delete:"+messageID)
	return nil
}

func (f *fakeMessenger) FetchRecent(_ context.Context, channelID string, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.messages[channelID]
	var out []string
	for i := len(ids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ids[i])
	}
	return out, nil
}

func (f *fakeMessenger) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

func (f *fakeMessenger) resetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

type staticRenderer struct {
	mu    sync.Mutex
	pages []string
}

func (s *staticRenderer) Render() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

func (s *staticRenderer) set(pages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = pages
}

func newTestDispatcher(t *testing.T) (*MessageDispatcher, *fakeMessenger) {
	t.Helper()
	fm := newFakeMessenger()
	logger := logging.NewLoggerFactory().CreateLogger("dispatch-test")
	return NewMessageDispatcher(fm, logger, 0), fm
}

func TestDispatcherInitialSend(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("page one", "page two")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")

	worked, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, []string{"send:msg-1", "send:msg-2"}, fm.opLog())
	assert.Equal(t, 2, d.BundleMessageCount("b1"))
}

func TestDispatcherEditOnlyChangedPage(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("page one", "page two")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	fm.resetOps()

	r.set("page one", "page two changed")
	d.Touch("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"edit:msg-2"}, fm.opLog())
}

func TestDispatcherUnchangedContentNoOps(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("page one")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	fm.resetOps()

	d.Touch("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fm.opLog())
}

func TestDispatcherGrowSendsExtraPages(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("page one")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	fm.resetOps()

	r.set("page one", "page two")
	d.Touch("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"send:msg-2"}, fm.opLog())
	assert.Equal(t, 2, d.BundleMessageCount("b1"))
}

func TestDispatcherShrinkDeletesUnmatchedMiddle(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("A", "B", "C", "D")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	fm.resetOps()

	// [A,B,C,D] -> [A,B,D]: only C's message is deleted
	r.set("A", "B", "D")
	d.Touch("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"delete:msg-3"}, fm.opLog())
	assert.Equal(t, 3, d.BundleMessageCount("b1"))
}

func TestDispatcherShrinkEditsWhenNoMatch(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("one", "two", "three")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	fm.resetOps()

	r.set("alpha", "beta")
	d.Touch("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)

	ops := fm.opLog()
	assert.Len(t, ops, 3)
	assert.Contains(t, ops, "delete:msg-3")
	assert.Equal(t, 2, d.BundleMessageCount("b1"))
}

func TestDispatcherStickyReanchor(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("now playing")
	d.RegisterBundle("b1", "guild", "chan", true, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)

	// Someone else posts below the bundle's message
	fm.Send(context.Background(), "chan", "unrelated chatter") //nolint:errcheck
	fm.resetOps()

	d.Touch("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	// Old message deleted and content resent at the bottom
	assert.Equal(t, []string{"delete:msg-1", "send:msg-3"}, fm.opLog())
}

func TestDispatcherStickyStaysWhenAnchored(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("now playing")
	d.RegisterBundle("b1", "guild", "chan", true, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	fm.resetOps()

	r.set("now playing: something else")
	d.Touch("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"edit:msg-1"}, fm.opLog())
}

func TestDispatcherNotFoundForgetsHandle(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("page one", "page two")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)

	fm.failEdit["msg-1"] = ErrNotFound
	fm.resetOps()

	r.set("changed one", "changed two")
	d.Touch("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	// First edit 404s and the handle is dropped; second edit proceeds
	assert.Equal(t, []string{"edit:msg-2"}, fm.opLog())
	assert.Equal(t, 1, d.BundleMessageCount("b1"))
}

func TestDispatcherTransientErrorRetries(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("page one")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")

	fm.failSend = ErrTransient
	_, err := d.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 0, d.BundleMessageCount("b1"))

	// Bundle stays pending and succeeds on the next tick
	worked, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, 1, d.BundleMessageCount("b1"))
}

func TestDispatcherImmutableQueueServedWhenIdle(t *testing.T) {
	d, fm := newTestDispatcher(t)
	d.QueueMessage("chan", "one-off", 0)

	worked, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, []string{"send:msg-1"}, fm.opLog())

	worked, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestDispatcherBundleTakesPrecedenceOverImmutable(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("bundle page")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")
	d.QueueMessage("chan", "one-off", 0)

	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bundle page", fm.contents["msg-1"])

	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one-off", fm.contents["msg-2"])
}

func TestDispatcherRemoveBundleDeletesMessages(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("page one", "page two")
	d.RegisterBundle("b1", "guild", "chan", false, r)
	d.Touch("b1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	fm.resetOps()

	d.RemoveBundle("b1")
	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"delete:msg-1", "delete:msg-2"}, fm.opLog())
	assert.False(t, d.HasBundle("b1"))
}

func TestDispatcherOldestTouchedServedFirst(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r1 := &staticRenderer{}
	r1.set("first bundle")
	r2 := &staticRenderer{}
	r2.set("second bundle")
	d.RegisterBundle("b1", "guild", "chan-a", false, r1)
	d.RegisterBundle("b2", "guild", "chan-b", false, r2)

	d.Touch("b2")
	d.Touch("b1")

	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second bundle", fm.contents["msg-1"])

	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first bundle", fm.contents["msg-2"])
}

func TestDispatcherReregisterAfterRemoveBeforeTick(t *testing.T) {
	d, fm := newTestDispatcher(t)
	r := &staticRenderer{}
	r.set("old player queue")
	d.RegisterBundle("play-order-g1", "g1", "chan", true, r)
	d.Touch("play-order-g1")
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, d.BundleMessageCount("play-order-g1"))

	// Remove and re-register under the same id before any tick runs, the
	// way a stop immediately followed by play does
	d.RemoveBundle("play-order-g1")
	r2 := &staticRenderer{}
	r2.set("new player queue")
	d.RegisterBundle("play-order-g1", "g1", "chan", true, r2)

	_, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, d.HasBundle("play-order-g1"))

	// The replaced registration's message is deleted out of band
	require.Eventually(t, func() bool {
		for _, op := range fm.opLog() {
			if op == "delete:msg-1" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	d.Touch("play-order-g1")
	worked, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	sent := false
	for _, content := range fm.contents {
		if content == "new player queue" {
			sent = true
		}
	}
	assert.True(t, sent)
	assert.Equal(t, 1, d.BundleMessageCount("play-order-g1"))
}
