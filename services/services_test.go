package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autofilter/database"
	"autofilter/telegram"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// Fakes

type fakeWordStore struct {
	mu    sync.Mutex
	words map[string]bool
	err   error
}

func newFakeWordStore(words ...string) *fakeWordStore {
	s := &fakeWordStore{words: map[string]bool{}}
	for _, w := range words {
		s.words[w] = true
	}
	return s
}

func (s *fakeWordStore) AddBannedWord(_ context.Context, word string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.words[word] {
		return false, nil
	}
	s.words[word] = true
	return true, nil
}

func (s *fakeWordStore) RemoveBannedWord(_ context.Context, word string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := s.words[word]
	delete(s.words, word)
	return existed, nil
}

func (s *fakeWordStore) ListBannedWords(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]string, 0, len(s.words))
	for w := range s.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out, nil
}

type fakeSender struct {
	mu      sync.Mutex
	sent    map[int64][]string
	failFor map[int64]error
	calls   atomic.Int32
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[int64][]string{}, failFor: map[int64]error{}}
}

func (s *fakeSender) SendMessage(_ context.Context, chatID int64, text string, _ ...telegram.SendOption) (int64, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[chatID]; err != nil {
		return 0, err
	}
	s.sent[chatID] = append(s.sent[chatID], text)
	return int64(len(s.sent[chatID])), nil
}

type fakeBroadcastStore struct {
	mu       sync.Mutex
	chatIDs  []int64
	created  []database.Broadcast
	finished map[uuid.UUID][2]int
}

func (s *fakeBroadcastStore) ListPrivateChatIDs(context.Context) ([]int64, error) {
	return s.chatIDs, nil
}

func (s *fakeBroadcastStore) CreateBroadcast(_ context.Context, b database.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, b)
	return nil
}

func (s *fakeBroadcastStore) FinishBroadcast(_ context.Context, id uuid.UUID, success, fail int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished == nil {
		s.finished = map[uuid.UUID][2]int{}
	}
	s.finished[id] = [2]int{success, fail}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(eventType string, _ int64, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (d *fakeDeleter) DeleteMessage(_ context.Context, chatID, messageID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, member(chatID, messageID))
	return nil
}

// Dispatcher

func TestDispatcherRunsTasks(t *testing.T) {
	d := NewDispatcher(3, 10)
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, d.Submit("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(5), ran.Load())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.True(t, d.Submit("blocker", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.True(t, d.Submit("queued", func(ctx context.Context) error { return nil }))
	assert.False(t, d.Submit("dropped", func(ctx context.Context) error { return nil }))
	assert.Equal(t, 1, d.Pending())

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.False(t, d.Submit("late", func(ctx context.Context) error { return nil }))
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(1, 4)
	var after atomic.Bool
	d.Submit("panics", func(ctx context.Context) error { panic("boom") })
	d.Submit("errors", func(ctx context.Context) error { return errors.New("nope") })
	d.Submit("after", func(ctx context.Context) error {
		after.Store(true)
		return nil
	})
	require.NoError(t, d.Shutdown(context.Background()))
	assert.True(t, after.Load(), "worker should survive a panicking task")
}

func TestDispatcherShutdownDeadlineCancelsTasks(t *testing.T) {
	d := NewDispatcher(1, 1)
	started := make(chan struct{})
	d.Submit("slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
}

// Deduper

func TestDeduperFirstSeen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewDeduper(rdb, 0)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, 1001)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := d.FirstSeen(ctx, 1002)
	require.NoError(t, err)
	assert.True(t, other)

	assert.Equal(t, DefaultDedupeTTL, mr.TTL("update:1001"))

	mr.FastForward(DefaultDedupeTTL + time.Second)
	expired, err := d.FirstSeen(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestDeduperFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() {
		_ = rdb.Close()
	}()
	d := NewDeduper(rdb, time.Minute)
	mr.Close()

	first, err := d.FirstSeen(context.Background(), 5)
	assert.Error(t, err)
	assert.True(t, first)
}

// Filter

func TestFilterMatchesCaseInsensitive(t *testing.T) {
	f := NewFilter(nil, []string{"badword1", " BadWord2 "})
	require.NoError(t, f.Reload(context.Background()))
	assert.True(t, f.Ready())

	w, ok := f.Match("this has BADWORD1 in it")
	assert.True(t, ok)
	assert.Equal(t, "badword1", w)

	_, ok = f.Match("xxBadword2xx")
	assert.True(t, ok)

	_, ok = f.Match("perfectly fine")
	assert.False(t, ok)
	_, ok = f.Match("")
	assert.False(t, ok)
}

func TestFilterMergesStoredAndSeedWords(t *testing.T) {
	store := newFakeWordStore("spam")
	f := NewFilter(store, []string{"badword1"}, []string{"scam"})
	assert.False(t, f.Ready())
	require.NoError(t, f.Reload(context.Background()))

	assert.Equal(t, []string{"badword1", "scam", "spam"}, f.Words())
}

func TestFilterAddRemove(t *testing.T) {
	ctx := context.Background()
	store := newFakeWordStore()
	f := NewFilter(store, []string{"badword1"})
	require.NoError(t, f.Reload(ctx))

	w, added, err := f.Add(ctx, "  Crypto ")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "crypto", w)
	_, ok := f.Match("free CRYPTO here")
	assert.True(t, ok)

	_, added, err = f.Add(ctx, "crypto")
	require.NoError(t, err)
	assert.False(t, added)

	_, added, err = f.Add(ctx, "BADWORD1")
	require.NoError(t, err)
	assert.False(t, added, "built-in words are already present")

	_, removed, err := f.Remove(ctx, "crypto")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok = f.Match("free crypto here")
	assert.False(t, ok)

	_, _, err = f.Remove(ctx, "badword1")
	assert.ErrorIs(t, err, ErrBuiltinWord)

	_, _, err = f.Add(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyWord)
}

func TestFilterReloadError(t *testing.T) {
	store := newFakeWordStore()
	store.err = errors.New("db down")
	f := NewFilter(store, []string{"badword1"})

	assert.Error(t, f.Reload(context.Background()))
	assert.False(t, f.Ready())
	_, ok := f.Match("badword1")
	assert.True(t, ok, "built-in words apply before the first reload")
}

func TestLoadFilterRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("banned_words:\n  - scam\n  - Phishing\n"), 0o600))

	words, err := LoadFilterRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"scam", "Phishing"}, words)

	words, err = LoadFilterRules("")
	require.NoError(t, err)
	assert.Nil(t, words)

	_, err = LoadFilterRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("banned_words: [unterminated"), 0o600))
	_, err = LoadFilterRules(bad)
	assert.Error(t, err)
}

func TestRulesReloaderSwapsBuiltinWords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("banned_words: [scam]\n"), 0o600))

	store := newFakeWordStore("stored")
	f := NewFilter(store, []string{"badword1"})
	require.NoError(t, f.Reload(context.Background()))

	r := NewRulesReloader(f, []string{"badword1"}, path, time.Minute)
	assert.True(t, r.Check())
	assert.Equal(t, []string{"badword1", "scam", "stored"}, f.Words())

	// Unchanged contents are not reapplied
	assert.False(t, r.Check())

	require.NoError(t, os.WriteFile(path, []byte("banned_words: [phishing]\n"), 0o600))
	assert.True(t, r.Check())
	assert.Equal(t, []string{"badword1", "phishing", "stored"}, f.Words())
	_, ok := f.Match("SCAM offer")
	assert.False(t, ok)

	// A broken file keeps the last good rules
	require.NoError(t, os.WriteFile(path, []byte("banned_words: [unterminated"), 0o600))
	assert.False(t, r.Check())
	_, ok = f.Match("phishing link")
	assert.True(t, ok)

	_, _, err := f.Remove(context.Background(), "phishing")
	assert.ErrorIs(t, err, ErrBuiltinWord)
}

func TestRulesReloaderWithoutFile(t *testing.T) {
	r := NewRulesReloader(NewFilter(nil), nil, "", 0)
	assert.False(t, r.Check())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx) // returns immediately
}

// AutoDeleter

func TestAutoDeleterSweepsDueMessages(t *testing.T) {
	_, rdb := newTestRedis(t)
	deleter := &fakeDeleter{}
	a := NewAutoDeleter(rdb, deleter, 5*time.Minute)
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, a.Schedule(ctx, -100, 1))
	require.NoError(t, a.Schedule(ctx, -100, 2))
	pending, err := a.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	n, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is due yet")

	now = now.Add(5 * time.Minute)
	n, err = a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"-100:1", "-100:2"}, deleter.deleted)

	n, err = a.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "each message is deleted once")
}

func TestAutoDeleterConcurrentSweepsDeleteOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	deleter := &fakeDeleter{}
	now := time.Unix(1_700_000_000, 0)

	a := NewAutoDeleter(rdb, deleter, time.Second)
	a.now = func() time.Time { return now }
	b := NewAutoDeleter(rdb, deleter, time.Second)
	b.now = a.now

	ctx := context.Background()
	for i := int64(1); i <= 20; i++ {
		require.NoError(t, a.Schedule(ctx, 7, i))
	}
	now = now.Add(time.Minute)

	var wg sync.WaitGroup
	for _, s := range []*AutoDeleter{a, b} {
		wg.Add(1)
		go func(s *AutoDeleter) {
			defer wg.Done()
			_, _ = s.Sweep(ctx)
		}(s)
	}
	wg.Wait()

	assert.Len(t, deleter.deleted, 20)
}

func TestAutoDeleterDisabled(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := NewAutoDeleter(rdb, &fakeDeleter{}, 0)
	assert.False(t, a.Enabled())
	require.NoError(t, a.Schedule(context.Background(), 1, 1))

	pending, err := a.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestAutoDeleterDeleteFailureIsNotRetried(t *testing.T) {
	_, rdb := newTestRedis(t)
	deleter := &fakeDeleter{err: errors.New("message can't be deleted")}
	a := NewAutoDeleter(rdb, deleter, time.Second)
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, a.Schedule(ctx, 1, 1))
	now = now.Add(time.Hour)
	n, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := a.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestParseMember(t *testing.T) {
	chat, msg, err := parseMember("-1001:42")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), chat)
	assert.Equal(t, int64(42), msg)

	_, _, err = parseMember("garbage")
	assert.Error(t, err)
	_, _, err = parseMember("x:1")
	assert.Error(t, err)
}

// Broadcaster

func TestBroadcasterDeliversToAllPrivateChats(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := &fakeBroadcastStore{chatIDs: []int64{1, 2, 3}}
	sender := newFakeSender()
	sender.failFor[2] = errors.New("bot was blocked by the user")
	pub := &recordingPublisher{}

	b := NewBroadcaster(rdb, store, sender, pub, 1000)
	id, err := b.Start(context.Background(), "hello all", 99)
	require.NoError(t, err)
	b.Wait()

	require.Len(t, store.created, 1)
	assert.Equal(t, id, store.created[0].ID)
	assert.Equal(t, 3, store.created[0].Total)
	assert.Equal(t, int64(99), store.created[0].StartedBy)
	assert.Equal(t, [2]int{2, 1}, store.finished[id])
	assert.Equal(t, []string{"hello all"}, sender.sent[1])
	assert.Equal(t, []string{"hello all"}, sender.sent[3])

	assert.Equal(t, []string{EventBroadcastStarted, EventBroadcastFinished}, pub.Types())
	assert.False(t, mr.Exists(broadcastLockKey), "lock is released after the run")
}

func TestBroadcasterSingleFlight(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := &fakeBroadcastStore{chatIDs: []int64{1}}
	b := NewBroadcaster(rdb, store, newFakeSender(), nil, 1000)

	// Another replica holds the lock.
	require.NoError(t, mr.Set(broadcastLockKey, "other-run"))
	_, err := b.Start(context.Background(), "hi", 1)
	assert.ErrorIs(t, err, ErrBroadcastInProgress)
	assert.Empty(t, store.created)

	running, err := b.Running(context.Background())
	require.NoError(t, err)
	assert.True(t, running)

	mr.Del(broadcastLockKey)
	_, err = b.Start(context.Background(), "hi", 1)
	require.NoError(t, err)
	b.Wait()
}

func TestBroadcasterDoesNotReleaseForeignLock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	b := NewBroadcaster(rdb, &fakeBroadcastStore{}, newFakeSender(), nil, 1000)

	require.NoError(t, mr.Set(broadcastLockKey, "someone-else"))
	b.unlock(uuid.New())
	assert.True(t, mr.Exists(broadcastLockKey))
}

func TestBroadcasterRejectsEmptyText(t *testing.T) {
	_, rdb := newTestRedis(t)
	b := NewBroadcaster(rdb, &fakeBroadcastStore{}, newFakeSender(), nil, 1000)
	_, err := b.Start(context.Background(), "", 1)
	assert.ErrorIs(t, err, ErrEmptyBroadcast)
}

func TestBroadcasterShutdownRecordsPartialRun(t *testing.T) {
	_, rdb := newTestRedis(t)
	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	store := &fakeBroadcastStore{chatIDs: ids}
	sender := newFakeSender()
	b := NewBroadcaster(rdb, store, sender, nil, 5)

	id, err := b.Start(context.Background(), "slow", 1)
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, b.Shutdown(context.Background()))

	result := store.finished[id]
	assert.Equal(t, 50, result[0]+result[1])
	assert.Less(t, result[0], 50)
}

func chatRange(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestBroadcasterExtendsLockWhileRunning(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := &fakeBroadcastStore{chatIDs: chatRange(100)}
	b := NewBroadcaster(rdb, store, newFakeSender(), nil, 10)
	b.lockRefresh = 20 * time.Millisecond
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })

	_, err := b.Start(context.Background(), "long run", 1)
	require.NoError(t, err)

	// Each jump would expire an unrefreshed lock on the next one
	for i := 0; i < 3; i++ {
		mr.FastForward(broadcastLockTTL - time.Second)
		require.Eventually(t, func() bool {
			return mr.TTL(broadcastLockKey) > broadcastLockTTL/2
		}, 2*time.Second, 10*time.Millisecond)
	}

	_, err = b.Start(context.Background(), "second run", 2)
	assert.ErrorIs(t, err, ErrBroadcastInProgress)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.created, 1)
}

func TestBroadcasterStopsWhenLockIsLost(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := &fakeBroadcastStore{chatIDs: chatRange(100)}
	b := NewBroadcaster(rdb, store, newFakeSender(), nil, 10)
	b.lockRefresh = 20 * time.Millisecond

	id, err := b.Start(context.Background(), "long run", 1)
	require.NoError(t, err)

	// The lock expired and another replica took it
	require.NoError(t, mr.Set(broadcastLockKey, "other-run"))

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast kept sending after another run took the lock")
	}

	store.mu.Lock()
	result := store.finished[id]
	store.mu.Unlock()
	assert.Equal(t, 100, result[0]+result[1])
	assert.Less(t, result[0], 100)

	owner, err := mr.Get(broadcastLockKey)
	require.NoError(t, err)
	assert.Equal(t, "other-run", owner)
}

func TestBroadcasterRejectsStartAfterShutdown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := &fakeBroadcastStore{chatIDs: chatRange(3)}
	b := NewBroadcaster(rdb, store, newFakeSender(), nil, 1000)

	require.NoError(t, b.Shutdown(context.Background()))

	_, err := b.Start(context.Background(), "too late", 1)
	assert.ErrorIs(t, err, ErrBroadcasterClosed)
	assert.False(t, mr.Exists(broadcastLockKey))
	assert.Empty(t, store.created)
}

func TestBroadcasterStartDuringShutdown(t *testing.T) {
	_, rdb := newTestRedis(t)
	b := NewBroadcaster(rdb, &fakeBroadcastStore{chatIDs: chatRange(20)}, newFakeSender(), nil, 5)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Start(context.Background(), "race", 1)
			if err != nil {
				assert.True(t, errors.Is(err, ErrBroadcasterClosed) || errors.Is(err, ErrBroadcastInProgress), err)
			}
		}()
	}
	require.NoError(t, b.Shutdown(context.Background()))
	wg.Wait()

	_, err := b.Start(context.Background(), "after", 1)
	assert.ErrorIs(t, err, ErrBroadcasterClosed)
}

// Cleanup

type fakeRetention struct {
	cutoff time.Time
	calls  int
}

func (f *fakeRetention) DeleteBroadcastsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	f.calls++
	return 3, nil
}

func TestRunCleanupTasks(t *testing.T) {
	store := &fakeRetention{}
	RunCleanupTasks(context.Background(), store, 90)
	assert.Equal(t, 1, store.calls)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -90), store.cutoff, time.Minute)

	RunCleanupTasks(context.Background(), store, 0)
	assert.Equal(t, 1, store.calls, "zero retention keeps history")
}

func TestStartCleanupServiceRejectsBadSchedule(t *testing.T) {
	_, err := StartCleanupService(&fakeRetention{}, "not a cron spec", 90)
	assert.Error(t, err)
}

func TestStartCleanupServiceSchedules(t *testing.T) {
	c, err := StartCleanupService(&fakeRetention{}, "@every 1h", 90)
	require.NoError(t, err)
	defer c.Stop()
	assert.Len(t, c.Entries(), 1)
}
