package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"autofilter/database"
	"autofilter/metrics"
	"autofilter/telegram"
)

// ErrBroadcastInProgress is returned when another broadcast holds the lock
var ErrBroadcastInProgress = errors.New("a broadcast is already running")

// ErrEmptyBroadcast is returned for blank broadcast text
var ErrEmptyBroadcast = errors.New("broadcast text must not be empty")

// ErrBroadcasterClosed is returned by Start once Shutdown has begun
var ErrBroadcasterClosed = errors.New("broadcaster is shutting down")

// BroadcastStore is the persistence a broadcast needs
type BroadcastStore interface {
	ListPrivateChatIDs(ctx context.Context) ([]int64, error)
	CreateBroadcast(ctx context.Context, b database.Broadcast) error
	FinishBroadcast(ctx context.Context, id uuid.UUID, success, fail int) error
}

// MessageSender sends a text message
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts ...telegram.SendOption) (int64, error)
}

// releaseLock deletes the lock only if this broadcast still owns it
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendLock resets the lock TTL only if this broadcast still owns it
var extendLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

const (
	broadcastLockKey = "broadcast:lock"
	broadcastLockTTL = time.Hour
	progressEvery    = 50
)

// Broadcaster sends a text to every private chat, one run at a time across
// all replicas, paced to stay under Telegram's global send limit.
type Broadcaster struct {
	rdb       *redis.Client
	store     BroadcastStore
	sender    MessageSender
	publisher Publisher
	perSecond int
	// lockRefresh is how often a running broadcast extends its lock
	lockRefresh time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroadcaster creates a Broadcaster sending at most perSecond messages per second
func NewBroadcaster(rdb *redis.Client, store BroadcastStore, sender MessageSender, publisher Publisher, perSecond int) *Broadcaster {
	if perSecond <= 0 {
		perSecond = 20
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		rdb:         rdb,
		store:       store,
		sender:      sender,
		publisher:   publisher,
		perSecond:   perSecond,
		lockRefresh: broadcastLockTTL / 3,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// enter reserves a slot in the WaitGroup unless Shutdown has begun
func (b *Broadcaster) enter() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx.Err() != nil {
		return false
	}
	b.wg.Add(1)
	return true
}

// Start records a broadcast and runs it in the background. It returns
// ErrBroadcastInProgress when another run holds the lock.
func (b *Broadcaster) Start(ctx context.Context, text string, startedBy int64) (uuid.UUID, error) {
	if text == "" {
		return uuid.Nil, ErrEmptyBroadcast
	}
	if !b.enter() {
		return uuid.Nil, ErrBroadcasterClosed
	}
	launched := false
	defer func() {
		if !launched {
			b.wg.Done()
		}
	}()

	id := uuid.New()
	acquired, err := b.rdb.SetNX(ctx, broadcastLockKey, id.String(), broadcastLockTTL).Result()
	if err != nil {
		return uuid.Nil, fmt.Errorf("acquire broadcast lock: %w", err)
	}
	if !acquired {
		metrics.IncrementBroadcast("rejected")
		return uuid.Nil, ErrBroadcastInProgress
	}

	chatIDs, err := b.store.ListPrivateChatIDs(ctx)
	if err != nil {
		b.unlock(id)
		return uuid.Nil, err
	}

	record := database.Broadcast{
		ID:        id,
		Text:      text,
		Total:     len(chatIDs),
		StartedBy: startedBy,
		StartedAt: time.Now(),
	}
	if err := b.store.CreateBroadcast(ctx, record); err != nil {
		b.unlock(id)
		return uuid.Nil, err
	}

	metrics.IncrementBroadcast("started")
	b.publisher.Publish(EventBroadcastStarted, startedBy, fmt.Sprintf("%s: %d recipients", id, len(chatIDs)))
	log.Printf("📣 Broadcast %s started by %d for %d chats", id, startedBy, len(chatIDs))

	launched = true
	go func() {
		defer b.wg.Done()
		defer b.unlock(id)
		b.run(id, text, chatIDs)
	}()
	return id, nil
}

func (b *Broadcaster) run(id uuid.UUID, text string, chatIDs []int64) {
	start := time.Now()
	limiter := rate.NewLimiter(rate.Limit(b.perSecond), 1)
	success, fail := 0, 0

	ctx, stop := context.WithCancel(b.ctx)
	defer stop()
	go b.keepLock(ctx, stop, id)

	for i, chatID := range chatIDs {
		if err := limiter.Wait(ctx); err != nil {
			// Shutting down or the lock was lost: the rest is not delivered.
			fail += len(chatIDs) - i
			break
		}
		if err := b.send(ctx, chatID, text); err != nil {
			fail++
		} else {
			success++
		}
		if (i+1)%progressEvery == 0 {
			b.publisher.Publish(EventBroadcastProgress, 0, fmt.Sprintf("%s: %d/%d", id, i+1, len(chatIDs)))
		}
	}

	// Finalize even when shutting down so history reflects what was sent.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.store.FinishBroadcast(finishCtx, id, success, fail); err != nil {
		log.Printf("❌ Failed to record broadcast %s result: %v", id, err)
	}

	metrics.IncrementBroadcast("finished")
	metrics.RecordBroadcast(success, fail, time.Since(start))
	b.publisher.Publish(EventBroadcastFinished, 0, fmt.Sprintf("%s: success=%d fail=%d", id, success, fail))
	log.Printf("📣 Broadcast %s finished: success=%d fail=%d in %v", id, success, fail, time.Since(start))
}

// keepLock extends the lock every lockRefresh while ctx is live. It calls
// lost when another owner took the lock or the lock may have expired.
func (b *Broadcaster) keepLock(ctx context.Context, lost context.CancelFunc, id uuid.UUID) {
	ticker := time.NewTicker(b.lockRefresh)
	defer ticker.Stop()
	extended := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		n, err := extendLock.Run(callCtx, b.rdb, []string{broadcastLockKey}, id.String(), broadcastLockTTL.Milliseconds()).Int()
		cancel()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			log.Printf("⚠️ Failed to extend broadcast lock %s: %v", id, err)
			if time.Since(extended) < broadcastLockTTL {
				continue
			}
		case n == 1:
			extended = time.Now()
			continue
		}
		log.Printf("🛑 Broadcast %s lost its lock, stopping", id)
		metrics.IncrementBroadcast("lock_lost")
		lost()
		return
	}
}

// send delivers one message, honouring a single retry_after from the Bot API
func (b *Broadcaster) send(parent context.Context, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(parent, DefaultTaskTimeout)
	defer cancel()

	_, err := b.sender.SendMessage(ctx, chatID, text)
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		select {
		case <-time.After(time.Duration(apiErr.RetryAfter) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err = b.sender.SendMessage(ctx, chatID, text)
	}
	return err
}

func (b *Broadcaster) unlock(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseLock.Run(ctx, b.rdb, []string{broadcastLockKey}, id.String()).Err(); err != nil {
		log.Printf("⚠️ Failed to release broadcast lock %s: %v", id, err)
	}
}

// Running reports whether any replica currently holds the broadcast lock
func (b *Broadcaster) Running(ctx context.Context) (bool, error) {
	n, err := b.rdb.Exists(ctx, broadcastLockKey).Result()
	return n > 0, err
}

// Wait blocks until broadcasts started by this process have finished
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

// Shutdown rejects new broadcasts, stops in-flight ones and waits for them
// to record results
func (b *Broadcaster) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.cancel()
	b.mu.Unlock()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
