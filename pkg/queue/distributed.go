package queue

import (
	"context"
	"sync"
	"time"
)

// guildPartition tracks one guild's queue plus the bookkeeping used for
// fair selection between guilds.
type guildPartition[T any] struct {
	createdAt      time.Time
	lastIteratedAt time.Time
	queue          *Queue[T]
}

// DistributedQueue balances items between queues for multiple guilds.
// Get serves the highest-priority guild first; within a priority class the
// guild whose previous get returned earliest wins, so no single busy guild
// can starve the others.
type DistributedQueue[T any] struct {
	mu         sync.Mutex
	partitions map[string]*guildPartition[T]
	maxSize    int
	priorities map[string]int
	notify     chan struct{}
}

// NewDistributedQueue creates a distributed queue where each guild's
// partition is bounded at maxSize. The priority map assigns per-guild
// weights; guilds not present default to priority 0 and higher values win.
func NewDistributedQueue[T any](maxSize int, priorities map[string]int) *DistributedQueue[T] {
	if priorities == nil {
		priorities = map[string]int{}
	}
	return &DistributedQueue[T]{
		partitions: make(map[string]*guildPartition[T]),
		maxSize:    maxSize,
		priorities: priorities,
		notify:     make(chan struct{}, 1),
	}
}

// Put places an item into the guild's partition, creating it on first use
func (d *DistributedQueue[T]) Put(guildID string, item T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	part, exists := d.partitions[guildID]
	if !exists {
		part = &guildPartition[T]{
			createdAt: time.Now(),
			queue:     NewQueue[T](d.maxSize),
		}
		d.partitions[guildID] = part
	}
	if err := part.queue.PutNowait(item); err != nil {
		return err
	}
	d.signal()
	return nil
}

// GetNowait returns an item from the guild that has been waiting longest
// within the highest non-empty priority class. Empty partitions found during
// the scan are garbage-collected from the routing table.
func (d *DistributedQueue[T]) GetNowait() (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var zero T
	var bestGuild string
	var bestPriority int
	var bestTime time.Time
	found := false

	var removeGuilds []string
	for guildID, part := range d.partitions {
		if part.queue.Size() < 1 {
			removeGuilds = append(removeGuilds, guildID)
			continue
		}
		priority := d.priorities[guildID]
		checkTime := part.lastIteratedAt
		if checkTime.IsZero() {
			checkTime = part.createdAt
		}
		if !found || priority > bestPriority || (priority == bestPriority && checkTime.Before(bestTime)) {
			bestGuild = guildID
			bestPriority = priority
			bestTime = checkTime
			found = true
		}
	}
	for _, guildID := range removeGuilds {
		// Double check its still empty
		if d.partitions[guildID].queue.Size() == 0 {
			delete(d.partitions, guildID)
		}
	}

	if !found {
		return zero, ErrQueueEmpty
	}
	item, err := d.partitions[bestGuild].queue.GetNowait()
	if err != nil {
		return zero, err
	}
	d.partitions[bestGuild].lastIteratedAt = time.Now()
	return item, nil
}

// Get blocks until an item is available or the context is cancelled
func (d *DistributedQueue[T]) Get(ctx context.Context) (T, error) {
	for {
		item, err := d.GetNowait()
		if err == nil {
			return item, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-d.notify:
		}
	}
}

// Size returns the number of items queued for a single guild
func (d *DistributedQueue[T]) Size(guildID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	part, exists := d.partitions[guildID]
	if !exists {
		return 0
	}
	return part.queue.Size()
}

// TotalSize returns the number of items queued across all guilds
func (d *DistributedQueue[T]) TotalSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := 0
	for _, part := range d.partitions {
		total += part.queue.Size()
	}
	return total
}

// ClearGuild removes the guild's partition and returns its pending items
func (d *DistributedQueue[T]) ClearGuild(guildID string) []T {
	d.mu.Lock()
	defer d.mu.Unlock()

	part, exists := d.partitions[guildID]
	if !exists {
		return nil
	}
	delete(d.partitions, guildID)
	return part.queue.Clear()
}

// BlockGuild rejects future puts for the guild, for player shutdown
func (d *DistributedQueue[T]) BlockGuild(guildID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	part, exists := d.partitions[guildID]
	if !exists {
		return false
	}
	part.queue.Block()
	return true
}

func (d *DistributedQueue[T]) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}
