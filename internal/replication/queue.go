package replication

import (
	"context"
	"sync"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
)

// ChangeQueue buffers canonical changes in arrival order until a pull
// applies them. Capacity 0 means unbounded.
type ChangeQueue struct {
	mu       sync.Mutex
	items    []models.Document
	capacity int
	space    chan struct{}
	onAppend func()
}

func NewChangeQueue(capacity int, onAppend func()) *ChangeQueue {
	return &ChangeQueue{
		capacity: capacity,
		space:    make(chan struct{}),
		onAppend: onAppend,
	}
}

// Enqueue appends docs to the tail, waiting for room when the queue is full.
func (q *ChangeQueue) Enqueue(ctx context.Context, docs ...models.Document) error {
	for len(docs) > 0 {
		q.mu.Lock()
		free := len(docs)
		if q.capacity > 0 {
			free = min(free, q.capacity-len(q.items))
		}
		if free <= 0 {
			wait := q.space
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
			continue
		}
		for _, doc := range docs[:free] {
			q.items = append(q.items, doc.Clone())
		}
		docs = docs[free:]
		q.mu.Unlock()

		if q.onAppend != nil {
			q.onAppend()
		}
	}
	return nil
}

// Dequeue removes up to n entries from the head.
func (q *ChangeQueue) Dequeue(n int) []models.Document {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	n = min(n, len(q.items))
	out := make([]models.Document, n)
	copy(out, q.items[:n])
	rest := make([]models.Document, len(q.items)-n)
	copy(rest, q.items[n:])
	q.items = rest
	q.signalSpace()
	return out
}

// Requeue puts entries that could not be applied back at the head, ahead
// of anything enqueued meanwhile.
func (q *ChangeQueue) Requeue(docs []models.Document) {
	if len(docs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]models.Document, 0, len(docs)+len(q.items))
	items = append(items, docs...)
	items = append(items, q.items...)
	q.items = items
}

func (q *ChangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ChangeQueue) signalSpace() {
	close(q.space)
	q.space = make(chan struct{})
}
