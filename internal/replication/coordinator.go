package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/internal/bus"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
)

const (
	DefaultPushBatchSize = 5
	DefaultPullBatchSize = 10
	DefaultRetryTime     = 5 * time.Second
	DefaultPollInterval  = 30 * time.Second
	DefaultLeaseRenewal  = 5 * time.Second
)

// ErrLeaseLost aborts a cycle whose leadership could not be renewed.
var ErrLeaseLost = errors.New("replication lease lost")

type Options struct {
	PushBatchSize int
	PullBatchSize int
	RetryTime     time.Duration
	PollInterval  time.Duration
	QueueCapacity int
	LeaseRenewal  time.Duration
	Conflict      ConflictHandler
}

func (o Options) withDefaults() Options {
	if o.PushBatchSize <= 0 {
		o.PushBatchSize = DefaultPushBatchSize
	}
	if o.PullBatchSize <= 0 {
		o.PullBatchSize = DefaultPullBatchSize
	}
	if o.RetryTime <= 0 {
		o.RetryTime = DefaultRetryTime
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.LeaseRenewal <= 0 {
		o.LeaseRenewal = DefaultLeaseRenewal
	}
	if o.Conflict == nil {
		o.Conflict = Resolve
	}
	return o
}

type PullResult struct {
	Documents  []models.Document
	Checkpoint models.Checkpoint
}

type CoordinatorParams struct {
	Collection string
	Schema     models.Schema
	Store      store.Store
	Bus        *bus.Bus
	Transport  Transport
	Elector    Elector
	Options    Options
}

// Coordinator replicates one collection between the local store and the
// canonical store.
type Coordinator struct {
	name      string
	schema    models.Schema
	opts      Options
	store     store.Store
	bus       *bus.Bus
	transport Transport
	elector   Elector
	queue     *ChangeQueue
	metrics   *metrics

	// pullMu makes checkpoint read-compute-write atomic.
	pullMu sync.Mutex
	// pushMu keeps one push in flight at a time.
	pushMu sync.Mutex

	mu         sync.Mutex
	checkpoint models.Checkpoint
	reported   models.Checkpoint
	canonical  map[string]models.Document
	assumed    map[string]models.Document
	conflicts  map[string]bool
	leader     bool
	decided    bool
	busy       bool
	started    bool
	lastErr    error
	changed    chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}

	wake chan struct{}
}

func NewCoordinator(p CoordinatorParams) (*Coordinator, error) {
	if p.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if p.Store == nil || p.Transport == nil || p.Elector == nil {
		return nil, fmt.Errorf("coordinator %s: store, transport and elector are required", p.Collection)
	}
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("replication metrics: %w", err)
	}

	c := &Coordinator{
		name:      p.Collection,
		schema:    p.Schema,
		opts:      p.Options.withDefaults(),
		store:     p.Store,
		bus:       p.Bus,
		transport: p.Transport,
		elector:   p.Elector,
		metrics:   m,
		canonical: make(map[string]models.Document),
		assumed:   make(map[string]models.Document),
		conflicts: make(map[string]bool),
		changed:   make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
	c.queue = NewChangeQueue(c.opts.QueueCapacity, func() {
		c.metrics.setQueueDepth(c.name, c.queue.Len())
		c.Resync()
	})
	return c, nil
}

func (c *Coordinator) Name() string { return c.name }

func (c *Coordinator) leaseKey() string {
	return c.name + "-replication"
}

// Start launches the live replication loop. It returns immediately; the
// loop runs until ctx ends or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(logger.WithValues(ctx, "collection", c.name))
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if c.bus != nil {
		events, unsubscribe := c.bus.Subscribe(func(ev bus.ChangeEvent) bool {
			return ev.Collection == c.name && ev.Origin == bus.OriginLocal
		})
		go func() {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case <-events:
					c.Resync()
				}
			}
		}()
	}

	go c.run(ctx)
	log.Infow(ctx, "Replication started", "push_batch_size", c.opts.PushBatchSize, "pull_batch_size", c.opts.PullBatchSize)
}

// Stop cancels the loop, waits for it to exit and gives up leadership.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.elector.Release(releaseCtx, c.leaseKey()); err != nil {
			log.Warnw(ctx, "Failed to release leadership", "error", err)
		}
		c.mu.Lock()
		c.started = false
		c.leader = false
		c.notifyLocked()
		done := c.done
		c.mu.Unlock()
		close(done)
		log.Infow(ctx, "Replication stopped")
	}()

	attempt := 0
	for {
		err := c.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		c.setLastErr(err)

		if err != nil {
			attempt++
			log.Errorw(ctx, "Replication cycle failed", "attempt", attempt, "error", err)
			timer := time.NewTimer(c.opts.RetryTime)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		attempt = 0

		timer := time.NewTimer(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// cycle runs one leader-gated pass: drain the queue, push every unsynced
// local change, then publish the checkpoint. The lease is renewed in the
// background while the pass runs and losing it aborts the pass.
func (c *Coordinator) cycle(ctx context.Context) error {
	leader, err := c.elector.Acquire(ctx, c.leaseKey())
	c.setLeader(leader && err == nil)
	if err != nil {
		return fmt.Errorf("acquire leadership: %w", err)
	}
	if !leader {
		return nil
	}

	c.setBusy(true)
	defer c.setBusy(false)

	ctx, abort := context.WithCancelCause(ctx)
	held := make(chan struct{})
	go func() {
		defer close(held)
		c.holdLease(ctx, abort)
	}()
	defer func() {
		abort(nil)
		<-held
	}()

	err = c.replicate(ctx)
	if cause := context.Cause(ctx); errors.Is(cause, ErrLeaseLost) {
		return cause
	}
	return err
}

func (c *Coordinator) replicate(ctx context.Context) error {
	for c.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Pull(ctx, c.Checkpoint(), c.opts.PullBatchSize); err != nil {
			return err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.Push(ctx, c.opts.PushBatchSize)
		if err != nil {
			return err
		}
		if n < c.opts.PushBatchSize {
			break
		}
	}
	return c.reportCheckpoint(ctx)
}

// holdLease renews leadership every LeaseRenewal until ctx ends. A failed
// or refused renewal cancels ctx with ErrLeaseLost.
func (c *Coordinator) holdLease(ctx context.Context, abort context.CancelCauseFunc) {
	ticker := time.NewTicker(c.opts.LeaseRenewal)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := c.elector.Acquire(ctx, c.leaseKey())
		if ctx.Err() != nil {
			return
		}
		if err == nil && ok {
			continue
		}
		lost := ErrLeaseLost
		if err != nil {
			lost = fmt.Errorf("%w: %w", ErrLeaseLost, err)
		}
		log.Warnw(ctx, "Replication lease lost mid-cycle", "collection", c.name, "error", err)
		c.setLeader(false)
		abort(lost)
		return
	}
}

// Pull applies up to batchSize queued canonical changes to the local store
// in arrival order and returns the applied documents with the checkpoint of
// the last one. With an empty queue the given checkpoint is echoed back.
// The coordinator's own checkpoint only moves forward, so an out-of-order
// entry never rewinds it.
func (c *Coordinator) Pull(ctx context.Context, checkpoint models.Checkpoint, batchSize int) (res PullResult, err error) {
	c.pullMu.Lock()
	defer c.pullMu.Unlock()

	start := time.Now()
	defer func() { c.metrics.observe(c.name, directionPull, start, err) }()

	if batchSize <= 0 {
		batchSize = c.opts.PullBatchSize
	}
	batch := c.queue.Dequeue(batchSize)
	defer func() { c.metrics.setQueueDepth(c.name, c.queue.Len()) }()
	if len(batch) == 0 {
		return PullResult{Checkpoint: checkpoint}, nil
	}

	last := checkpoint
	applied := make([]models.Document, 0, len(batch))
	for i, doc := range batch {
		ok, err := c.store.ApplyCanonical(ctx, c.name, doc)
		if err != nil {
			c.queue.Requeue(batch[i:])
			return PullResult{Documents: applied, Checkpoint: last}, fmt.Errorf("pull %s: apply %s: %w", c.name, doc.ID(), err)
		}
		c.recordCanonical(doc, !ok)
		applied = append(applied, doc)
		last = models.CheckpointOf(doc)
		c.advance(last)
	}
	log.Debugw(ctx, "Pulled canonical changes", "count", len(applied), "checkpoint", last)
	return PullResult{Documents: applied, Checkpoint: last}, nil
}

// recordCanonical remembers the latest canonical state of a document. A
// conflicting pull keeps the state the local write was based on so the
// resolver can see it on push.
func (c *Coordinator) recordCanonical(doc models.Document, conflict bool) {
	id := doc.ID()
	c.mu.Lock()
	defer c.mu.Unlock()
	// an echo of the last known canonical state is not a divergence
	if conflict && !c.conflicts[id] && !doc.Equal(c.canonical[id]) {
		c.conflicts[id] = true
		c.assumed[id] = c.canonical[id]
	}
	c.canonical[id] = doc
}

func (c *Coordinator) advance(cp models.Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkpoint.Less(cp) {
		c.checkpoint = cp
	}
	c.notifyLocked()
}

type pushItem struct {
	pending  store.Pending
	resolved models.Document
	deliver  bool
	local    bool
}

// Push delivers up to batchSize unsynced local documents to the transport
// and marks them synced. Documents whose canonical state moved underneath
// them go through the conflict handler first. It returns how many unsynced
// documents were processed.
func (c *Coordinator) Push(ctx context.Context, batchSize int) (n int, err error) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	start := time.Now()
	defer func() { c.metrics.observe(c.name, directionPush, start, err) }()

	if batchSize <= 0 {
		batchSize = c.opts.PushBatchSize
	}
	pending, err := c.store.Unsynced(ctx, c.name, batchSize)
	if err != nil {
		return 0, fmt.Errorf("push %s: read unsynced: %w", c.name, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	items := make([]pushItem, 0, len(pending))
	var outbound []models.Document
	for _, p := range pending {
		item := c.resolve(p)
		if item.deliver {
			outbound = append(outbound, item.resolved)
		}
		items = append(items, item)
	}

	if len(outbound) > 0 {
		if err := c.transport.DeliverChanges(ctx, c.name, outbound); err != nil {
			return 0, fmt.Errorf("push %s: deliver: %w", c.name, err)
		}
	}

	synced := make([]store.Pending, 0, len(items))
	for _, item := range items {
		id := item.pending.Document.ID()
		if !item.local {
			synced = append(synced, item.pending)
			c.settled(id, item.resolved)
			continue
		}
		ok, err := c.store.Settle(ctx, c.name, item.pending, item.resolved)
		if err != nil {
			return 0, fmt.Errorf("push %s: settle %s: %w", c.name, id, err)
		}
		if ok {
			c.settled(id, item.resolved)
		}
	}
	if err := c.store.MarkSynced(ctx, c.name, synced); err != nil {
		return 0, fmt.Errorf("push %s: mark synced: %w", c.name, err)
	}

	log.Debugw(ctx, "Pushed local changes", "count", len(pending), "delivered", len(outbound))
	c.notify()
	return len(pending), nil
}

func (c *Coordinator) resolve(p store.Pending) pushItem {
	id := p.Document.ID()
	c.mu.Lock()
	conflict := c.conflicts[id]
	master, assumed := c.canonical[id], c.assumed[id]
	c.mu.Unlock()

	if !conflict || master == nil {
		return pushItem{pending: p, resolved: p.Document, deliver: true}
	}

	res := c.opts.Conflict(assumed, p.Document, master)
	if res.IsEqual {
		return pushItem{pending: p, resolved: p.Document}
	}
	doc := res.Document
	if doc == nil {
		doc = p.Document
	}
	return pushItem{
		pending:  p,
		resolved: doc,
		deliver:  !doc.Equal(master),
		local:    !doc.Equal(p.Document),
	}
}

// settled records that the canonical store now holds doc.
func (c *Coordinator) settled(id string, doc models.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conflicts, id)
	delete(c.assumed, id)
	c.canonical[id] = doc
}

func (c *Coordinator) reportCheckpoint(ctx context.Context) error {
	cp := c.Checkpoint()
	c.mu.Lock()
	same := c.reported == cp
	c.mu.Unlock()
	if same || cp.IsZero() {
		return nil
	}
	if err := c.transport.ReportCheckpoint(ctx, c.name, cp); err != nil {
		return fmt.Errorf("report checkpoint %s: %w", c.name, err)
	}
	c.mu.Lock()
	c.reported = cp
	c.mu.Unlock()
	return nil
}

// Enqueue appends canonical changes to the collection's queue.
func (c *Coordinator) Enqueue(ctx context.Context, docs ...models.Document) error {
	for _, doc := range docs {
		if doc.ID() == "" {
			return fmt.Errorf("enqueue %s: %w", c.name, models.ErrMissingID)
		}
	}
	return c.queue.Enqueue(ctx, docs...)
}

// Resync asks the loop to run a cycle now instead of at its next tick.
func (c *Coordinator) Resync() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// AwaitInSync blocks until this instance has nothing left to replicate.
// Instances that lost the leadership race have nothing to do and return as
// soon as the race is decided.
func (c *Coordinator) AwaitInSync(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		started, decided, leader, busy := c.started, c.decided, c.leader, c.busy
		changed := c.changed
		c.mu.Unlock()

		if !started {
			return fmt.Errorf("await %s: %w", c.name, models.ErrNotStarted)
		}
		if decided && !leader {
			return nil
		}
		if decided && !busy && c.queue.Len() == 0 {
			pending, err := c.store.Unsynced(ctx, c.name, 1)
			if err != nil {
				return fmt.Errorf("await %s: %w", c.name, err)
			}
			if len(pending) == 0 && c.queue.Len() == 0 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) Checkpoint() models.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpoint
}

func (c *Coordinator) Status() models.ReplicationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := models.ReplicationStatus{
		Collection: c.name,
		Checkpoint: c.checkpoint,
		Leader:     c.leader,
		Queued:     c.queue.Len(),
		Started:    c.started,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Coordinator) setLeader(leader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decided = true
	if c.leader != leader {
		c.leader = leader
		log.Infow(context.Background(), "Replication leadership changed", "collection", c.name, "leader", leader)
	}
	c.notifyLocked()
}

func (c *Coordinator) setBusy(busy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = busy
	c.notifyLocked()
}

func (c *Coordinator) setLastErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyLocked()
}

// notifyLocked wakes every AwaitInSync waiter.
func (c *Coordinator) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
