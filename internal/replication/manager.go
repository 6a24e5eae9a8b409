package replication

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nguyentranbao-ct/chat-replica/internal/bus"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
	"golang.org/x/sync/errgroup"
)

type ManagerParams struct {
	Store     store.Store
	Bus       *bus.Bus
	Transport Transport
	Elector   Elector
	Options   Options
}

// Manager owns the coordinators of every registered collection, from
// bootstrap until shutdown.
type Manager struct {
	params ManagerParams

	mu     sync.RWMutex
	coords map[string]*Coordinator
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(p ManagerParams) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		params: p,
		coords: make(map[string]*Coordinator),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register creates the coordinator for a collection. Registering a known
// collection returns the existing coordinator.
func (m *Manager) Register(name string, schema models.Schema) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.coords[name]; ok {
		return c, nil
	}
	c, err := NewCoordinator(CoordinatorParams{
		Collection: name,
		Schema:     schema,
		Store:      m.params.Store,
		Bus:        m.params.Bus,
		Transport:  m.params.Transport,
		Elector:    m.params.Elector,
		Options:    m.params.Options,
	})
	if err != nil {
		return nil, err
	}
	m.coords[name] = c
	return c, nil
}

func (m *Manager) Get(name string) (*Coordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coords[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownCollection, name)
	}
	return c, nil
}

func (m *Manager) list() []*Coordinator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Coordinator, 0, len(m.coords))
	for _, c := range m.coords {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Enqueue hands canonical changes to the collection and triggers a pull.
func (m *Manager) Enqueue(ctx context.Context, name string, docs []models.Document) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := c.Enqueue(ctx, docs...); err != nil {
		return err
	}
	c.Resync()
	return nil
}

// StartAll starts every registered coordinator that is not running yet.
// Coordinators live until Stop, not until the caller's context ends.
func (m *Manager) StartAll() {
	for _, c := range m.list() {
		c.Start(m.ctx)
	}
}

func (m *Manager) ResyncAll() {
	for _, c := range m.list() {
		c.Resync()
	}
}

// AwaitInSync waits for every coordinator to catch up.
func (m *Manager) AwaitInSync(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range m.list() {
		g.Go(func() error {
			return c.AwaitInSync(ctx)
		})
	}
	return g.Wait()
}

func (m *Manager) Status() []models.ReplicationStatus {
	return util.ConvertList(m.list(), (*Coordinator).Status)
}

// Stop cancels every coordinator and waits for them to release leadership.
func (m *Manager) Stop(ctx context.Context) error {
	m.cancel()
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range m.list() {
		g.Go(func() error {
			return c.Stop(ctx)
		})
	}
	return g.Wait()
}
