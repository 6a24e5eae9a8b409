package replication

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Elector grants leadership for a key to at most one holder at a time.
// Acquire is called on every replication cycle and also renews a lease
// already held.
type Elector interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// LocalElection arbitrates leadership between electors of the same
// process, e.g. several coordinators sharing one store.
type LocalElection struct {
	mu      sync.Mutex
	holders map[string]string
}

func NewLocalElection() *LocalElection {
	return &LocalElection{holders: make(map[string]string)}
}

// Elector returns a participant with its own identity.
func (e *LocalElection) Elector() Elector {
	return &localElector{election: e, id: uuid.NewString()}
}

type localElector struct {
	election *LocalElection
	id       string
}

func (l *localElector) Acquire(_ context.Context, key string) (bool, error) {
	e := l.election
	e.mu.Lock()
	defer e.mu.Unlock()
	holder, ok := e.holders[key]
	if !ok {
		e.holders[key] = l.id
		return true, nil
	}
	return holder == l.id, nil
}

func (l *localElector) Release(_ context.Context, key string) error {
	e := l.election
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.holders[key] == l.id {
		delete(e.holders, key)
	}
	return nil
}
