package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
)

// ErrNoExecutor is returned when a venue names an executor nobody registered.
var ErrNoExecutor = errors.New("adapters: no executor")

// Executor submits one action for an account and returns a transaction
// reference. A venue never knows which chain or API sits behind it.
type Executor interface {
	// Name returns the executor identifier (e.g. "dex", "relay", "underdog").
	Name() string

	// Execute performs the action. from and to are token symbols (for a
	// bridge, from is the origin currency). Implementations may retry
	// internally; any error returned is one failed attempt for the runner.
	Execute(ctx context.Context, acc *account.Account, from, to string, amount decimal.Decimal) (string, error)
}

// Registry maps executor names to implementations.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates a registry holding execs.
func NewRegistry(execs ...Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	for _, e := range execs {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an executor.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[strings.ToLower(e.Name())] = e
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoExecutor, name)
	}
	return e, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.executors))
	for n := range r.executors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DryRun logs the action and returns a fresh reference without touching any
// chain. It stands in for every executor when general.dry_run is set.
type DryRun struct {
	name string
}

// NewDryRun creates a dry-run executor reporting itself as name.
func NewDryRun(name string) *DryRun {
	return &DryRun{name: name}
}

func (d *DryRun) Name() string { return d.name }

// Execute implements Executor.
func (d *DryRun) Execute(ctx context.Context, acc *account.Account, from, to string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := "dry-" + uuid.NewString()
	log.Info().
		Str("account", acc.Label()).
		Str("executor", d.name).
		Str("from", from).
		Str("to", to).
		Str("amount", amount.String()).
		Str("ref", ref).
		Msg("adapters: dry run")
	return ref, nil
}
