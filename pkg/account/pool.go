package account

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPoolExhausted indicates no eligible account became free within the
	// acquire timeout. It's a transient scheduling condition.
	ErrPoolExhausted = errors.New("no eligible account available")
	// ErrLeaseNotHeld indicates a stale or double release
	ErrLeaseNotHeld = errors.New("lease is not held")
	// ErrSequenceRegression indicates an updated account state whose sequence
	// number went backwards
	ErrSequenceRegression = errors.New("account sequence went backwards")
	// ErrInsufficientBalance indicates the spendable set can't cover an amount
	ErrInsufficientBalance = errors.New("insufficient spendable balance")
	// ErrAccountNotFound indicates the address isn't part of the pool
	ErrAccountNotFound = errors.New("account not found")
	// ErrDuplicateAccount indicates two pool accounts share an address
	ErrDuplicateAccount = errors.New("duplicate account")
)

const (
	DefaultAcquireTimeout = 5 * time.Second
)

// Criteria filters and orders the accounts considered for a lease
type Criteria struct {
	// MinBalance is the minimum spendable balance of the leased (source)
	// account
	MinBalance uint64

	// PreferSource and PreferDestination are addresses tried first. They're
	// used to reverse the transfer direction between cycles.
	PreferSource      string
	PreferDestination string

	// Exclude lists addresses that are never leased
	Exclude []string
}

func (c Criteria) excludes(address string) bool {
	for _, excluded := range c.Exclude {
		if excluded == address {
			return true
		}
	}
	return false
}

// Lease is exclusive ownership of an account. The holder is free to mutate
// Account, which is a private copy of the pool state, and hands the result
// back with Release.
type Lease struct {
	Token      uuid.UUID
	Account    *Account
	AcquiredAt time.Time

	address string
}

// Address returns the address of the leased account
func (l *Lease) Address() string {
	return l.address
}

// Stats is a point in time view of the pool
type Stats struct {
	Total        int
	Leased       int
	Free         int
	TotalBalance uint64
}

// Pool holds the set of synthetic test accounts and hands out exclusive
// leases over them.
type Pool struct {
	log            *logrus.Entry
	clock          clockwork.Clock
	acquireTimeout time.Duration

	mu       sync.Mutex
	order    []string
	accounts map[string]*Account
	leases   map[string]uuid.UUID

	// released is closed, then replaced, on every release so all waiters
	// re-evaluate the pool.
	released chan struct{}
}

// Option configures a Pool
type Option func(p *Pool)

// WithClock sets the clock used for acquire timeouts
func WithClock(clock clockwork.Clock) Option {
	return func(p *Pool) {
		p.clock = clock
	}
}

// WithAcquireTimeout bounds how long Acquire and AcquirePair wait for an
// eligible account
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(p *Pool) {
		p.acquireTimeout = timeout
	}
}

// NewPool returns a pool over the provided accounts
func NewPool(accounts []*Account, opts ...Option) (*Pool, error) {
	p := &Pool{
		log:            logrus.StandardLogger().WithField("type", "account/pool"),
		clock:          clockwork.NewRealClock(),
		acquireTimeout: DefaultAcquireTimeout,
		accounts:       make(map[string]*Account),
		leases:         make(map[string]uuid.UUID),
		released:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	for _, account := range accounts {
		address := account.Address()
		if _, ok := p.accounts[address]; ok {
			return nil, errors.Wrapf(ErrDuplicateAccount, "address %s", address)
		}

		p.order = append(p.order, address)
		p.accounts[address] = account.Clone()
	}

	return p, nil
}

// Acquire leases a single account meeting the criteria. PreferSource is
// tried first, otherwise the free account with the highest balance is used.
func (p *Pool) Acquire(ctx context.Context, criteria Criteria) (*Lease, error) {
	var lease *Lease
	err := p.waitFor(ctx, func() bool {
		candidates := p.sourceCandidates(criteria)
		if len(candidates) == 0 {
			return false
		}

		lease = p.lease(candidates[0])
		return true
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// AcquirePair atomically leases a source account meeting the criteria, and a
// distinct destination account. Either both leases are granted, or neither.
func (p *Pool) AcquirePair(ctx context.Context, criteria Criteria) (source, destination *Lease, err error) {
	err = p.waitFor(ctx, func() bool {
		sourceAddress, destinationAddress, ok := p.pickPair(criteria)
		if !ok {
			return false
		}

		source = p.lease(sourceAddress)
		destination = p.lease(destinationAddress)
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	return source, destination, nil
}

// Release returns a lease to the pool, replacing the pool state of the account
// with updated. A nil updated leaves the account unmodified. The lease is
// always released when held, even if the update is rejected.
func (p *Pool) Release(lease *Lease, updated *Account) error {
	if lease == nil {
		return ErrLeaseNotHeld
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	token, ok := p.leases[lease.address]
	if !ok || token != lease.Token {
		return ErrLeaseNotHeld
	}

	delete(p.leases, lease.address)
	p.broadcastLocked()

	if updated == nil {
		return nil
	}

	if updated.Address() != lease.address {
		return errors.Errorf("updated account %s doesn't match lease for %s", updated.Address(), lease.address)
	}

	current := p.accounts[lease.address]
	if updated.Sequence < current.Sequence {
		p.log.WithFields(logrus.Fields{
			"method":   "Release",
			"account":  lease.address,
			"current":  current.Sequence,
			"received": updated.Sequence,
		}).Warn("rejecting account update with sequence regression")
		return errors.Wrapf(ErrSequenceRegression, "%d < %d", updated.Sequence, current.Sequence)
	}

	p.accounts[lease.address] = updated.Clone()
	return nil
}

// Get returns a copy of the pool state for an account
func (p *Pool) Get(address string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.accounts[address]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account.Clone(), nil
}

// IsLeased returns whether an account is currently leased
func (p *Pool) IsLeased(address string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.leases[address]
	return ok
}

// Accounts returns a copy of every account in the pool, in insertion order
func (p *Pool) Accounts() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := make([]*Account, 0, len(p.order))
	for _, address := range p.order {
		res = append(res, p.accounts[address].Clone())
	}
	return res
}

// Stats returns a point in time view of the pool
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Total:  len(p.accounts),
		Leased: len(p.leases),
	}
	stats.Free = stats.Total - stats.Leased

	for _, account := range p.accounts {
		stats.TotalBalance += account.Balance()
	}
	return stats
}

// waitFor evaluates try under the pool lock until it succeeds, waking up on
// every release. It gives up with ErrPoolExhausted after the acquire timeout.
func (p *Pool) waitFor(ctx context.Context, try func() bool) error {
	timer := p.clock.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if try() {
			p.mu.Unlock()
			return nil
		}
		released := p.released
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
			return ErrPoolExhausted
		case <-released:
		}
	}
}

func (p *Pool) isFree(address string) bool {
	_, leased := p.leases[address]
	return !leased
}

// sourceCandidates returns every account eligible as a source, starting with
// the preferred source, then by descending balance.
func (p *Pool) sourceCandidates(criteria Criteria) []string {
	var candidates []string
	for _, address := range p.order {
		if !p.isFree(address) || criteria.excludes(address) {
			continue
		}

		if p.accounts[address].Balance() < criteria.MinBalance {
			continue
		}

		candidates = append(candidates, address)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i] == criteria.PreferSource {
			return true
		} else if candidates[j] == criteria.PreferSource {
			return false
		}
		return p.accounts[candidates[i]].Balance() > p.accounts[candidates[j]].Balance()
	})
	return candidates
}

// pickDestination returns the preferred destination when it's free,
// otherwise the free account with the lowest balance.
func (p *Pool) pickDestination(criteria Criteria, source string) (string, bool) {
	eligible := func(address string) bool {
		_, ok := p.accounts[address]
		return ok &&
			address != source &&
			p.isFree(address) &&
			!criteria.excludes(address)
	}

	if len(criteria.PreferDestination) > 0 && eligible(criteria.PreferDestination) {
		return criteria.PreferDestination, true
	}

	var best string
	var bestBalance uint64
	for _, address := range p.order {
		if !eligible(address) {
			continue
		}

		balance := p.accounts[address].Balance()
		if len(best) == 0 || balance < bestBalance {
			best = address
			bestBalance = balance
		}
	}
	return best, len(best) > 0
}

func (p *Pool) pickPair(criteria Criteria) (string, string, bool) {
	for _, source := range p.sourceCandidates(criteria) {
		if destination, ok := p.pickDestination(criteria, source); ok {
			return source, destination, true
		}
	}
	return "", "", false
}

func (p *Pool) lease(address string) *Lease {
	token := uuid.New()
	p.leases[address] = token

	return &Lease{
		Token:      token,
		Account:    p.accounts[address].Clone(),
		AcquiredAt: p.clock.Now(),
		address:    address,
	}
}

func (p *Pool) broadcastLocked() {
	close(p.released)
	p.released = make(chan struct{})
}
