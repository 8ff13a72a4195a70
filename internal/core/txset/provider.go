package txset

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// ErrNotFound is returned by a Backing that does not hold a set.
var ErrNotFound = errors.New("transaction set not found")

// Backing is durable storage behind the in-memory cache.
type Backing interface {
	LoadTxSet(id consensus.TxSetID) (*Set, error)
	StoreTxSet(set *Set) error
}

// Fetcher asks the network for a set we do not have. It must not block.
type Fetcher func(id consensus.TxSetID)

// ProviderConfig holds configuration for the provider.
type ProviderConfig struct {
	// CacheSize is the number of sets kept in memory.
	CacheSize int
}

// Provider is the arena of transaction sets keyed by ID. Sets are
// immutable, so a cached *Set can be shared freely.
type Provider struct {
	mu      sync.Mutex
	cache   *lru.Cache[consensus.TxSetID, *Set]
	pending map[consensus.TxSetID]struct{}
	backing Backing
	fetch   Fetcher
	log     *logrus.Entry

	hits   uint64
	misses uint64
}

// NewProvider creates a provider. backing and fetch may be nil.
func NewProvider(config ProviderConfig, backing Backing, fetch Fetcher, log *logrus.Entry) (*Provider, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}
	cache, err := lru.New[consensus.TxSetID, *Set](config.CacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Provider{
		cache:   cache,
		pending: make(map[consensus.TxSetID]struct{}),
		backing: backing,
		fetch:   fetch,
		log:     log.WithField("component", "txset"),
	}, nil
}

// Add makes a set available. If the set was being fetched it is no longer
// pending. Sets are written through to the backing store.
func (p *Provider) Add(ts consensus.TxSet) *Set {
	set := Of(ts)

	p.mu.Lock()
	_, known := p.cache.Get(set.ID())
	p.cache.Add(set.ID(), set)
	delete(p.pending, set.ID())
	p.mu.Unlock()

	if !known && p.backing != nil {
		if err := p.backing.StoreTxSet(set); err != nil {
			p.log.WithError(err).WithField("set", set.ID().Short()).Warn("Failed to persist transaction set")
		}
	}
	return set
}

// Build creates a set from raw transactions and adds it.
func (p *Provider) Build(blobs [][]byte) *Set {
	return p.Add(FromBlobs(blobs))
}

// Get returns the set if it is available. A miss marks the set pending and
// triggers the fetcher once.
func (p *Provider) Get(id consensus.TxSetID) (*Set, bool) {
	p.mu.Lock()
	if set, ok := p.cache.Get(id); ok {
		p.hits++
		p.mu.Unlock()
		return set, true
	}
	p.misses++
	p.mu.Unlock()

	if p.backing != nil {
		set, err := p.backing.LoadTxSet(id)
		if err == nil {
			p.mu.Lock()
			p.cache.Add(id, set)
			delete(p.pending, id)
			p.mu.Unlock()
			return set, true
		}
		if !errors.Is(err, ErrNotFound) {
			p.log.WithError(err).WithField("set", id.Short()).Warn("Failed to load transaction set")
		}
	}

	p.mu.Lock()
	_, already := p.pending[id]
	p.pending[id] = struct{}{}
	p.mu.Unlock()

	if !already && p.fetch != nil {
		p.fetch(id)
	}
	return nil, false
}

// Peek returns the set if it is cached or stored. Unlike Get it never
// fetches.
func (p *Provider) Peek(id consensus.TxSetID) (*Set, bool) {
	p.mu.Lock()
	set, ok := p.cache.Get(id)
	p.mu.Unlock()
	if ok {
		return set, true
	}
	if p.backing == nil {
		return nil, false
	}
	set, err := p.backing.LoadTxSet(id)
	if err != nil {
		return nil, false
	}
	p.mu.Lock()
	p.cache.Add(id, set)
	p.mu.Unlock()
	return set, true
}

// Acquire implements the polling contract of consensus.Adaptor.
func (p *Provider) Acquire(id consensus.TxSetID) (consensus.TxSet, bool) {
	set, ok := p.Get(id)
	if !ok {
		return nil, false
	}
	return set, true
}

// Pending returns the IDs that were requested but are not available.
func (p *Provider) Pending() []consensus.TxSetID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]consensus.TxSetID, 0, len(p.pending))
	for id := range p.pending {
		out = append(out, id)
	}
	return out
}

// Stats returns cache hit and miss counts.
func (p *Provider) Stats() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}
