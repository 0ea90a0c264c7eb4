// Package state owns per-account persistent state: the durable account
// records, the storage-rent clock, and the layered snapshot views the
// executor uses for atomic rollback.
package state

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/account"
	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/types"
)

var log = logging.Logger("state")

const cacheSize = 8192

// RentParams configures the storage rent function: a monotonic function of
// stored bytes and elapsed logical time.
type RentParams struct {
	PricePerByte      types.TokenAmount
	FreezeGracePeriod types.Tick
}

// Store persists one record per account, keyed by address, fronted by an LRU
// of decoded records. Safe for concurrent access; mutation of a single
// account is serialized by the scheduler.
type Store struct {
	mu    sync.RWMutex
	ds    datastore.Batching
	cache *lru.Cache
	rent  RentParams
}

// NewStore builds a store over a datastore, namespaced under /accounts.
func NewStore(ds datastore.Batching, rent RentParams) (*Store, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		ds:    namespace.Wrap(ds, datastore.NewKey("/accounts")),
		cache: cache,
		rent:  rent,
	}, nil
}

func dsKey(addr address.Address) datastore.Key {
	return datastore.NewKey(addr.String())
}

// Load returns a copy of the account record, or found=false.
func (s *Store) Load(ctx context.Context, addr address.Address) (*account.Account, bool, error) {
	s.mu.RLock()
	if cached, ok := s.cache.Get(addr); ok {
		acct := cached.(*account.Account).Clone()
		s.mu.RUnlock()
		return acct, true, nil
	}
	s.mu.RUnlock()

	raw, err := s.ds.Get(ctx, dsKey(addr))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to load account %s", addr)
	}

	var acct account.Account
	if err := acct.Unmarshal(raw); err != nil {
		return nil, false, errors.Wrapf(err, "corrupt account record %s", addr)
	}

	s.mu.Lock()
	s.cache.Add(addr, acct.Clone())
	s.mu.Unlock()
	return &acct, true, nil
}

// Put writes a single account record through to the datastore. Used for the
// debits that must survive a transaction rollback (rent, value credit,
// bounce debit); transactional writes go through a View instead.
func (s *Store) Put(ctx context.Context, addr address.Address, acct *account.Account) error {
	raw, err := acct.Marshal()
	if err != nil {
		return errors.Wrapf(err, "failed to encode account %s", addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ds.Put(ctx, dsKey(addr), raw); err != nil {
		return errors.Wrapf(err, "failed to store account %s", addr)
	}
	s.cache.Add(addr, acct.Clone())
	return nil
}

// commit applies a view's writes as one batch, atomic with respect to
// concurrent readers of the datastore.
func (s *Store) commit(ctx context.Context, writes map[address.Address]*account.Account) error {
	batch, err := s.ds.Batch(ctx)
	if errors.Is(err, datastore.ErrBatchUnsupported) {
		return s.commitSequential(ctx, writes)
	}
	if err != nil {
		return errors.Wrap(err, "failed to open commit batch")
	}

	for addr, acct := range writes {
		raw, err := acct.Marshal()
		if err != nil {
			return errors.Wrapf(err, "failed to encode account %s", addr)
		}
		if err := batch.Put(ctx, dsKey(addr), raw); err != nil {
			return errors.Wrapf(err, "failed to stage account %s", addr)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := batch.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit batch failed")
	}
	for addr, acct := range writes {
		s.cache.Add(addr, acct.Clone())
	}
	return nil
}

// commitSequential serves datastores without native batching (the in-memory
// map datastore used by tests).
func (s *Store) commitSequential(ctx context.Context, writes map[address.Address]*account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, acct := range writes {
		raw, err := acct.Marshal()
		if err != nil {
			return errors.Wrapf(err, "failed to encode account %s", addr)
		}
		if err := s.ds.Put(ctx, dsKey(addr), raw); err != nil {
			return errors.Wrapf(err, "failed to store account %s", addr)
		}
		s.cache.Add(addr, acct.Clone())
	}
	return nil
}

// ApplyRent charges storage rent for the time elapsed since the account last
// paid, before the compute phase of any transaction touching the account.
// The debit is written through immediately: it survives even if the
// transaction subsequently rolls back.
//
// An account that cannot cover the rent freezes (state discarded, identity
// retained); a frozen account past the grace period is deleted.
func (s *Store) ApplyRent(ctx context.Context, addr address.Address, now types.Tick) (types.TokenAmount, error) {
	acct, found, err := s.Load(ctx, addr)
	if err != nil || !found {
		return 0, err
	}
	if acct.Lifecycle == account.Deleted {
		return 0, nil
	}

	if acct.Lifecycle == account.Frozen {
		if now >= acct.FrozenAt+s.rent.FreezeGracePeriod {
			acct.Lifecycle = account.Deleted
			acct.ImmutableData = nil
			acct.CodeHash = address.UndefCodeHash
			log.Infow("account deleted after freeze grace period", "address", addr)
		}
		acct.RentPaidThrough = now
		return 0, s.Put(ctx, addr, acct)
	}

	if now <= acct.RentPaidThrough {
		return 0, nil
	}
	elapsed := uint64(now - acct.RentPaidThrough)
	due := s.rent.PricePerByte * types.TokenAmount(acct.StoredBytes()) * types.TokenAmount(elapsed)
	acct.RentPaidThrough = now

	var debited types.TokenAmount
	if acct.Balance.LessThan(due) {
		debited = acct.Balance
		acct.Balance = 0
		if acct.Lifecycle == account.Active {
			acct.Freeze(now)
			log.Infow("account frozen, balance below storage rent", "address", addr, "due", due)
		}
	} else {
		debited = due
		acct.Balance = acct.Balance.Sub(due)
	}
	return debited, s.Put(ctx, addr, acct)
}
