// Package repo owns the engine's durable storage: a badger datastore for
// account records and a leveldb log for the message bus.
package repo

import (
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v2/options"
	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	badgerds "github.com/ipfs/go-ds-badger2"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Repo bundles the two storage handles and closes them together.
type Repo struct {
	Accounts datastore.Batching
	BusDB    *leveldb.DB
}

// OpenFS opens (creating if needed) an on-disk repo rooted at path.
func OpenFS(path string) (*Repo, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create repo dir %s", path)
	}

	opts := badgerds.DefaultOptions
	opts.Truncate = true
	opts.ValueLogLoadingMode = options.FileIO
	accounts, err := badgerds.NewDatastore(filepath.Join(path, "accounts"), &opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open account datastore")
	}

	busDB, err := leveldb.OpenFile(filepath.Join(path, "bus"), nil)
	if err != nil {
		_ = accounts.Close()
		return nil, errors.Wrap(err, "failed to open bus log")
	}

	return &Repo{Accounts: accounts, BusDB: busDB}, nil
}

// OpenMemory opens a repo backed entirely by memory, for tests and
// simulation.
func OpenMemory() (*Repo, error) {
	busDB, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory bus log")
	}
	return &Repo{
		Accounts: dssync.MutexWrap(datastore.NewMapDatastore()),
		BusDB:    busDB,
	}, nil
}

// Close releases both stores, reporting every failure.
func (r *Repo) Close() error {
	var result *multierror.Error
	if err := r.Accounts.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing account datastore"))
	}
	if err := r.BusDB.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing bus log"))
	}
	return result.ErrorOrNil()
}
