// Package node assembles the engine: storage, the message bus, the
// executor, and the scheduling rules that make per-account execution
// serial while unrelated accounts run in parallel.
package node

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/raulk/clock"
	"golang.org/x/sync/errgroup"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/contract"
	"github.com/emberchain/ember/pkg/crypto"
	"github.com/emberchain/ember/pkg/messagebus"
	"github.com/emberchain/ember/pkg/repo"
	"github.com/emberchain/ember/pkg/state"
	"github.com/emberchain/ember/pkg/types"
	"github.com/emberchain/ember/pkg/vm"
)

var log = logging.Logger("node")

// stripes serialize transactions per account. The same striping routes bus
// deliveries and external submissions, so an account is never executed from
// two goroutines at once.
type stripes [64]sync.Mutex

func (s *stripes) index(a address.Address) int { return int(a[0]) % len(s) }

func (s *stripes) lock(a address.Address) func() {
	m := &s[s.index(a)]
	m.Lock()
	return m.Unlock
}

// AccountSnapshot is the query view of one account.
type AccountSnapshot struct {
	Lifecycle    string
	Balance      types.TokenAmount
	CodeHash     address.CodeHash
	MutableState []byte
}

// Engine is the externally visible engine: submit, query, simulate, derive.
type Engine struct {
	cfg      *config.Config
	store    *state.Store
	bus      *messagebus.Bus
	vm       *vm.VM
	registry *contract.Registry
	clk      clock.Clock

	locks stripes

	mu       sync.Mutex
	receipts map[types.MessageID]*types.Receipt

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires an engine over an opened repo.
func New(r *repo.Repo, cfg *config.Config, registry *contract.Registry, verifier crypto.Verifier, clk clock.Clock) (*Engine, error) {
	store, err := state.NewStore(r.Accounts, state.RentParams{
		PricePerByte:      cfg.Exec.RentPricePerByte,
		FreezeGracePeriod: cfg.Exec.FreezeGracePeriod,
	})
	if err != nil {
		return nil, err
	}

	bus, err := messagebus.NewBus(r.BusDB)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		registry: registry,
		clk:      clk,
		receipts: make(map[types.MessageID]*types.Receipt),
		done:     make(chan struct{}),
	}
	e.vm = vm.NewVM(store, registry, bus, verifier, cfg.Exec)
	return e, nil
}

// Now is the engine's logical time.
func (e *Engine) Now() types.Tick {
	return types.Tick(e.clk.Now().Unix())
}

// Start launches the delivery loop. It runs until ctx is cancelled or
// Close is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go func() {
		defer close(e.done)
		e.deliveryLoop(ctx)
	}()
}

// Close stops the delivery loop and waits for it.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) deliveryLoop(ctx context.Context) {
	wake := e.bus.Subscribe()
	for {
		if err := e.ProcessPending(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Errorw("delivery wave failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
	}
}

// ProcessPending drains the bus in waves: each wave takes the head of every
// edge, runs them grouped by destination stripe, and acknowledges what was
// definitively handled. It returns once the bus is empty.
func (e *Engine) ProcessPending(ctx context.Context) error {
	for {
		heads, err := e.bus.Heads(ctx)
		if err != nil {
			return err
		}
		if len(heads) == 0 {
			return nil
		}

		// group by stripe so per-account order is preserved
		groups := make(map[int][]*messagebus.Queued)
		for _, q := range heads {
			i := e.locks.index(q.Msg.To)
			groups[i] = append(groups[i], q)
		}

		eg, gctx := errgroup.WithContext(ctx)
		for _, group := range groups {
			group := group
			eg.Go(func() error {
				for _, q := range group {
					if err := e.deliver(gctx, q); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
}

// deliver applies one queued internal message and acks it. Failed
// transactions were definitively handled (bounced or absorbed) and are
// acked too; only infrastructure errors leave the entry queued for
// redelivery.
func (e *Engine) deliver(ctx context.Context, q *messagebus.Queued) error {
	unlock := e.locks.lock(q.Msg.To)
	receipt, err := e.vm.ApplyMessage(ctx, q.Msg, e.Now())
	unlock()

	if err != nil {
		if vm.IsFault(err) {
			// faults are final: log, drop, never retry
			log.Errorw("engine fault applying message", "to", q.Msg.To, "err", err)
			return e.bus.Ack(ctx, q)
		}
		return err
	}
	log.Debugw("delivered", "to", q.Msg.To, "status", receipt.Status, "exit", receipt.ExitCode)
	return e.bus.Ack(ctx, q)
}

// SubmitExternal admits and executes an externally originated message. The
// receipt (or admission error) is returned synchronously and kept for
// polling by message ID.
func (e *Engine) SubmitExternal(ctx context.Context, msg *types.Message) (*types.Receipt, error) {
	if msg.Kind != types.External {
		return nil, errors.New("not an external message")
	}
	id, err := msg.ID()
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(msg.To)
	receipt, err := e.vm.ApplyMessage(ctx, msg, e.Now())
	unlock()

	if receipt != nil {
		e.mu.Lock()
		e.receipts[id] = receipt
		e.mu.Unlock()
	}
	return receipt, err
}

// Receipt returns the recorded outcome of a submitted external message.
func (e *Engine) Receipt(id types.MessageID) (*types.Receipt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.receipts[id]
	return r, ok
}

// AccountSnapshot returns the query view of an account.
func (e *Engine) AccountSnapshot(ctx context.Context, addr address.Address) (*AccountSnapshot, error) {
	acct, found, err := e.store.Load(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(vm.ErrAccountNotFound, "address %s", addr)
	}
	return &AccountSnapshot{
		Lifecycle:    acct.Lifecycle.String(),
		Balance:      acct.Balance,
		CodeHash:     acct.CodeHash,
		MutableState: acct.MutableState,
	}, nil
}

// Simulate runs a call with unlimited resources against committed state and
// returns the messages it would send, without mutating anything. This backs
// read-only remote getters.
func (e *Engine) Simulate(ctx context.Context, addr address.Address, body types.Body) ([]*types.Message, []byte, error) {
	return e.vm.Call(ctx, addr, body, e.Now())
}

// DeriveAddress precomputes the identity of a not-yet-deployed account.
func (e *Engine) DeriveAddress(code address.CodeHash, immutableData []byte) (address.Address, error) {
	return address.Derive(code, immutableData)
}

// InjectInternal enqueues an internal message from outside a transaction.
// Genesis funding and tests use it; ordinary internal messages come only
// from committing transactions.
func (e *Engine) InjectInternal(ctx context.Context, msg *types.Message) error {
	return e.bus.Enqueue(ctx, msg)
}
