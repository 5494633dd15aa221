package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-base32"

	"github.com/cloudx-io/adslot/core"
	"github.com/cloudx-io/adslot/ledger"
)

// Contract method names exposed by an instance.
const (
	MethodBid                = "bid"
	MethodReleaseFunds       = "release_funds"
	MethodGetHighestBid      = "get_highest_bid"
	MethodGetHighestBidderID = "get_highest_bidder_id"
	MethodGetEscrowAmount    = "get_escrow_amount"
	MethodGetState           = "get_state"
)

var (
	log = logging.Logger("instance")

	// ErrInstanceNotFound is returned when no instance exists with the given id.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceExists is returned when deploying over an existing id.
	ErrInstanceExists = errors.New("instance already exists")

	// ErrUnknownMethod is returned for methods the contract does not expose.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrInvalidArgs is returned when call arguments cannot be decoded.
	ErrInvalidArgs = errors.New("invalid arguments")

	dsPrefixInstances = datastore.NewKey("/instances")
)

// Invocation is a single mutating call against an instance.
type Invocation struct {
	InstanceID string
	Caller     string
	Method     string
	Args       json.RawMessage
}

// BidArgs are the arguments of the bid method.
type BidArgs struct {
	BidderID string      `json:"bidder_id"`
	Bid      core.Amount `json:"bid"`
}

// Outcome is the committed result of an Invocation.
type Outcome struct {
	InstanceID string
	Method     string
	Caller     string
	Accepted   bool
	Transfers  []core.Transfer
	State      core.State
}

// Manager hosts AdSlot instances. It restores an instance's state before each
// call and persists it, together with the ledger changes the call made, in one
// datastore batch after the call succeeds.
type Manager struct {
	ds     datastore.Batching
	ledger *ledger.Ledger

	// lock serializes mutating calls; one invocation fully completes,
	// including its transfers, before the next begins.
	lock sync.RWMutex
}

// NewManager creates a Manager persisting to ds.
func NewManager(ds datastore.Batching, l *ledger.Ledger) *Manager {
	return &Manager{ds: ds, ledger: l}
}

// Ledger returns the ledger backing the instances' transfers.
func (m *Manager) Ledger() *ledger.Ledger {
	return m.ledger
}

// Deploy creates a new instance. A random id is assigned when id is empty.
func (m *Manager) Deploy(ctx context.Context, id, ownerID, escrowAccountID string) (string, core.State, error) {
	if id == "" {
		id = uuid.NewString()
	}
	slot, err := core.New(ownerID, escrowAccountID)
	if err != nil {
		return "", core.State{}, err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	exists, err := m.ds.Has(ctx, instanceKey(id))
	if err != nil {
		return "", core.State{}, fmt.Errorf("checking instance %s: %w", id, err)
	}
	if exists {
		return "", core.State{}, fmt.Errorf("%w: %s", ErrInstanceExists, id)
	}

	encoded, err := core.EncodeState(slot.State())
	if err != nil {
		return "", core.State{}, err
	}
	if err := m.ds.Put(ctx, instanceKey(id), encoded); err != nil {
		return "", core.State{}, fmt.Errorf("saving instance %s: %w", id, err)
	}

	log.Infof("deployed instance %s (owner=%s, escrow=%s)", id, ownerID, escrowAccountID)
	return id, slot.State(), nil
}

// Call executes a mutating method. Either the whole call is committed or nothing is.
func (m *Manager) Call(ctx context.Context, inv Invocation) (*Outcome, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	slot, err := m.load(ctx, inv.InstanceID)
	if err != nil {
		return nil, err
	}

	txn := m.ledger.Begin()
	env := &callEnv{caller: inv.Caller, txn: txn}
	outcome := &Outcome{
		InstanceID: inv.InstanceID,
		Method:     inv.Method,
		Caller:     inv.Caller,
	}

	switch inv.Method {
	case MethodBid:
		var args BidArgs
		if err := json.Unmarshal(inv.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		res, err := slot.Bid(ctx, env, args.BidderID, args.Bid)
		if err != nil {
			log.Infof("bid on %s by %s rejected: %v", inv.InstanceID, inv.Caller, err)
			return nil, err
		}
		outcome.Accepted = res.Accepted
		outcome.Transfers = res.Transfers

	case MethodReleaseFunds:
		res, err := slot.ReleaseFunds(ctx, env)
		if err != nil {
			log.Infof("release on %s by %s rejected: %v", inv.InstanceID, inv.Caller, err)
			return nil, err
		}
		outcome.Accepted = true
		if res.Transfer != nil {
			outcome.Transfers = []core.Transfer{*res.Transfer}
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, inv.Method)
	}

	outcome.State = slot.State()
	if err := m.commit(ctx, inv.InstanceID, outcome.State, txn); err != nil {
		return nil, err
	}

	log.Infof("%s on %s by %s: accepted=%t transfers=%d highest=%s escrow=%s",
		inv.Method, inv.InstanceID, inv.Caller, outcome.Accepted, len(outcome.Transfers),
		outcome.State.HighestBid, outcome.State.EscrowAmount)
	return outcome, nil
}

// View runs a read-only accessor and returns its JSON-encodable result.
func (m *Manager) View(ctx context.Context, id, method string) (any, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	slot, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch method {
	case MethodGetHighestBid:
		return slot.HighestBid(), nil
	case MethodGetHighestBidderID:
		return slot.HighestBidderID(), nil
	case MethodGetEscrowAmount:
		return slot.EscrowAmount(), nil
	case MethodGetState:
		return StateView{State: slot.State(), Phase: slot.Phase()}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
}

// StateView is the get_state result: the persisted fields plus the derived phase.
type StateView struct {
	core.State
	Phase core.Phase `json:"phase"`
}

// List returns the ids of all deployed instances.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	res, err := m.ds.Query(ctx, query.Query{Prefix: dsPrefixInstances.String(), KeysOnly: true})
	if err != nil {
		return nil, fmt.Errorf("querying instances: %w", err)
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		id, err := base32.RawStdEncoding.DecodeString(datastore.RawKey(e.Key).BaseNamespace())
		if err != nil {
			return nil, fmt.Errorf("decoding instance key %s: %w", e.Key, err)
		}
		ids = append(ids, string(id))
	}
	return ids, nil
}

// Deposit credits funds to an account on the shared ledger.
func (m *Manager) Deposit(ctx context.Context, account string, amount core.Amount) (core.Amount, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.ledger.Deposit(ctx, account, amount)
}

// Balance returns an account's committed balance.
func (m *Manager) Balance(ctx context.Context, account string) (core.Amount, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.ledger.Balance(ctx, account)
}

func (m *Manager) load(ctx context.Context, id string) (*core.AdSlot, error) {
	encoded, err := m.ds.Get(ctx, instanceKey(id))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading instance %s: %w", id, err)
	}
	st, err := core.DecodeState(encoded)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", id, err)
	}
	return core.Restore(st)
}

func (m *Manager) commit(ctx context.Context, id string, st core.State, txn *ledger.Txn) error {
	encoded, err := core.EncodeState(st)
	if err != nil {
		return err
	}
	b, err := m.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}
	if err := b.Put(ctx, instanceKey(id), encoded); err != nil {
		return fmt.Errorf("staging instance %s: %w", id, err)
	}
	if err := txn.Flush(ctx, b); err != nil {
		return err
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("committing instance %s: %w", id, err)
	}
	return nil
}

// instanceKey encodes id as one key segment so no id can address another record.
func instanceKey(id string) datastore.Key {
	return dsPrefixInstances.ChildString(base32.RawStdEncoding.EncodeToString([]byte(id)))
}

// callEnv binds an invocation's caller identity to a ledger transaction.
type callEnv struct {
	caller string
	txn    *ledger.Txn
}

func (e *callEnv) Predecessor() string { return e.caller }

func (e *callEnv) Transfer(ctx context.Context, transfers ...core.Transfer) error {
	return e.txn.Transfer(ctx, transfers...)
}
