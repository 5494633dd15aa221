package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-base32"

	"github.com/cloudx-io/adslot/core"
)

var (
	log = logging.Logger("ledger")

	// ErrInsufficientBalance is returned when a transfer exceeds the sender's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransfer is returned for transfers with an empty endpoint.
	ErrInvalidTransfer = errors.New("invalid transfer")

	dsPrefixBalances = datastore.NewKey("/balances")
)

// Ledger holds account balances. It is the host's native value-transfer primitive.
type Ledger struct {
	ds datastore.Batching

	// lock serializes writers that bypass a Txn (Deposit).
	lock sync.Mutex
}

// New creates a Ledger over ds.
func New(ds datastore.Batching) *Ledger {
	return &Ledger{ds: ds}
}

// Balance returns the balance of account; unknown accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, account string) (core.Amount, error) {
	return getBalance(ctx, l.ds, account)
}

// Balances returns every non-zero balance keyed by account.
func (l *Ledger) Balances(ctx context.Context) (map[string]core.Amount, error) {
	res, err := l.ds.Query(ctx, query.Query{Prefix: dsPrefixBalances.String()})
	if err != nil {
		return nil, fmt.Errorf("querying balances: %w", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Errorf("closing balances query: %v", err)
		}
	}()

	balances := make(map[string]core.Amount)
	for r := range res.Next() {
		if r.Error != nil {
			return nil, fmt.Errorf("iterating balances: %w", r.Error)
		}
		var amount core.Amount
		if err := cbor.Unmarshal(r.Value, &amount); err != nil {
			return nil, fmt.Errorf("decoding balance %s: %w", r.Key, err)
		}
		account, err := accountFromKey(datastore.RawKey(r.Key))
		if err != nil {
			return nil, err
		}
		balances[account] = amount
	}
	return balances, nil
}

// Deposit credits amount to account. It is how funds enter the ledger.
func (l *Ledger) Deposit(ctx context.Context, account string, amount core.Amount) (core.Amount, error) {
	if account == "" {
		return core.Amount{}, fmt.Errorf("%w: empty account", ErrInvalidTransfer)
	}
	l.lock.Lock()
	defer l.lock.Unlock()

	current, err := getBalance(ctx, l.ds, account)
	if err != nil {
		return core.Amount{}, err
	}
	next, err := current.CheckedAdd(amount)
	if err != nil {
		return core.Amount{}, fmt.Errorf("crediting %s: %w", account, err)
	}
	if err := putBalance(ctx, l.ds, account, next); err != nil {
		return core.Amount{}, err
	}
	log.Debugf("deposited %s to %s, balance %s", amount, account, next)
	return next, nil
}

// Begin starts a transaction. Transfers made through it are only visible to the
// transaction until Flush writes them into a batch the caller commits.
// The caller must ensure no other Txn or Deposit runs concurrently.
func (l *Ledger) Begin() *Txn {
	return &Txn{
		ledger:  l,
		pending: make(map[string]core.Amount),
	}
}

// Txn is an overlay of pending balance changes.
type Txn struct {
	ledger  *Ledger
	pending map[string]core.Amount
}

// Balance returns the balance of account as seen by the transaction.
func (t *Txn) Balance(ctx context.Context, account string) (core.Amount, error) {
	if amount, ok := t.pending[account]; ok {
		return amount, nil
	}
	return t.ledger.Balance(ctx, account)
}

// Transfer applies all transfers in order, or none if any of them fails.
// Zero-amount transfers are skipped.
func (t *Txn) Transfer(ctx context.Context, transfers ...core.Transfer) error {
	staged := make(map[string]core.Amount)
	balance := func(account string) (core.Amount, error) {
		if amount, ok := staged[account]; ok {
			return amount, nil
		}
		return t.Balance(ctx, account)
	}

	for _, tr := range transfers {
		if tr.From == "" || tr.To == "" {
			return fmt.Errorf("%w: %q -> %q", ErrInvalidTransfer, tr.From, tr.To)
		}
		if tr.Amount.IsZero() {
			continue
		}
		from, err := balance(tr.From)
		if err != nil {
			return err
		}
		if from.Cmp(tr.Amount) < 0 {
			return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, tr.From, from, tr.Amount)
		}
		from, err = from.CheckedSub(tr.Amount)
		if err != nil {
			return err
		}
		staged[tr.From] = from

		to, err := balance(tr.To)
		if err != nil {
			return err
		}
		to, err = to.CheckedAdd(tr.Amount)
		if err != nil {
			return fmt.Errorf("crediting %s: %w", tr.To, err)
		}
		staged[tr.To] = to
	}

	for account, amount := range staged {
		t.pending[account] = amount
	}
	return nil
}

// Changed lists the accounts whose balances the transaction modified, sorted.
func (t *Txn) Changed() []string {
	accounts := make([]string, 0, len(t.pending))
	for account := range t.pending {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}

// Flush writes pending balances into b. Nothing is persisted until b is committed.
func (t *Txn) Flush(ctx context.Context, b datastore.Batch) error {
	for _, account := range t.Changed() {
		value, err := cbor.Marshal(t.pending[account])
		if err != nil {
			return fmt.Errorf("encoding balance of %s: %w", account, err)
		}
		if err := b.Put(ctx, balanceKey(account), value); err != nil {
			return fmt.Errorf("staging balance of %s: %w", account, err)
		}
	}
	return nil
}

// balanceKey maps an account id to a single key segment. Account ids are
// opaque, so they are base32 encoded rather than used as a path.
func balanceKey(account string) datastore.Key {
	return dsPrefixBalances.ChildString(base32.RawStdEncoding.EncodeToString([]byte(account)))
}

func accountFromKey(k datastore.Key) (string, error) {
	account, err := base32.RawStdEncoding.DecodeString(k.BaseNamespace())
	if err != nil {
		return "", fmt.Errorf("decoding balance key %s: %w", k, err)
	}
	return string(account), nil
}

func getBalance(ctx context.Context, r datastore.Read, account string) (core.Amount, error) {
	value, err := r.Get(ctx, balanceKey(account))
	if errors.Is(err, datastore.ErrNotFound) {
		return core.ZeroAmount, nil
	}
	if err != nil {
		return core.Amount{}, fmt.Errorf("reading balance of %s: %w", account, err)
	}
	var amount core.Amount
	if err := cbor.Unmarshal(value, &amount); err != nil {
		return core.Amount{}, fmt.Errorf("decoding balance of %s: %w", account, err)
	}
	return amount, nil
}

func putBalance(ctx context.Context, w datastore.Write, account string, amount core.Amount) error {
	value, err := cbor.Marshal(amount)
	if err != nil {
		return fmt.Errorf("encoding balance of %s: %w", account, err)
	}
	if err := w.Put(ctx, balanceKey(account), value); err != nil {
		return fmt.Errorf("writing balance of %s: %w", account, err)
	}
	return nil
}
