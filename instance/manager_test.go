package instance

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/adslot/core"
	"github.com/cloudx-io/adslot/ledger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	return NewManager(ds, ledger.New(ds))
}

func fund(t *testing.T, m *Manager, balances map[string]uint64) {
	t.Helper()
	for account, amount := range balances {
		_, err := m.Deposit(context.Background(), account, core.NewAmount(amount))
		assert.NoError(t, err)
	}
}

func bid(t *testing.T, m *Manager, id, bidder string, amount uint64) (*Outcome, error) {
	t.Helper()
	args, err := json.Marshal(BidArgs{BidderID: bidder, Bid: core.NewAmount(amount)})
	assert.NoError(t, err)
	return m.Call(context.Background(), Invocation{InstanceID: id, Caller: bidder, Method: MethodBid, Args: args})
}

func balance(t *testing.T, m *Manager, account string) string {
	t.Helper()
	b, err := m.Balance(context.Background(), account)
	assert.NoError(t, err)
	return b.String()
}

func TestDeploy(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, st, err := m.Deploy(ctx, "slot-1", "alice", "escrow1")
	assert.NoError(t, err)
	check.Equal(t, "slot-1", id)
	check.Equal(t, "alice", st.OwnerID)

	_, _, err = m.Deploy(ctx, "slot-1", "alice", "escrow1")
	check.True(t, errors.Is(err, ErrInstanceExists))

	generated, _, err := m.Deploy(ctx, "", "alice", "escrow2")
	assert.NoError(t, err)
	check.NotEqual(t, "", generated)

	_, _, err = m.Deploy(ctx, "slot-2", "", "escrow1")
	check.True(t, errors.Is(err, core.ErrInvalidAccountID))

	ids, err := m.List(ctx)
	assert.NoError(t, err)
	check.Equal(t, 2, len(ids))
}

func TestCall_Scenario(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	fund(t, m, map[string]uint64{"bob": 1000, "carol": 1000})

	_, _, err := m.Deploy(ctx, "slot", "alice", "escrow1")
	assert.NoError(t, err)

	out, err := bid(t, m, "slot", "bob", 100)
	assert.NoError(t, err)
	check.True(t, out.Accepted)

	highest, err := m.View(ctx, "slot", MethodGetHighestBid)
	assert.NoError(t, err)
	check.Equal(t, "100", highest.(core.Amount).String())
	bidder, err := m.View(ctx, "slot", MethodGetHighestBidderID)
	assert.NoError(t, err)
	check.Equal(t, "bob", bidder.(string))

	out, err = bid(t, m, "slot", "carol", 50)
	assert.NoError(t, err)
	check.False(t, out.Accepted)
	check.Equal(t, "bob", out.State.HighestBidderID)

	out, err = bid(t, m, "slot", "carol", 150)
	assert.NoError(t, err)
	check.True(t, out.Accepted)
	check.Equal(t, "carol", out.State.HighestBidderID)
	check.Equal(t, "1000", balance(t, m, "bob"))
	check.Equal(t, "850", balance(t, m, "carol"))
	check.Equal(t, "150", balance(t, m, "escrow1"))

	out, err = m.Call(ctx, Invocation{InstanceID: "slot", Caller: "alice", Method: MethodReleaseFunds})
	assert.NoError(t, err)
	check.Equal(t, 1, len(out.Transfers))
	check.Equal(t, "0", balance(t, m, "escrow1"))
	check.Equal(t, "1000", balance(t, m, "carol"))

	out, err = m.Call(ctx, Invocation{InstanceID: "slot", Caller: "alice", Method: MethodReleaseFunds})
	assert.NoError(t, err)
	check.Equal(t, 0, len(out.Transfers))

	view, err := m.View(ctx, "slot", MethodGetState)
	assert.NoError(t, err)
	sv := view.(StateView)
	check.Equal(t, core.PhaseSettled, sv.Phase)
	check.Equal(t, "150", sv.HighestBid.String())
	check.True(t, sv.EscrowAmount.IsZero())
}

func TestCall_FailedTransferCommitsNothing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	fund(t, m, map[string]uint64{"bob": 100, "carol": 10})

	_, _, err := m.Deploy(ctx, "slot", "alice", "escrow1")
	assert.NoError(t, err)
	_, err = bid(t, m, "slot", "bob", 100)
	assert.NoError(t, err)

	_, err = bid(t, m, "slot", "carol", 150)
	check.True(t, errors.Is(err, core.ErrTransferFailed))
	check.True(t, errors.Is(err, ledger.ErrInsufficientBalance))

	check.Equal(t, "10", balance(t, m, "carol"))
	check.Equal(t, "100", balance(t, m, "escrow1"))
	bidder, err := m.View(ctx, "slot", MethodGetHighestBidderID)
	assert.NoError(t, err)
	check.Equal(t, "bob", bidder.(string))
}

func TestCall_Errors(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Call(ctx, Invocation{InstanceID: "missing", Caller: "bob", Method: MethodReleaseFunds})
	check.True(t, errors.Is(err, ErrInstanceNotFound))

	_, _, err = m.Deploy(ctx, "slot", "alice", "escrow1")
	assert.NoError(t, err)

	_, err = m.Call(ctx, Invocation{InstanceID: "slot", Caller: "bob", Method: "withdraw"})
	check.True(t, errors.Is(err, ErrUnknownMethod))

	_, err = m.Call(ctx, Invocation{InstanceID: "slot", Caller: "bob", Method: MethodBid, Args: json.RawMessage(`{"bid":"abc"}`)})
	check.True(t, errors.Is(err, ErrInvalidArgs))

	_, err = m.Call(ctx, Invocation{InstanceID: "slot", Caller: "bob", Method: MethodReleaseFunds})
	check.True(t, errors.Is(err, core.ErrUnauthorized))

	_, err = m.View(ctx, "slot", MethodBid)
	check.True(t, errors.Is(err, ErrUnknownMethod))
}

func TestCall_StatePersistedBetweenManagers(t *testing.T) {
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	ctx := context.Background()

	first := NewManager(ds, ledger.New(ds))
	fund(t, first, map[string]uint64{"bob": 500})
	_, _, err := first.Deploy(ctx, "slot", "alice", "escrow1")
	assert.NoError(t, err)
	_, err = bid(t, first, "slot", "bob", 300)
	assert.NoError(t, err)

	second := NewManager(ds, ledger.New(ds))
	escrow, err := second.View(ctx, "slot", MethodGetEscrowAmount)
	assert.NoError(t, err)
	check.Equal(t, "300", escrow.(core.Amount).String())
	check.Equal(t, "200", balance(t, second, "bob"))
}

func TestDeploy_InstanceIDsAreOpaque(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	fund(t, m, map[string]uint64{"carol": 40})

	ids := []string{"../balances/carol", "slot/", "slot"}
	for _, id := range ids {
		deployed, _, err := m.Deploy(ctx, id, "alice", "escrow1")
		assert.NoError(t, err)
		check.Equal(t, id, deployed)
	}

	check.Equal(t, "40", balance(t, m, "carol"))
	_, err := m.Deposit(ctx, "carol", core.NewAmount(2))
	assert.NoError(t, err)
	check.Equal(t, "42", balance(t, m, "carol"))

	listed, err := m.List(ctx)
	assert.NoError(t, err)
	check.Equal(t, len(ids), len(listed))
	for _, id := range ids {
		check.True(t, slices.Contains(listed, id))
	}

	_, err = m.Deposit(ctx, "../instances/slot", core.NewAmount(7))
	assert.NoError(t, err)
	view, err := m.View(ctx, "slot", MethodGetState)
	assert.NoError(t, err)
	check.Equal(t, "alice", view.(StateView).OwnerID)
	check.Equal(t, "7", balance(t, m, "../instances/slot"))
}
