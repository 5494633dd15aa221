package main

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/adslot/core"
	"github.com/cloudx-io/adslot/hostapi"
)

const defaultTestTimeout = 5 * time.Second

func request(t *testing.T, s *HostServer, req any) any {
	t.Helper()
	raw, err := json.Marshal(req)
	assert.NoError(t, err)
	return s.handleRequest(context.Background(), raw)
}

func deposit(t *testing.T, s *HostServer, account string, amount uint64) {
	t.Helper()
	resp := request(t, s, hostapi.DepositRequest{Type: hostapi.TypeDeposit, AccountID: account, Amount: core.NewAmount(amount)})
	_, ok := resp.(hostapi.BalanceResponse)
	assert.True(t, ok)
}

func callBid(t *testing.T, s *HostServer, bidder string, amount uint64) hostapi.CallResponse {
	t.Helper()
	args, err := json.Marshal(map[string]any{"bidder_id": bidder, "bid": core.NewAmount(amount)})
	assert.NoError(t, err)
	resp := request(t, s, hostapi.CallRequest{Type: hostapi.TypeCall, InstanceID: "slot", Caller: bidder, Method: "bid", Args: args})
	callResp, ok := resp.(hostapi.CallResponse)
	assert.True(t, ok)
	return callResp
}

func TestHandleRequest_Ping(t *testing.T) {
	s := newTestServer(t, testConfig())
	resp, ok := request(t, s, hostapi.BaseRequest{Type: hostapi.TypePing}).(hostapi.PongResponse)
	assert.True(t, ok)
	check.Equal(t, hostapi.TypePong, resp.Type)
}

func TestHandleRequest_Unknown(t *testing.T) {
	s := newTestServer(t, testConfig())

	resp, ok := request(t, s, hostapi.BaseRequest{Type: "auction_request"}).(hostapi.ErrorResponse)
	assert.True(t, ok)
	check.Equal(t, hostapi.TypeError, resp.Type)
	check.True(t, strings.Contains(resp.Message, "auction_request"))

	resp, ok = s.handleRequest(context.Background(), []byte("not json")).(hostapi.ErrorResponse)
	assert.True(t, ok)
	check.Equal(t, hostapi.TypeError, resp.Type)
}

func TestHandleRequest_AuctionScenario(t *testing.T) {
	s := newTestServer(t, testConfig())
	deposit(t, s, "bob", 1000)
	deposit(t, s, "carol", 1000)

	deployed, ok := request(t, s, hostapi.DeployRequest{
		Type: hostapi.TypeDeploy, InstanceID: "slot", OwnerID: "alice", EscrowAccountID: "escrow1",
	}).(hostapi.DeployResponse)
	assert.True(t, ok)
	check.Equal(t, "slot", deployed.InstanceID)

	first := callBid(t, s, "bob", 100)
	check.True(t, first.Success)
	check.True(t, first.Accepted)
	check.NotEqual(t, hostapi.ReceiptCOSEBase64(""), first.Receipt)

	losing := callBid(t, s, "carol", 50)
	check.True(t, losing.Success)
	check.False(t, losing.Accepted)
	check.Equal(t, 0, len(losing.Transfers))

	winning := callBid(t, s, "carol", 150)
	check.True(t, winning.Accepted)
	check.Equal(t, "carol", winning.State.HighestBidderID)

	receipt, err := winning.Receipt.Decode()
	assert.NoError(t, err)
	payload, err := receipt.Payload()
	assert.NoError(t, err)
	stateHash, err := core.ComputeStateHash(winning.State, payload.Nonce)
	assert.NoError(t, err)
	check.Equal(t, stateHash, payload.StateHash)

	view, ok := request(t, s, hostapi.ViewRequest{Type: hostapi.TypeView, InstanceID: "slot", Method: "get_highest_bid"}).(hostapi.ViewResponse)
	assert.True(t, ok)
	check.Equal(t, `"150"`, string(view.Result))

	view, ok = request(t, s, hostapi.ViewRequest{Type: hostapi.TypeView, InstanceID: "slot", Method: "get_highest_bidder_id"}).(hostapi.ViewResponse)
	assert.True(t, ok)
	check.Equal(t, `"carol"`, string(view.Result))

	release, ok := request(t, s, hostapi.CallRequest{Type: hostapi.TypeCall, InstanceID: "slot", Caller: "alice", Method: "release_funds"}).(hostapi.CallResponse)
	assert.True(t, ok)
	check.True(t, release.Success)
	check.Equal(t, 1, len(release.Transfers))
	check.True(t, release.State.EscrowAmount.IsZero())

	balance, ok := request(t, s, hostapi.BalanceRequest{Type: hostapi.TypeBalance, AccountID: "carol"}).(hostapi.BalanceResponse)
	assert.True(t, ok)
	check.Equal(t, "1000", balance.Balance.String())
	check.Equal(t, "10", balance.BalanceUnits)

	list, ok := request(t, s, hostapi.BaseRequest{Type: hostapi.TypeListInstances}).(hostapi.InstancesResponse)
	assert.True(t, ok)
	check.Equal(t, []string{"slot"}, list.InstanceIDs)
}

func TestHandleRequest_RejectedCall(t *testing.T) {
	s := newTestServer(t, testConfig())
	request(t, s, hostapi.DeployRequest{Type: hostapi.TypeDeploy, InstanceID: "slot", OwnerID: "alice", EscrowAccountID: "escrow1"})

	resp, ok := request(t, s, hostapi.CallRequest{Type: hostapi.TypeCall, InstanceID: "slot", Caller: "mallory", Method: "release_funds"}).(hostapi.CallResponse)
	assert.True(t, ok)
	check.False(t, resp.Success)
	check.Equal(t, hostapi.ReceiptCOSEBase64(""), resp.Receipt)
	check.True(t, strings.Contains(resp.Message, core.ErrUnauthorized.Error()))

	// bob has no funds
	bid := callBid(t, s, "bob", 100)
	check.False(t, bid.Success)
	check.True(t, strings.Contains(bid.Message, core.ErrTransferFailed.Error()))
}

func TestHandleRequest_Deposits(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(t, cfg)

	resp, ok := request(t, s, hostapi.DepositRequest{Type: hostapi.TypeDeposit, AccountID: "bob", AmountUnits: "1.25"}).(hostapi.BalanceResponse)
	assert.True(t, ok)
	check.Equal(t, "125", resp.Balance.String())
	check.Equal(t, "1.25", resp.BalanceUnits)

	_, ok = request(t, s, hostapi.DepositRequest{Type: hostapi.TypeDeposit, AccountID: "bob", AmountUnits: "0.001"}).(hostapi.ErrorResponse)
	check.True(t, ok)

	_, ok = request(t, s, hostapi.DepositRequest{
		Type: hostapi.TypeDeposit, AccountID: "bob", Amount: core.NewAmount(1), AmountUnits: "1",
	}).(hostapi.ErrorResponse)
	check.True(t, ok)

	cfg.AllowDeposits = false
	disabled := newTestServer(t, cfg)
	errResp, ok := request(t, disabled, hostapi.DepositRequest{Type: hostapi.TypeDeposit, AccountID: "bob", Amount: core.NewAmount(1)}).(hostapi.ErrorResponse)
	assert.True(t, ok)
	check.Equal(t, "Deposits are disabled", errResp.Message)
}

func TestHandleRequest_KeyRequest(t *testing.T) {
	s := newTestServer(t, testConfig())

	resp, ok := request(t, s, hostapi.BaseRequest{Type: hostapi.TypeKeyRequest}).(*hostapi.KeyResponse)
	assert.True(t, ok)
	check.True(t, strings.HasPrefix(resp.PublicKey, "-----BEGIN PUBLIC KEY-----"))
	check.Equal(t, hostapi.AttestationCOSEBase64(""), resp.AttestationCOSEBase64)

	s.attester = func() (EnclaveAttester, error) { return CreateMockEnclave(t), nil }
	resp, ok = request(t, s, hostapi.BaseRequest{Type: hostapi.TypeKeyRequest}).(*hostapi.KeyResponse)
	assert.True(t, ok)
	check.NotEqual(t, hostapi.AttestationCOSEBase64(""), resp.AttestationCOSEBase64)
}

func TestServe_RoundTrip(t *testing.T) {
	s := newTestServer(t, testConfig())
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()

	conn, err := net.DialTimeout("tcp", listener.Addr().String(), defaultTestTimeout)
	assert.NoError(t, err)
	_ = conn.SetDeadline(time.Now().Add(defaultTestTimeout))
	assert.NoError(t, json.NewEncoder(conn).Encode(hostapi.BaseRequest{Type: hostapi.TypePing}))

	var pong hostapi.PongResponse
	assert.NoError(t, json.NewDecoder(conn).Decode(&pong))
	check.Equal(t, hostapi.TypePong, pong.Type)
	_ = conn.Close()

	cancel()
	select {
	case err := <-done:
		check.NoError(t, err)
	case <-time.After(defaultTestTimeout):
		t.Fatal("server did not stop")
	}
}
