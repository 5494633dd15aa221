package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/adslot/core"
	"github.com/cloudx-io/adslot/hostapi"
	"github.com/cloudx-io/adslot/instance"
)

// HostServer serves the host protocol: one JSON request and one JSON response per connection.
type HostServer struct {
	cfg        Config
	manager    *instance.Manager
	keyManager *KeyManager

	// attester returns nil when key attestation is disabled.
	attester func() (EnclaveAttester, error)
}

func NewHostServer(cfg Config, manager *instance.Manager, keyManager *KeyManager) *HostServer {
	s := &HostServer{
		cfg:        cfg,
		manager:    manager,
		keyManager: keyManager,
		attester:   func() (EnclaveAttester, error) { return nil, nil },
	}
	if cfg.AttestKeys {
		s.attester = getEnclaveAttester
	}
	return s
}

func (s *HostServer) listen() (net.Listener, error) {
	if s.cfg.VsockPort != 0 {
		listener, err := vsock.Listen(s.cfg.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		log.Infof("host listening on vsock port %d", s.cfg.VsockPort)
		return listener, nil
	}
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp listener: %w", err)
	}
	log.Infof("host listening on %s", listener.Addr())
	return listener, nil
}

// Start listens on the configured address and serves until ctx is done.
func (s *HostServer) Start(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections until ctx is done, then closes listener.
func (s *HostServer) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		if err := listener.Close(); err != nil {
			log.Errorf("failed to close listener: %v", err)
		}
	})
	defer stop()

	semaphore := make(chan struct{}, s.cfg.MaxWorkers)
	log.Infof("worker pool initialized with %d max concurrent workers", s.cfg.MaxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Infof("listener closed, stopping")
				return nil
			}
			log.Errorf("failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			log.Infof("no workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Errorf("failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *HostServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Errorf("failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	var response any
	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		log.Errorf("failed to read request: %v", err)
		response = hostapi.NewErrorResponse(fmt.Sprintf("Failed to read request: %v", err))
	} else {
		response = s.handleRequest(ctx, raw)
	}

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

// handleRequest dispatches a raw request on its type.
func (s *HostServer) handleRequest(ctx context.Context, raw []byte) any {
	var base hostapi.BaseRequest
	if err := json.Unmarshal(raw, &base); err != nil {
		log.Errorf("failed to decode base request: %v", err)
		return hostapi.NewErrorResponse(fmt.Sprintf("Failed to decode request: %v", err))
	}
	log.Debugf("received request type: %s", base.Type)

	switch base.Type {
	case hostapi.TypePing:
		return hostapi.PongResponse{
			Type:      hostapi.TypePong,
			Message:   "host is healthy",
			Timestamp: time.Now().Unix(),
		}
	case hostapi.TypeKeyRequest:
		return s.handleKeyRequest()
	case hostapi.TypeDeploy:
		return s.handleDeploy(ctx, raw)
	case hostapi.TypeCall:
		return s.handleCall(ctx, raw)
	case hostapi.TypeView:
		return s.handleView(ctx, raw)
	case hostapi.TypeDeposit:
		return s.handleDeposit(ctx, raw)
	case hostapi.TypeBalance:
		return s.handleBalance(ctx, raw)
	case hostapi.TypeListInstances:
		return s.handleListInstances(ctx)
	default:
		return hostapi.NewErrorResponse(fmt.Sprintf("Unknown request type: %s", base.Type))
	}
}

func (s *HostServer) handleKeyRequest() any {
	attester, err := s.attester()
	if err != nil {
		log.Errorf("key request failed: %v", err)
		return hostapi.NewErrorResponse(fmt.Sprintf("Failed to initialize enclave attester: %v", err))
	}
	resp, err := HandleKeyRequest(attester, s.keyManager)
	if err != nil {
		log.Errorf("key request failed: %v", err)
		return hostapi.NewErrorResponse(fmt.Sprintf("Key request failed: %v", err))
	}
	return resp
}

func (s *HostServer) handleDeploy(ctx context.Context, raw []byte) any {
	var req hostapi.DeployRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Failed to decode deploy request: %v", err))
	}
	id, st, err := s.manager.Deploy(ctx, req.InstanceID, req.OwnerID, req.EscrowAccountID)
	if err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Deploy failed: %v", err))
	}
	return hostapi.DeployResponse{
		Type:       hostapi.TypeDeployResponse,
		InstanceID: id,
		State:      st,
	}
}

func (s *HostServer) handleCall(ctx context.Context, raw []byte) any {
	startTime := time.Now()

	var req hostapi.CallRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Failed to decode call request: %v", err))
	}

	out, err := s.manager.Call(ctx, instance.Invocation{
		InstanceID: req.InstanceID,
		Caller:     req.Caller,
		Method:     req.Method,
		Args:       req.Args,
	})
	if err != nil {
		return hostapi.CallResponse{
			Type:           hostapi.TypeCallResponse,
			Success:        false,
			Message:        fmt.Sprintf("Call rejected: %v", err),
			ProcessingTime: time.Since(startTime).Milliseconds(),
		}
	}

	resp := hostapi.CallResponse{
		Type:      hostapi.TypeCallResponse,
		Success:   true,
		Message:   fmt.Sprintf("%s committed", out.Method),
		Accepted:  out.Accepted,
		Transfers: out.Transfers,
		State:     out.State,
	}

	receipt, err := s.keyManager.IssueReceipt(out)
	if err != nil {
		// the call is already committed; report it without a receipt
		log.Errorf("failed to issue receipt for %s on %s: %v", out.Method, out.InstanceID, err)
		resp.Message = fmt.Sprintf("%s committed, receipt unavailable: %v", out.Method, err)
	} else {
		resp.Receipt = receipt.EncodeBase64()
	}

	resp.ProcessingTime = time.Since(startTime).Milliseconds()
	log.Infof("%s on %s by %s: accepted=%t highest=%s escrow=%s, processing=%dms",
		out.Method, out.InstanceID, out.Caller, out.Accepted,
		out.State.HighestBid.FormatUnits(s.cfg.AmountDecimals),
		out.State.EscrowAmount.FormatUnits(s.cfg.AmountDecimals),
		resp.ProcessingTime)
	return resp
}

func (s *HostServer) handleView(ctx context.Context, raw []byte) any {
	var req hostapi.ViewRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Failed to decode view request: %v", err))
	}
	result, err := s.manager.View(ctx, req.InstanceID, req.Method)
	if err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("View failed: %v", err))
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Failed to encode view result: %v", err))
	}
	return hostapi.ViewResponse{
		Type:       hostapi.TypeViewResponse,
		InstanceID: req.InstanceID,
		Method:     req.Method,
		Result:     encoded,
	}
}

func (s *HostServer) handleDeposit(ctx context.Context, raw []byte) any {
	if !s.cfg.AllowDeposits {
		return hostapi.NewErrorResponse("Deposits are disabled")
	}
	var req hostapi.DepositRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Failed to decode deposit request: %v", err))
	}

	amount := req.Amount
	if req.AmountUnits != "" {
		if !amount.IsZero() {
			return hostapi.NewErrorResponse("Only one of amount and amount_units may be set")
		}
		parsed, err := core.ParseUnits(req.AmountUnits, s.cfg.AmountDecimals)
		if err != nil {
			return hostapi.NewErrorResponse(fmt.Sprintf("Invalid amount_units: %v", err))
		}
		amount = parsed
	}

	balance, err := s.manager.Deposit(ctx, req.AccountID, amount)
	if err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Deposit failed: %v", err))
	}
	log.Infof("deposited %s to %s", amount.FormatUnits(s.cfg.AmountDecimals), req.AccountID)
	return s.balanceResponse(req.AccountID, balance)
}

func (s *HostServer) handleBalance(ctx context.Context, raw []byte) any {
	var req hostapi.BalanceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Failed to decode balance request: %v", err))
	}
	balance, err := s.manager.Balance(ctx, req.AccountID)
	if err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("Balance failed: %v", err))
	}
	return s.balanceResponse(req.AccountID, balance)
}

func (s *HostServer) balanceResponse(account string, balance core.Amount) hostapi.BalanceResponse {
	return hostapi.BalanceResponse{
		Type:         hostapi.TypeBalanceResponse,
		AccountID:    account,
		Balance:      balance,
		BalanceUnits: balance.FormatUnits(s.cfg.AmountDecimals),
	}
}

func (s *HostServer) handleListInstances(ctx context.Context) any {
	ids, err := s.manager.List(ctx)
	if err != nil {
		return hostapi.NewErrorResponse(fmt.Sprintf("List failed: %v", err))
	}
	return hostapi.InstancesResponse{
		Type:        hostapi.TypeInstancesResponse,
		InstanceIDs: ids,
	}
}
