package main

import (
	"fmt"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/adslot/instance"
	"github.com/cloudx-io/adslot/ledger"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// CreateMockEnclave returns an attester producing a Nitro-shaped document
// that echoes the requested user data and nonce.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id":   "test-enclave-12345",
				"digest":      "SHA384",
				"timestamp":   uint64(1234567890),
				"pcrs":        map[uint64][]byte{0: {0x3b, 0x4c}, 1: {0x4b, 0x4d}, 2: {0x2b, 0xdd}},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			nestedBytes, err := cbor.Marshal(nestedDoc)
			if err != nil {
				return nil, err
			}
			// [header, metadata, nested_doc, signature]
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

func testConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:0",
		MaxWorkers:     4,
		ReadTimeout:    defaultTestTimeout,
		AllowDeposits:  true,
		AmountDecimals: 2,
	}
}

func newTestServer(t *testing.T, cfg Config) *HostServer {
	t.Helper()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	km, err := NewKeyManager()
	assert.NoError(t, err)
	return NewHostServer(cfg, instance.NewManager(ds, ledger.New(ds)), km)
}
