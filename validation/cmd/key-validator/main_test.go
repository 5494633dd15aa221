package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/adslot/hostapi"
	"github.com/cloudx-io/adslot/validation"
)

func TestReadKeyResponse(t *testing.T) {
	dir := t.TempDir()

	unattested := filepath.Join(dir, "plain.json")
	assert.NoError(t, os.WriteFile(unattested, []byte(`{"type":"key_response","key_algorithm":"ES256","public_key":"pem"}`), 0o600))
	_, err := readKeyResponse(unattested)
	check.NotNil(t, err)
	check.True(t, strings.Contains(err.Error(), "--attest-keys"))

	attested := filepath.Join(dir, "attested.json")
	assert.NoError(t, os.WriteFile(attested, []byte(`{"type":"key_response","key_algorithm":"ES256","public_key":"pem","attestation_cose_base64":"AAAA"}`), 0o600))
	resp, err := readKeyResponse(attested)
	assert.NoError(t, err)
	check.Equal(t, "pem", resp.PublicKey)

	_, err = readKeyResponse(filepath.Join(dir, "missing.json"))
	check.NotNil(t, err)
}

func TestKeyReport(t *testing.T) {
	result := &validation.KeyValidationResult{
		BaseValidationResult: validation.BaseValidationResult{SignatureValid: true},
		CertificateValid:     true,
		PublicKeyMatch:       false,
		Attestation: &hostapi.AttestationDoc{
			ModuleID:  "i-0abc-enc0",
			Timestamp: time.UnixMilli(1700000000000).UTC(),
			PCRs:      map[uint64]string{2: "cc", 0: "aa", 1: "bb"},
		},
	}

	r := keyReport(&hostapi.KeyResponse{KeyAlgorithm: "ES256"}, result)
	check.False(t, r.Valid)
	check.Equal(t, 2, len(r.Sections))

	enclave := r.Sections[1].Fields
	check.Equal(t, "i-0abc-enc0", enclave[0].Value)
	check.Equal(t, "PCR0", enclave[3].Label)
	check.Equal(t, "PCR2", enclave[5].Label)
	check.Equal(t, "false", r.Checks[2].Value)
}
