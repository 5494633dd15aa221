package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/adslot/hostapi"
	"github.com/cloudx-io/adslot/validation"
	"github.com/cloudx-io/adslot/validation/internal/report"
)

var rootCmd = &cobra.Command{
	Use:   "key-validator --key <path> [--public-key <pem>]",
	Short: "Check the attestation over an adslotd receipt signing key",
	Long: `Checks the key_response returned by adslotd: the Nitro attestation must be
signed by a certificate chaining to the AWS Nitro root and must bind the
receipt signing key. Once it passes, receipts can be checked against the
key with receipt-validator.

Exit codes: 0 valid, 1 invalid, 2 unreadable input.`,
	Example: `  key-validator --key key_response.json
  key-validator --key key_response.json --public-key receipt_key.pem --format json`,
	Args: cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		c.SilenceUsage = true
		flags := c.Flags()
		keyPath, _ := flags.GetString("key")
		publicKeyPath, _ := flags.GetString("public-key")
		format, _ := flags.GetString("format")

		resp, err := readKeyResponse(keyPath)
		if err != nil {
			return report.Input("reading key response", err)
		}

		// without --public-key, the key carried next to the attestation is checked
		publicKey := resp.PublicKey
		if publicKeyPath != "" {
			data, err := os.ReadFile(publicKeyPath)
			if err != nil {
				return report.Input("reading public key", err)
			}
			publicKey = string(data)
		}

		result, err := validation.ValidateKeyAttestation(resp.AttestationCOSEBase64, publicKey)
		if err != nil {
			return report.Input("decoding attestation", err)
		}

		r := keyReport(resp, result)
		if err := r.Print(report.NewLogger(c.OutOrStdout()), format); err != nil {
			return report.Input("printing report", err)
		}
		return r.Result()
	},
}

func init() {
	rootCmd.Flags().String("key", "", "key_response JSON written by adslotd (required)")
	rootCmd.Flags().String("public-key", "", "PEM receipt key to match instead of the one in the response")
	rootCmd.Flags().String("format", "text", "output format: text or json")
	_ = rootCmd.MarkFlagRequired("key")
}

func main() {
	os.Exit(report.Execute(rootCmd))
}

func readKeyResponse(path string) (*hostapi.KeyResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var resp hostapi.KeyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if resp.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("no attestation in key response; was adslotd started with --attest-keys?")
	}
	return &resp, nil
}

func keyReport(resp *hostapi.KeyResponse, result *validation.KeyValidationResult) *report.Report {
	key := report.Section{Title: "Receipt Key", Fields: []report.Field{
		{Label: "Algorithm", Value: resp.KeyAlgorithm},
	}}
	var enclave report.Section
	if doc := result.Attestation; doc != nil {
		enclave = report.Section{Title: "Enclave", Fields: []report.Field{
			{Label: "Module", Value: doc.ModuleID},
			{Label: "Attested at", Value: doc.Timestamp.String()},
			{Label: "Digest", Value: doc.DigestAlgorithm},
		}}
		indexes := make([]uint64, 0, len(doc.PCRs))
		for idx := range doc.PCRs {
			indexes = append(indexes, idx)
		}
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
		for _, idx := range indexes {
			enclave.Fields = append(enclave.Fields, report.Field{Label: fmt.Sprintf("PCR%d", idx), Value: doc.PCRs[idx]})
		}
	}

	return &report.Report{
		Title:    "adslotd Receipt Key Check",
		Sections: []report.Section{key, enclave},
		Details:  result.ValidationDetails,
		Checks: []report.Field{
			report.Check("Chains to Nitro root", result.CertificateValid, true),
			report.Check("Attestation signed", result.SignatureValid, true),
			report.Check("Binds receipt key", result.PublicKeyMatch, true),
		},
		Valid: result.IsValid(),
		JSON: map[string]any{
			"key_algorithm":     resp.KeyAlgorithm,
			"attestation":       result.Attestation,
			"certificate_valid": result.CertificateValid,
			"signature_valid":   result.SignatureValid,
			"public_key_match":  result.PublicKeyMatch,
			"details":           result.ValidationDetails,
		},
	}
}
