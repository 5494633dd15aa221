package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/adslot/core"
	"github.com/cloudx-io/adslot/hostapi"
	"github.com/cloudx-io/adslot/validation"
	"github.com/cloudx-io/adslot/validation/internal/report"
)

var rootCmd = &cobra.Command{
	Use:   "receipt-validator --response <path> --public-key <pem>",
	Short: "Verify the signed receipt of a committed ad slot call",
	Long: `Verifies the receipt in a call_response written by adslotd: its ES256
signature under the receipt key, the hash of its transfers and, unless
--skip-state is given, the hash of the post-call auction state.

The state checked defaults to the one reported in the response; pass
--state to check a state obtained independently, e.g. from get_state.

Exit codes: 0 valid, 1 invalid, 2 unreadable input.`,
	Example: `  receipt-validator --response call_response.json --public-key receipt_key.pem
  receipt-validator --response call_response.json --public-key receipt_key.pem --state state.json`,
	Args: cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		c.SilenceUsage = true
		flags := c.Flags()
		responsePath, _ := flags.GetString("response")
		publicKeyPath, _ := flags.GetString("public-key")
		statePath, _ := flags.GetString("state")
		skipState, _ := flags.GetBool("skip-state")
		format, _ := flags.GetString("format")

		resp, err := readCallResponse(responsePath)
		if err != nil {
			return report.Input("reading call response", err)
		}
		publicKey, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return report.Input("reading public key", err)
		}

		var expected *core.State
		switch {
		case skipState:
		case statePath != "":
			if expected, err = readState(statePath); err != nil {
				return report.Input("reading state", err)
			}
		default:
			expected = &resp.State
		}

		result, err := validation.ValidateReceipt(resp.Receipt, string(publicKey), expected)
		if err != nil {
			return report.Input("decoding receipt", err)
		}

		r := receiptReport(result)
		if err := r.Print(report.NewLogger(c.OutOrStdout()), format); err != nil {
			return report.Input("printing report", err)
		}
		return r.Result()
	},
}

func init() {
	rootCmd.Flags().String("response", "", "call_response JSON written by adslotd (required)")
	rootCmd.Flags().String("public-key", "", "PEM receipt key from key_response (required)")
	rootCmd.Flags().String("state", "", "expected post-call state JSON")
	rootCmd.Flags().Bool("skip-state", false, "do not check the state hash")
	rootCmd.Flags().String("format", "text", "output format: text or json")
	_ = rootCmd.MarkFlagRequired("response")
	_ = rootCmd.MarkFlagRequired("public-key")
}

func main() {
	os.Exit(report.Execute(rootCmd))
}

func readCallResponse(path string) (*hostapi.CallResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var resp hostapi.CallResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if resp.Receipt == "" {
		return nil, fmt.Errorf("no receipt in call response; rejected calls are not receipted")
	}
	return &resp, nil
}

func readState(path string) (*core.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st core.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return &st, nil
}

func receiptReport(result *validation.ReceiptValidationResult) *report.Report {
	var receipt report.Section
	if p := result.Payload; p != nil {
		receipt = report.Section{Title: "Receipt", Fields: []report.Field{
			{Label: "ID", Value: p.ID},
			{Label: "Instance", Value: p.InstanceID},
			{Label: "Method", Value: p.Method},
			{Label: "Caller", Value: p.Caller},
			{Label: "Accepted", Value: fmt.Sprintf("%v", p.Accepted)},
		}}
		for _, tr := range p.Transfers {
			receipt.Fields = append(receipt.Fields, report.Field{
				Label: "Transfer",
				Value: fmt.Sprintf("%s -> %s %s", tr.From, tr.To, tr.Amount),
			})
		}
	}

	return &report.Report{
		Title:    "Ad Slot Receipt Validator",
		Sections: []report.Section{receipt},
		Details:  result.ValidationDetails,
		Checks: []report.Field{
			report.Check("Signature Valid", result.SignatureValid, true),
			report.Check("Transfers Hash Valid", result.TransfersHashValid, true),
			report.Check("State Hash Match", result.StateHashMatch, result.StateChecked),
		},
		Valid: result.IsValid(),
		JSON: map[string]any{
			"signature_valid":      result.SignatureValid,
			"transfers_hash_valid": result.TransfersHashValid,
			"state_checked":        result.StateChecked,
			"state_hash_match":     result.StateHashMatch,
			"receipt":              result.Payload,
			"details":              result.ValidationDetails,
		},
	}
}
