package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ── fingerprint ──────────────────────────────────────────────────────────────

var fingerprintAlgorithm string

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <artifact-ref> <file>",
	Short: "Upload an evidence artifact and record its digest",
	Long: `Fingerprint uploads the file as the artifact identified by artifact-ref
and prints the custody record id. Keep the id: it is what 'custody verify'
checks against.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read artifact: %w", err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		rec, err := c.Fingerprint(ctx, args[0], content, fingerprintAlgorithm)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(rec)
			return nil
		}
		fmt.Printf("record    %s\nartifact  %s\n%-9s %s\n", rec.ID, rec.ArtifactRef, rec.Algorithm, rec.StoredDigest)
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().StringVar(&fingerprintAlgorithm, "algorithm", "", "digest algorithm: sha256 (default) or blake2b-256")
}

// ── custody ──────────────────────────────────────────────────────────────────

var errNotVerified = errors.New("custody not verified")

var custodyCmd = &cobra.Command{
	Use:   "custody",
	Short: "Chain-of-custody checks",
}

var custodyVerifyCmd = &cobra.Command{
	Use:   "verify <record-id>",
	Short: "Check that an artifact still matches its recorded digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		res, err := c.VerifyCustody(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
		} else if res.Verified {
			fmt.Printf("VERIFIED  %s\n", res.Reference)
		} else {
			fmt.Printf("FAILED    %s  %s\n", res.Reference, res.Reason)
		}
		if !res.Verified {
			return errNotVerified
		}
		return nil
	},
}

func init() {
	custodyCmd.AddCommand(custodyVerifyCmd)
}
