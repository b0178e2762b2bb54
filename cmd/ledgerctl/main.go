package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/policeintel/auditledger/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL  string
	cfgFile    string
	authToken  string
	actorID    string
	actorBadge string
	actorRole  string
	jsonOutput bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Audit ledger CLI",
	Long: `ledgerctl talks to a ledgerd server.

It can verify the integrity of the audit chain, list and follow entries,
record actions, fingerprint evidence and check chain of custody.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.ledgerctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("ledgerctl")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
		if actorID == "" {
			actorID = viper.GetString("actor.id")
		}
		if actorBadge == "" {
			actorBadge = viper.GetString("actor.badge")
		}
		if actorRole == "" {
			actorRole = viper.GetString("actor.role")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledgerd base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "actor bearer token")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor-id", "", "actor id sent as a development header when no token is set")
	rootCmd.PersistentFlags().StringVar(&actorBadge, "actor-badge", "", "actor badge number sent as a development header")
	rootCmd.PersistentFlags().StringVar(&actorRole, "actor-role", "", "actor role sent as a development header")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(custodyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client from the global flags.
func newClient() (*client.Client, error) {
	var opts []client.Option
	switch {
	case authToken != "":
		opts = append(opts, client.WithBearerToken(authToken))
	case actorID != "" || actorBadge != "":
		opts = append(opts, client.WithActor(actorID, actorBadge, actorRole))
	}
	return client.New(serverURL, opts...)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

// ── verify ───────────────────────────────────────────────────────────────────

var errCompromised = errors.New("ledger compromised")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the audit chain",
	Long: `Verify asks the server to walk the whole chain and reports the first
break found. The command exits non-zero when the ledger is compromised, so
it can be used from cron or CI.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		v, err := c.Verify(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(v)
		} else if v.Intact {
			fmt.Printf("INTACT  %d entries verified\n", v.Checked)
		} else {
			fmt.Printf("COMPROMISED  %s at entry %d (%d of %d entries verified)\n",
				v.Reason, *v.BrokenAt, v.Checked, v.Length)
			if v.Expected != "" || v.Actual != "" {
				fmt.Printf("  expected: %s\n  actual:   %s\n", v.Expected, v.Actual)
			}
		}
		if !v.Intact {
			return errCompromised
		}
		return nil
	},
}

// ── tail ─────────────────────────────────────────────────────────────────────

var (
	tailLimit  int
	tailFollow bool
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent ledger entries",
	Long: `Tail prints the newest entries first. With --follow it then streams
entries as they are appended until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "number of entries to show")
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "stream new entries")
}

func runTail(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	entries, err := c.Entries(ctx, tailLimit, 0)
	cancel()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(entries)
	} else {
		printEntries(entries)
	}
	if !tailFollow {
		return nil
	}

	streamCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err = c.Tail(streamCtx, func(ev client.Event) error {
		if ev.Entry == nil {
			fmt.Printf("! %s %v\n", ev.Type, ev.Payload)
			return nil
		}
		if jsonOutput {
			printJSON(ev.Entry)
			return nil
		}
		printEntries([]client.Entry{*ev.Entry})
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEntries(entries []client.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tTIMESTAMP\tACTOR\tROLE\tACTION\tRESOURCE\tHASH")
	for _, e := range entries {
		hash := e.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Index, e.Timestamp.Format(time.RFC3339), e.ActorID, e.ActorRole,
			e.Action, e.Resource, hash)
	}
	w.Flush()
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendResource string
	appendDetails  []string
)

var appendCmd = &cobra.Command{
	Use:   "append <ACTION>",
	Short: "Record an action in the ledger",
	Long: `Append records an action on behalf of the configured actor.

  ledgerctl append SHARE_EVIDENCE --resource EV-2024-0042 --detail with=forensics-lab

Detail values that parse as JSON (numbers, booleans, objects) are sent as
such; everything else is sent as a string.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := parseDetails(appendDetails)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		e, err := c.Append(ctx, client.AppendRequest{
			Action:   args[0],
			Resource: appendResource,
			Details:  details,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(e)
			return nil
		}
		fmt.Printf("appended entry %d  hash %s\n", e.Index, e.Hash)
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendResource, "resource", "", "resource the action applies to")
	appendCmd.Flags().StringArrayVar(&appendDetails, "detail", nil, "key=value detail (repeatable)")
}

// parseDetails turns key=value pairs into a details map.
func parseDetails(pairs []string) (map[string]any, error) {
	details := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid detail %q: want key=value", p)
		}
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		var decoded any
		if err := dec.Decode(&decoded); err == nil && !dec.More() {
			details[k] = decoded
		} else {
			details[k] = v
		}
	}
	return details, nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledgerctl %s\n", version)
	},
}
