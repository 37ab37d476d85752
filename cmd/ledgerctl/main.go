package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"aqualedger/cmd/internal/secret"
	"aqualedger/config"
	"aqualedger/gateway/middleware"
	"aqualedger/native/rewards"
	"aqualedger/services/ledgerd"
	"aqualedger/services/ledgerd/report"
)

const (
	defaultServer = "http://127.0.0.1:8470"
	secretEnv     = "LEDGER_JWT_SECRET"
)

type rootOptions struct {
	server string
	token  string
	config string

	lookupEnv func(string) (string, bool)
	secret    *secret.Source
	out       io.Writer
}

func (o *rootOptions) client() *client {
	return newClient(o.server, o.token)
}

func (o *rootOptions) printJSON(v interface{}) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	if opts.lookupEnv == nil {
		opts.lookupEnv = os.LookupEnv
	}
	if opts.secret == nil {
		opts.secret = secret.NewSource(secretEnv, "JWT signing secret").WithLookup(opts.lookupEnv)
	}
	if opts.out == nil {
		opts.out = os.Stdout
	}
	serverDefault := defaultServer
	if v, ok := opts.lookupEnv("LEDGER_SERVER"); ok && strings.TrimSpace(v) != "" {
		serverDefault = v
	}
	tokenDefault, _ := opts.lookupEnv("LEDGER_TOKEN")

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate an aqualedger reward ledger",
		Long:          `ledgerctl talks to a running ledgerd over HTTP, mints bearer tokens for operators and organisers, and exports impact reports straight from a store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.out)
	root.PersistentFlags().StringVar(&opts.server, "server", serverDefault, "ledgerd base URL (env LEDGER_SERVER)")
	root.PersistentFlags().StringVar(&opts.token, "token", tokenDefault, "bearer token (env LEDGER_TOKEN)")
	root.PersistentFlags().StringVar(&opts.config, "config", "ledgerd.toml", "ledgerd configuration used by token and export")

	root.AddCommand(
		newTokenCmd(opts),
		newCreditEventCmd(opts),
		newCreditImageCmd(opts),
		newSpendCmd(opts),
		newImpactCmd(opts),
		newIssuersCmd(opts),
		newHaltCmd(opts, true),
		newHaltCmd(opts, false),
		newStatusCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// readConfig decodes the ledgerd config without the daemon's validation, so
// token minting works on hosts that only hold the auth section.
func (o *rootOptions) readConfig() (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(o.config); err == nil {
		if _, err := toml.DecodeFile(o.config, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", o.config, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == config.BackendSQL && cfg.Storage.SQLDriver == "" {
		cfg.Storage.SQLDriver = "postgres"
	}
	if v, ok := o.lookupEnv("LEDGER_SQL_DSN"); ok && v != "" {
		cfg.Storage.SQLDSN = v
	}
	return cfg, nil
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for an identity",
		Long:  `Mint a bearer token whose subject is the caller identity. The signing secret is read from LEDGER_JWT_SECRET or prompted for on the terminal.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.readConfig()
			if err != nil {
				return err
			}
			key := cfg.Auth.JWTSecret
			if key == "" {
				if key, err = opts.secret.Get(); err != nil {
					return err
				}
			}
			if cfg.Auth.MaxTTL.Duration > 0 && ttl > cfg.Auth.MaxTTL.Duration {
				return fmt.Errorf("ttl %s exceeds the configured maximum %s", ttl, cfg.Auth.MaxTTL.Duration)
			}
			token, err := middleware.MintToken(key, cfg.Auth.Issuer, cfg.Auth.Audience, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller identity embedded as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newCreditEventCmd(opts *rootOptions) *cobra.Command {
	var (
		participant string
		minutes     uint64
		waste       uint64
	)
	cmd := &cobra.Command{
		Use:   "credit-event EVENT_ID",
		Short: "Credit a participant for a completed cleanup event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var receipt rewards.Receipt
			body := map[string]interface{}{"participant": participant, "activityMinutes": minutes, "wasteUnits": waste}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/events/"+segment(args[0])+"/completions", body, &receipt); err != nil {
				return err
			}
			return opts.printJSON(receipt)
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant identity")
	cmd.Flags().Uint64Var(&minutes, "minutes", 0, "activity minutes")
	cmd.Flags().Uint64Var(&waste, "waste", 0, "waste collected in grams")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func newCreditImageCmd(opts *rootOptions) *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "credit-image EVENT_ID",
		Short: "Credit a participant for an uploaded event photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var receipt rewards.Receipt
			body := map[string]string{"participant": participant}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/events/"+segment(args[0])+"/images", body, &receipt); err != nil {
				return err
			}
			return opts.printJSON(receipt)
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant identity")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func newSpendCmd(opts *rootOptions) *cobra.Command {
	var (
		amount      uint64
		item        string
		description string
	)
	cmd := &cobra.Command{
		Use:   "spend PARTICIPANT",
		Short: "Redeem reward points from a participant balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var receipt rewards.Receipt
			body := map[string]interface{}{"amount": amount, "itemId": item, "description": description}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/participants/"+segment(args[0])+"/spends", body, &receipt); err != nil {
				return err
			}
			return opts.printJSON(receipt)
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "points to spend")
	cmd.Flags().StringVar(&item, "item", "", "redeemed item id")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func newImpactCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "impact PARTICIPANT",
		Short: "Show a participant's balance and impact counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var impact rewards.Impact
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/participants/"+segment(args[0])+"/impact", nil, &impact); err != nil {
				return err
			}
			return opts.printJSON(impact)
		},
	}
}

func newIssuersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issuers",
		Short: "Manage authorized reward issuers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add PRINCIPAL",
		Short: "Authorize an identity to credit rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/admin/issuers", map[string]string{"principal": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "issuer %s authorized\n", args[0])
			return nil
		},
	}, &cobra.Command{
		Use:   "remove PRINCIPAL",
		Short: "Revoke an issuer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodDelete, "/v1/admin/issuers/"+segment(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "issuer %s revoked\n", args[0])
			return nil
		},
	})
	return cmd
}

func newHaltCmd(opts *rootOptions, halt bool) *cobra.Command {
	use, short, path := "halt", "Reject all balance mutations until resumed", "/v1/admin/halt"
	if !halt {
		use, short, path = "resume", "Lift an emergency halt", "/v1/admin/resume"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "ledger halted=%t\n", halt)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the halt flag and authorized issuers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status map[string]interface{}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/status", nil, &status); err != nil {
				return err
			}
			return opts.printJSON(status)
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		outDir string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write CSV and Parquet impact reports from a ledger store",
		Long:  `Open the store named in the ledgerd configuration and write one row per participant. LevelDB stores are locked by a running ledgerd; export from a stopped node or an SQL backend.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.readConfig()
			if err != nil {
				return err
			}
			store, err := ledgerd.OpenStore(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()
			csvPath, parquetPath, n, err := report.Export(cmd.Context(), store, outDir, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "wrote %d rows to %s and %s\n", n, csvPath, parquetPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	cmd.Flags().StringVar(&name, "name", "impact-"+time.Now().UTC().Format("20060102"), "report file name without extension")
	return cmd
}

func main() {
	root := newRootCmd(&rootOptions{})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}
