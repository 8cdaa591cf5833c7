package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohit83k/hotspot/internal/adminauth"
	"github.com/mohit83k/hotspot/internal/authz"
	"github.com/mohit83k/hotspot/internal/bridge"
	"github.com/mohit83k/hotspot/internal/config"
	"github.com/mohit83k/hotspot/internal/logger"
	"github.com/mohit83k/hotspot/internal/store/sqlstore"
)

// services are opened per command against the configured store.
type services struct {
	engine *authz.Engine
	bridge *bridge.Bridge
	close  func() error
}

func openServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	// Operator output goes to stdout; only problems are logged.
	log, err := logger.NewLogrusLogger(cfg.LogFilePath, "warn")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	st, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	engine := authz.New(st, log)
	return &services{
		engine: engine,
		bridge: bridge.New(st, engine, log, bridge.WithPortalURL(cfg.PortalBaseURL)),
		close:  st.Close,
	}, nil
}

// withServices opens the store for the duration of fn.
func withServices(fn func(cmd *cobra.Command, args []string, s *services) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()
		return fn(cmd, args, s)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hotspotctl",
		Short:         "Operator tool for the hotspot session store",
		Long:          "hotspotctl issues vouchers, inspects and changes sessions, and refunds payments\ndirectly against the store configured by DATABASE_DRIVER and DATABASE_URL.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetContext(context.Background())
	root.AddCommand(newVouchersCmd(), newSessionsCmd(), newPaymentsCmd(), newPlansCmd(), newAdminCmd())
	return root
}

func newVouchersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "vouchers", Short: "Manage vouchers"}

	var (
		minutes  int
		quantity int
		phone    string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a batch of unused vouchers",
		Args:  cobra.NoArgs,
		RunE: withServices(func(cmd *cobra.Command, _ []string, s *services) error {
			vouchers, err := s.bridge.IssueVouchers(cmd.Context(), minutes, quantity, phone)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), vouchers)
		}),
	}
	issue.Flags().IntVar(&minutes, "minutes", 60, "access time per voucher in minutes")
	issue.Flags().IntVar(&quantity, "quantity", 1, "number of vouchers to issue (1-100)")
	issue.Flags().StringVar(&phone, "phone", "", "SMS recipient recorded on the vouchers")

	cmd.AddCommand(issue)
	return cmd
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect, extend or revoke sessions"}

	show := &cobra.Command{
		Use:   "show <username>",
		Short: "Show a session's authorization record",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(func(cmd *cobra.Command, args []string, s *services) error {
			rec, err := s.engine.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		}),
	}

	var minutes int
	extend := &cobra.Command{
		Use:   "extend <username>",
		Short: "Add minutes to a session's Session-Timeout",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(func(cmd *cobra.Command, args []string, s *services) error {
			if err := s.engine.ExtendSession(cmd.Context(), args[0], minutes); err != nil {
				return err
			}
			rec, err := s.engine.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		}),
	}
	extend.Flags().IntVar(&minutes, "minutes", 0, "minutes to add")
	_ = extend.MarkFlagRequired("minutes")

	revoke := &cobra.Command{
		Use:   "revoke <username>",
		Short: "Delete every check and reply entry for a username",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(func(cmd *cobra.Command, args []string, s *services) error {
			if err := s.engine.RevokeSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(show, extend, revoke)
	return cmd
}

func newPaymentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payments", Short: "Manage payments"}

	var reason string
	refund := &cobra.Command{
		Use:   "refund <transaction-id>",
		Short: "Mark a completed payment as refunded",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(func(cmd *cobra.Command, args []string, s *services) error {
			p, err := s.bridge.RefundPayment(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		}),
	}
	refund.Flags().StringVar(&reason, "reason", "", "refund reason")

	cmd.AddCommand(refund)
	return cmd
}

func newPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List purchasable plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), bridge.Plans())
		},
	}
}

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Admin account helpers"}

	var password string
	hash := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Long:  "Prints a bcrypt hash of --password, or of the first line read from stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw := password
			if pw == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			h, err := adminauth.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	hash.Flags().StringVar(&password, "password", "", "password to hash (read from stdin when empty)")

	cmd.AddCommand(hash)
	return cmd
}
