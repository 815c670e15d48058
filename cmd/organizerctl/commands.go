package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/file-organizer/config"
	"github.com/feichai0017/file-organizer/internal/bootstrap"
	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/internal/quota"
	"github.com/feichai0017/file-organizer/internal/store"
)

// opener returns the store to act on and a func releasing it.
type opener func(ctx context.Context) (store.Store, func(), error)

func openRedisStore(ctx context.Context) (store.Store, func(), error) {
	client, err := bootstrap.NewRedisClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	st := bootstrap.NewRedisStore(client, config.GetAppConfig())
	return st, func() { client.Close() }, nil
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "organizerctl",
		Short:         "Inspect processing sessions, usage and plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		sessionCmd(open),
		cancelCmd(open),
		usageCmd(open),
		planCmd(open),
	)
	return root
}

// withStore runs fn against an opened store.
func withStore(cmd *cobra.Command, open opener, fn func(ctx context.Context, st store.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, release, err := open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, st)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sessionCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "session <id>",
		Short: "Print a session snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, st store.Store) error {
				sess, err := st.GetSession(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get session %s: %w", args[0], err)
				}
				return printJSON(cmd.OutOrStdout(), sess)
			})
		},
	}
}

func cancelCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Ask a running session to stop at the next file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, st store.Store) error {
				sess, err := st.GetSession(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get session %s: %w", args[0], err)
				}
				if sess.IsTerminal() {
					return fmt.Errorf("session %s is already %s", sess.ID, sess.Status)
				}
				if err := st.RequestCancel(ctx, sess.ID); err != nil {
					return fmt.Errorf("failed to cancel session %s: %w", sess.ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", sess.ID)
				return nil
			})
		},
	}
}

func usageCmd(open opener) *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "usage <ownerId>",
		Short: "Print monthly usage for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now().UTC()
			if month != "" {
				parsed, err := time.Parse("2006-01", month)
				if err != nil {
					return fmt.Errorf("invalid --month %q, want YYYY-MM", month)
				}
				at = parsed
			}
			return withStore(cmd, open, func(ctx context.Context, st store.Store) error {
				u, err := st.GetUsage(ctx, args[0], at.Year(), int(at.Month()))
				if err != nil {
					return fmt.Errorf("failed to get usage: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), u)
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM (default current)")
	return cmd
}

func planCmd(open opener) *cobra.Command {
	var (
		role  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "plan <userId>",
		Short: "Set a user's role and monthly limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := models.Role(role)
			if r != models.RoleFree && r != models.RolePremium {
				return fmt.Errorf("invalid --role %q, want free or premium", role)
			}
			if limit < 0 {
				return fmt.Errorf("invalid --limit %d", limit)
			}
			return withStore(cmd, open, func(ctx context.Context, st store.Store) error {
				now := time.Now().UTC()
				p, err := st.GetProfile(ctx, args[0])
				switch {
				case errors.Is(err, store.ErrNotFound):
					p = &models.UserProfile{ID: args[0], CreatedAt: now}
				case err != nil:
					return fmt.Errorf("failed to get profile: %w", err)
				}
				p.Role = r
				switch {
				case limit > 0:
					p.MonthlyLimit = limit
				case p.MonthlyLimit == 0:
					p.MonthlyLimit = quota.DefaultFreeMonthlyLimit
				}
				p.UpdatedAt = now
				if err := st.SaveProfile(ctx, p); err != nil {
					return fmt.Errorf("failed to save profile: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s with limit %d\n", p.ID, p.Role, p.MonthlyLimit)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(models.RoleFree), "free or premium")
	cmd.Flags().IntVar(&limit, "limit", 0, "monthly file limit for free users")
	return cmd
}
