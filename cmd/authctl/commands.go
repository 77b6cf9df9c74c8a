package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"secure-auth/internal/db"
	"secure-auth/internal/domain"
	"secure-auth/internal/repository"
)

type storeOpener func(ctx context.Context) (*db.Store, error)

func newRootCmd(open storeOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Operator tooling for the secure-auth account store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(open), newAccountCmd(open))
	return root
}

func newMigrateCmd(open storeOpener) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the account schema",
	}
	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, open, func(ctx context.Context, store *db.Store) error {
				if store.SQL == nil {
					return errors.New("migrations require a SQL account store")
				}
				if err := store.Migrate(ctx); err != nil {
					return err
				}
				version, err := db.Version(ctx, store.SQL, store.Dialect)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
				return nil
			})
		},
	})
	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, open, func(ctx context.Context, store *db.Store) error {
				if store.SQL == nil {
					return errors.New("migrations require a SQL account store")
				}
				return db.Status(ctx, store.SQL, store.Dialect)
			})
		},
	})
	return migrate
}

func newAccountCmd(open storeOpener) *cobra.Command {
	account := &cobra.Command{
		Use:   "account",
		Short: "Inspect and repair accounts",
		Long: `Account commands operate directly on the store.

Examples:
  authctl account show alice@example.com
  authctl account unlock alice@example.com`,
	}
	account.AddCommand(&cobra.Command{
		Use:   "show <email>",
		Short: "Show account state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, store *db.Store) error {
				a, err := findAccount(ctx, store, args[0])
				if err != nil {
					return err
				}
				printAccount(cmd, a)
				return nil
			})
		},
	})
	account.AddCommand(&cobra.Command{
		Use:   "unlock <email>",
		Short: "Clear the lockout and failure counter",
		Long:  "Clears the lockout window and failed attempt counter. Outstanding tokens stay valid.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, store *db.Store) error {
				a, err := findAccount(ctx, store, args[0])
				if err != nil {
					return err
				}
				_, err = store.Accounts.Modify(ctx, a.ID, func(acc *domain.Account) error {
					acc.FailedAttemptCount = 0
					acc.LockoutEndsAt = nil
					acc.UpdatedAt = time.Now().UTC()
					return nil
				})
				if err != nil {
					return fmt.Errorf("unlock account: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s unlocked\n", a.Email)
				return nil
			})
		},
	})
	return account
}

func withStore(cmd *cobra.Command, open storeOpener, fn func(context.Context, *db.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func findAccount(ctx context.Context, store *db.Store, email string) (domain.Account, error) {
	a, err := store.Accounts.FindByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Account{}, fmt.Errorf("no account for %s", email)
	}
	return a, err
}

func printAccount(cmd *cobra.Command, a domain.Account) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id:               %s\n", a.ID)
	fmt.Fprintf(out, "email:            %s\n", a.Email)
	fmt.Fprintf(out, "confirmed:        %t\n", a.EmailConfirmed)
	fmt.Fprintf(out, "local password:   %t\n", a.HasPassword())
	if a.AuthProvider != "" {
		fmt.Fprintf(out, "provider:         %s\n", a.AuthProvider)
	}
	fmt.Fprintf(out, "failed attempts:  %d\n", a.FailedAttemptCount)
	if a.LockoutEndsAt != nil {
		fmt.Fprintf(out, "locked until:     %s\n", a.LockoutEndsAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "created:          %s\n", a.CreatedAt.UTC().Format(time.RFC3339))
}
