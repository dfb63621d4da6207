package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/responder"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/session"
)

// newBackupsCmd groups the session backup management subcommands. These
// operate on the backup store directly, without launching a browser.
func newBackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage session backups",
	}
	cmd.AddCommand(newBackupsListCmd(), newBackupsPruneCmd())
	return cmd
}

func newBackupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored session backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, db, err := openBackupStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			backups, err := store.ListBackups(context.Background())
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Println("no backups stored")
				return nil
			}
			for _, b := range backups {
				fmt.Printf("%4d  %s  %s  %s\n",
					b.Sequence,
					b.CreatedAt.Format(time.RFC3339),
					b.ID[:8],
					b.PayloadPath)
			}
			return nil
		},
	}
}

func newBackupsPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete backups beyond the retention limit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, db, err := openBackupStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.Prune(context.Background()); err != nil {
				return err
			}
			backups, err := store.ListBackups(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("%d backup(s) retained\n", len(backups))
			return nil
		},
	}
}

// openBackupStore opens the session store without a browser driver, for
// offline backup inspection.
func openBackupStore(cmd *cobra.Command) (*session.Store, *sql.DB, error) {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	db, err := responder.OpenDatabase(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := session.NewStore(cfg.Session, nil, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
