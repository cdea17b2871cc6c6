package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/compressarr/internal/config"
	"github.com/jmylchreest/compressarr/internal/database"
	"github.com/jmylchreest/compressarr/internal/service"
	"github.com/jmylchreest/compressarr/pkg/format"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Database backup commands",
	Long: `Create, list, and restore database backups.

Backups are consistent snapshots taken with VACUUM INTO and stored gzipped
next to the database (or in backup.directory), each with a companion
.meta.json carrying checksum, sizes, and row counts.`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a database backup",
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available backups",
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <filename>",
	Short: "Restore the database from a backup",
	Long: `Restore the database from a backup file.

Run this only while the server is stopped: the live database file is swapped
out underneath any process holding it open. A pre-restore backup of the
current database is taken first, so a bad restore can be rolled back by
restoring that.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}

// openBackupService loads just enough configuration for backup work and
// opens the database. Unlike serve it does not demand a complete config;
// restoring on a fresh host should not require model credentials.
func openBackupService() (*service.BackupService, *database.DB, error) {
	cfg, err := config.Snapshot(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return nil, nil, fmt.Errorf("backups require the sqlite driver (configured: %s)", cfg.Database.Driver)
	}
	if cfg.Database.Path == "" {
		return nil, nil, fmt.Errorf("database.path is required (set DB_PATH)")
	}

	logger := slog.Default()
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	svc := service.NewBackupService(db.DB, cfg.Backup, filepath.Dir(cfg.Database.Path)).
		WithLogger(logger)
	return svc, db, nil
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	svc, db, err := openBackupService()
	if err != nil {
		return err
	}
	defer db.Close()

	meta, err := svc.CreateBackup(cmd.Context())
	if err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	fmt.Printf("created %s\n", meta.Filename)
	fmt.Printf("  size:     %s (database %s)\n", format.Bytes(meta.FileSize), format.Bytes(meta.DatabaseSize))
	fmt.Printf("  checksum: %s\n", meta.Checksum)
	fmt.Printf("  rows:     %s videos, %s history\n",
		format.Number(int64(meta.TableCounts.Videos)),
		format.Number(int64(meta.TableCounts.StatusHistory)))
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	svc, db, err := openBackupService()
	if err != nil {
		return err
	}
	defer db.Close()

	backups, err := svc.ListBackups(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing backups: %w", err)
	}
	if len(backups) == 0 {
		fmt.Println("no backups found in", svc.GetBackupDirectory())
		return nil
	}

	for _, b := range backups {
		fmt.Printf("%s  %8s  %s\n", b.Filename, format.Bytes(b.FileSize), format.RelativeTime(b.CreatedAt))
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	svc, db, err := openBackupService()
	if err != nil {
		return err
	}
	defer db.Close()

	filename := args[0]
	if err := svc.RestoreBackup(cmd.Context(), filename); err != nil {
		return fmt.Errorf("restoring backup: %w", err)
	}

	fmt.Printf("restored %s\n", filename)
	return nil
}
