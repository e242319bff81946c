package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/gravewhisper/gravewhisper/pkg/backup"
	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/gravewhisper/gravewhisper/pkg/fsutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	backupOutput string
	forceRestore bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a copy of the sqlite database to a file",
	RunE:  runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the sqlite database with a backup file",
	Long: `Replace the sqlite database with a backup file. Stop the server first:
a running server keeps using the previous file until it is restarted.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd, restoreCmd)
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "",
		"output file (default backup-<timestamp>.db in the current directory)")
	restoreCmd.Flags().BoolVarP(&forceRestore, "force", "f", false, "Skip confirmation prompt")
}

func backupManager(cfg *config.Config) (*backup.Manager, error) {
	sizes, err := cfg.Media.Sizes()
	if err != nil {
		return nil, err
	}

	return backup.NewManager(log, &cfg.Database, sizes.Database), nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := backupManager(cfg)
	if err != nil {
		return err
	}

	data, err := mgr.Snapshot()
	if err != nil {
		return fmt.Errorf("reading database: %w", err)
	}

	out := backupOutput
	if out == "" {
		out = backup.Filename(time.Now())
	}

	if err := fsutil.WriteNewFile(out, data, 0o600, nil); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	log.WithFields(logrus.Fields{
		"file": out,
		"size": units.HumanSize(float64(len(data))),
	}).Info("Backup written")

	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := backupManager(cfg)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	if err := mgr.Validate(data); err != nil {
		return fmt.Errorf("rejecting %s: %w", args[0], err)
	}

	if !forceRestore {
		fmt.Printf("This replaces %s with %s (%s).\n",
			mgr.Path(), filepath.Base(args[0]), units.HumanSize(float64(len(data))))
		fmt.Print("Are you sure you want to continue? [y/N] ")

		reader := bufio.NewReader(os.Stdin)

		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			log.Info("Restore cancelled")

			return nil
		}
	}

	if err := mgr.Restore(data); err != nil {
		return err
	}

	log.WithField("path", mgr.Path()).Info("Database restored")

	return nil
}
