package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Yoak3n/ducker/internal/auth"
	"github.com/Yoak3n/ducker/internal/ops"
	"github.com/Yoak3n/ducker/internal/ui"
)

func backupCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if out == "" {
				out = filepath.Join("backups", "ducker-"+now.UTC().Format("20060102T150405Z")+".tar.gz")
			}
			m, err := ops.Backup(cfg.Storage.DataDir, out, now)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(map[string]any{"archive": out, "manifest": m})
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output archive path (.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var (
		archive string
		target  string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup archive into a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if archive == "" {
				return fmt.Errorf("--archive is required")
			}
			if target == "" {
				target = cfg.Storage.DataDir
			}
			m, err := ops.Restore(archive, target, force)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(m)
			}
			fmt.Printf("%s %d files into %s\n", ui.BoldGreen("restored"), len(m.Files), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&archive, "archive", "", "Backup archive (.tar.gz)")
	cmd.Flags().StringVar(&target, "target-dir", "", "Restore target (default: the configured data dir)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing data in the target")
	return cmd
}

func drillCmd() *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Back up, restore into a scratch dir and compare digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(workDir, 0o755); err != nil {
				return err
			}
			ts := time.Now().UTC().Format("20060102T150405Z")
			archive := filepath.Join(workDir, "ducker-drill-"+ts+".tar.gz")
			restoreDir := filepath.Join(workDir, "ducker-drill-restore-"+ts)

			if _, err := ops.Backup(cfg.Storage.DataDir, archive, time.Now()); err != nil {
				return err
			}
			if _, err := ops.Restore(archive, restoreDir, false); err != nil {
				return err
			}
			srcDigest, err := ops.Digest(cfg.Storage.DataDir)
			if err != nil {
				return err
			}
			restoreDigest, err := ops.Digest(restoreDir)
			if err != nil {
				return err
			}
			if srcDigest != restoreDigest {
				return fmt.Errorf("digest mismatch after restore: src=%s restored=%s", srcDigest, restoreDigest)
			}

			fmt.Println("backup:", archive)
			fmt.Println("restored:", restoreDir)
			fmt.Println("digest:", srcDigest)
			return nil
		},
	}
	cmd.Flags().StringVar(&workDir, "work-dir", os.TempDir(), "Scratch directory for drill artifacts")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a random token for server.token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(map[string]string{"token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
}
