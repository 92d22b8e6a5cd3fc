package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/vibe/internal/store"
)

var (
	backupOutput string
	restoreInput string
	restoreForce bool
)

var backupCmd = &cobra.Command{
	Use:   "backup -f <output.db.zst>",
	Short: "Write a zstd-compressed snapshot of the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		size, err := runBackup(db, backupOutput)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup complete: %s\n", formatSize(size))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore -f <backup.db.zst>",
	Short: "Restore the store from a snapshot (server must be stopped)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if err := runRestore(restoreInput, cfg.Store.Path, restoreForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restore complete: %s\n", cfg.Store.Path)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupOutput, "file", "f", "", "output file")
	_ = backupCmd.MarkFlagRequired("file")

	restoreCmd.Flags().StringVarP(&restoreInput, "file", "f", "", "backup file")
	restoreCmd.Flags().BoolVar(&restoreForce, "overwrite", false, "replace an existing store")
	_ = restoreCmd.MarkFlagRequired("file")
}

// runBackup snapshots the database with VACUUM INTO and compresses the
// snapshot into outputPath. It returns the compressed size.
func runBackup(db *store.Store, outputPath string) (int64, error) {
	tmp, err := os.MkdirTemp("", "vibe-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, "snapshot.db")
	if _, err := db.DB().Exec(`VACUUM INTO ?`, snapshot); err != nil {
		return 0, fmt.Errorf("snapshot database: %w", err)
	}

	src, err := os.Open(snapshot)
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer src.Close()

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	if _, err := io.Copy(zw, src); err != nil {
		return 0, fmt.Errorf("compress snapshot: %w", err)
	}

	// Close explicitly to catch write errors
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return 0, err
	}
	slog.Info("backup written", "path", outputPath, "bytes", info.Size())
	return info.Size(), nil
}

// runRestore decompresses inputPath into storePath. An existing store is
// only replaced when overwrite is set.
func runRestore(inputPath, storePath string, overwrite bool) error {
	if _, err := os.Stat(storePath); err == nil && !overwrite {
		return fmt.Errorf("store %s already exists, add --overwrite to replace it", storePath)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	// Decompress beside the target, then rename over it.
	tmp := storePath + ".restore"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create store file: %w", err)
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("decompress backup: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close store file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(storePath + suffix)
	}
	if err := os.Rename(tmp, storePath); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
