package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/pierrec/lz4/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stalwartgo/core/backup"
	"github.com/stalwartgo/core/store"
	"github.com/stalwartgo/core/store/memstore"
)

func newRestoreCmd() *cobra.Command {
	var dbPath string
	var workers int

	cmd := &cobra.Command{
		Use:   "restore <path>",
		Short: "restore one subspace file, or every subspace file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := memstore.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open backend: %w", err)
			}
			defer backend.Close()

			files, err := restoreTargets(args[0])
			if err != nil {
				return err
			}
			return runRestore(cmd.Context(), backend, files, workers)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "backend path (\":memory:\" for a transient store)")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent file workers when path is a directory")
	return cmd
}

// restoreTargets resolves path to the list of files to restore: itself if
// path is a regular file, or every regular file beneath it (one worker per
// file) if path is a directory.
func restoreTargets(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = godirwalk.Walk(path, &godirwalk.Options{
		Callback: func(p string, de *godirwalk.Dirent) error {
			if de.IsRegular() {
				files = append(files, p)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	return files, nil
}

func runRestore(ctx context.Context, backend store.Backend, files []string, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, f := range files {
		f := f
		g.Go(func() error {
			hdr, n, err := restoreFile(gctx, backend, f)
			if err != nil {
				return &runtimeErr{fmt.Errorf("restore %s: %w", f, err)}
			}
			fmt.Printf("restored %s: subspace=0x%02x schema=%d entries=%d\n", filepath.Base(f), byte(hdr.Subspace), hdr.SchemaVersion, n)
			return nil
		})
	}
	return g.Wait()
}

func restoreFile(ctx context.Context, backend store.Backend, path string) (backup.Header, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return backup.Header{}, 0, err
	}
	defer f.Close()

	r := lz4.NewReader(f)
	return backup.Restore(ctx, backend, r)
}
