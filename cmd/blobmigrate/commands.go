package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/espen/blobmigrate/internal/api"
	"github.com/espen/blobmigrate/internal/config"
	"github.com/espen/blobmigrate/internal/hashstream"
	"github.com/espen/blobmigrate/internal/legacy"
	"github.com/espen/blobmigrate/internal/metrics"
	"github.com/espen/blobmigrate/internal/migrate"
	"github.com/espen/blobmigrate/internal/objstore"
	"github.com/espen/blobmigrate/internal/placement"
	"github.com/espen/blobmigrate/internal/version"
)

func newMigrateCmd(a *app) *cobra.Command {
	var (
		startID, endID uint64
		markMigrated   bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upload legacy blobs in an id range to the object store",
		Long: `Walks the legacy store in id order and uploads every settled file that has
a metadata record and is not yet in the object store. Re-running over the same
range resumes an interrupted migration. Concurrent runs must use disjoint ranges.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Require(config.KeyLegacyRoot, config.KeySwiftAuthURL, config.KeyMetadataDSN); err != nil {
				return err
			}
			slog.Info("starting blobmigrate migrate", "version", version.String())
			a.cfg.LogConfiguration(slog.Default())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := legacy.NewStore(a.cfg.Legacy.Root, slog.Default())
			if err != nil {
				return err
			}
			db, meta, err := a.openMetadata(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			pool := a.newPool()
			defer pool.Close()

			uploader := migrate.NewUploader(meta, slog.Default())
			uploader.SegmentSize = a.cfg.Upload.GetSegmentSize()
			uploader.MaxSegments = a.cfg.Upload.MaxSegments

			m := &migrate.Migrator{
				Pool:         pool,
				Meta:         meta,
				Legacy:       store,
				Scheme:       a.cfg.Placement.Scheme(),
				Uploader:     uploader,
				SettleWindow: a.cfg.Legacy.GetSettleWindow(),
				Logger:       slog.Default(),
			}

			opts := migrate.Options{}
			if cmd.Flags().Changed("start") {
				opts.StartID = &startID
			}
			if cmd.Flags().Changed("end") {
				opts.EndID = &endID
			}
			if markMigrated || a.cfg.Legacy.MarkMigrated {
				opts.OnMigrated = legacy.MarkMigrated
			}

			stats, err := m.Migrate(ctx, opts)
			printSummary(cmd.OutOrStdout(), stats)
			return err
		},
	}
	cmd.Flags().Uint64Var(&startID, "start", 0, "first content id to migrate (inclusive)")
	cmd.Flags().Uint64Var(&endID, "end", placement.MaxID, "last content id to migrate (inclusive)")
	cmd.Flags().BoolVar(&markMigrated, "mark-migrated", false, "rename each migrated file to <name>"+legacy.MigratedSuffix)
	return cmd
}

func printSummary(w io.Writer, s migrate.Stats) {
	fmt.Fprintf(w, "\nMigration summary (run %s):\n", s.RunID)
	fmt.Fprintf(w, "  Scanned: %d\n", s.Scanned)
	fmt.Fprintf(w, "  Uploaded: %d (%s, %d segments)\n", s.Uploaded, bytefmt.ByteSize(uint64(s.Bytes)), s.Segments)
	fmt.Fprintf(w, "  Skipped (already migrated): %d\n", s.AlreadyPresent)
	fmt.Fprintf(w, "  Skipped (no metadata record): %d\n", s.Orphaned)
	fmt.Fprintf(w, "  Skipped (modified recently): %d\n", s.Recent)
	fmt.Fprintf(w, "  Malformed paths: %d\n", s.Malformed)
	fmt.Fprintf(w, "  Duration: %s\n", s.Duration)
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve migrated blobs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Require(config.KeySwiftAuthURL); err != nil {
				return err
			}
			slog.Info("starting blobmigrate serve", "version", version.String())
			a.cfg.LogConfiguration(slog.Default())

			pool := a.newPool()
			defer pool.Close()

			server := api.NewServer(a.cfg, pool, slog.Default())
			errc := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-quit:
				slog.Info("received shutdown signal", "signal", sig.String())
			case err := <-errc:
				return fmt.Errorf("server error: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			slog.Info("server stopped")
			return nil
		},
	}
}

func newCatCmd(a *app) *cobra.Command {
	var noVerify bool
	cmd := &cobra.Command{
		Use:   "cat ID",
		Short: "Stream a migrated blob to stdout and verify its checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			keys := []string{config.KeySwiftAuthURL}
			if !noVerify {
				keys = append(keys, config.KeyMetadataDSN)
			}
			if err := a.cfg.Require(keys...); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool := a.newPool()
			defer pool.Close()

			loc := a.cfg.Placement.Scheme().Locate(id)
			src := objstore.NewReader(ctx, pool, loc.Container, loc.Object)
			defer src.Close()
			r := hashstream.New(src)

			if _, err := io.Copy(cmd.OutOrStdout(), r); err != nil {
				return fmt.Errorf("reading %s: %w", loc, err)
			}
			if noVerify {
				return nil
			}

			db, meta, err := a.openMetadata(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			rec, err := meta.Lookup(ctx, id)
			if err != nil {
				return err
			}
			if sum := r.Sum(); sum != rec.MD5 {
				return &migrate.IntegrityError{
					ID:       id,
					Location: loc,
					Check:    metrics.CheckChecksum,
					Expected: rec.MD5,
					Actual:   sum,
				}
			}
			slog.Debug("checksum verified", "id", id, "md5", rec.MD5, "size", r.Count())
			return nil
		},
	}
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip the metadata checksum comparison")
	return cmd
}

func newLocateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "locate ID",
		Short: "Print where a content id lives on disk and in the object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			loc := a.cfg.Placement.Scheme().Locate(id)
			path := filepath.FromSlash(placement.RelPath(id))
			if a.cfg.Legacy.Root != "" {
				path = filepath.Join(a.cfg.Legacy.Root, path)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "legacy path: %s\n", path)
			fmt.Fprintf(out, "container:   %s\n", loc.Container)
			fmt.Fprintf(out, "object:      %s\n", loc.Object)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blobmigrate %s %s/%s %s\n",
				version.String(), runtime.GOOS, runtime.GOARCH, version.Get().GoVersion)
		},
	}
}
