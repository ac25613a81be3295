// blobmigrate copies content blobs from the legacy hex-sharded filesystem
// store into Swift, verifying each upload against the checksum recorded in
// the metadata database, and serves migrated blobs back over HTTP.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/espen/blobmigrate/internal/config"
	"github.com/espen/blobmigrate/internal/metadata"
	"github.com/espen/blobmigrate/internal/objstore"
	"github.com/espen/blobmigrate/internal/placement"
	"github.com/espen/blobmigrate/internal/version"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown
const ShutdownTimeout = 120 * time.Second

// app carries state shared by every subcommand
type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "blobmigrate",
		Short:         "Migrate legacy content blobs into Swift",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			// cat owns stdout.
			logOut := cmd.OutOrStdout()
			if cmd.Name() == "cat" {
				logOut = cmd.ErrOrStderr()
			}
			configureLogger(logOut, cfg.Log.Format, cfg.Log.Level)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("BLOBMIGRATE_CONFIG"),
		"path to YAML config file (env BLOBMIGRATE_CONFIG)")

	root.AddCommand(
		newMigrateCmd(a),
		newServeCmd(a),
		newCatCmd(a),
		newLocateCmd(a),
		newVersionCmd(),
	)
	return root
}

// configureLogger sets up the default slog logger
func configureLogger(w io.Writer, format, level string) {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid content id %q: %w", s, err)
	}
	if id > placement.MaxID {
		return 0, fmt.Errorf("content id %d exceeds %d", id, uint64(placement.MaxID))
	}
	return id, nil
}

func (a *app) newPool() *objstore.Pool {
	dial := objstore.SwiftDialer(objstore.SwiftConfig{
		AuthURL:        a.cfg.Swift.AuthURL,
		UserName:       a.cfg.Swift.Username,
		APIKey:         a.cfg.Swift.APIKey,
		Tenant:         a.cfg.Swift.Tenant,
		Domain:         a.cfg.Swift.Domain,
		Region:         a.cfg.Swift.Region,
		AuthVersion:    a.cfg.Swift.AuthVersion,
		Timeout:        a.cfg.Swift.GetTimeout(),
		ConnectTimeout: a.cfg.Swift.GetConnectTimeout(),
		UserAgent:      version.UserAgent(),
	})
	return objstore.NewPool(dial, a.cfg.Pool.Capacity, objstore.WithPoolLogger(slog.Default()))
}

// openMetadata connects to PostgreSQL and checks the connection.
func (a *app) openMetadata(ctx context.Context) (*sql.DB, *metadata.SQLStore, error) {
	db, err := sql.Open("postgres", a.cfg.Metadata.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening metadata database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connecting to metadata database: %w", err)
	}

	store, err := metadata.NewSQLStore(db, metadata.Schema{
		Table:      a.cfg.Metadata.Table,
		IDColumn:   a.cfg.Metadata.IDColumn,
		MD5Column:  a.cfg.Metadata.MD5Column,
		SizeColumn: a.cfg.Metadata.SizeColumn,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store, nil
}
