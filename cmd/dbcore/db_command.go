// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sqlitecore/dbcore/internal/domain"
	"github.com/sqlitecore/dbcore/internal/migrate"
	"github.com/sqlitecore/dbcore/internal/rpcapi"
)

func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations against the sqlite core",
	}

	cmd.AddCommand(runDBMigrateCommand())
	cmd.AddCommand(runDBQueryCommand())
	cmd.AddCommand(runDBEventsCommand())
	cmd.AddCommand(runDBCloseCommand())
	return cmd
}

var migrationFileRe = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// loadMigrationsFromDir turns a directory of numbered `NNNN_name.sql`
// files into an ordered Migration list, each applied verbatim as one
// statement batch inside the runner's BEGIN/COMMIT frame.
func loadMigrationsFromDir(dir string) ([]migrate.Migration, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read migrations dir %s", dir)
	}

	var migrations []migrate.Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		match := migrationFileRe.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}

		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse migration version from %s", entry.Name())
		}

		path := filepath.Join(dir, entry.Name())
		description := strings.ReplaceAll(match[2], "_", " ")

		migrations = append(migrations, migrate.Migration{
			Version:     version,
			Description: description,
			Apply: func(ctx context.Context, tx *sql.Tx) error {
				body, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				_, err = tx.ExecContext(ctx, string(body))
				return err
			},
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func runDBMigrateCommand() *cobra.Command {
	var migrationsDir string

	cmd := &cobra.Command{
		Use:   "migrate <db-path>",
		Short: "Apply pending migrations from a directory of NNNN_name.sql files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations, err := loadMigrationsFromDir(migrationsDir)
			if err != nil {
				return err
			}

			d := rpcapi.New(migrations, metricsMgr)
			defer func() { _ = d.CloseAll() }()

			if _, err := d.Load(cmd.Context(), args[0], nil); err != nil {
				return err
			}

			events, err := d.GetMigrationEvents(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		},
	}

	cmd.Flags().StringVar(&migrationsDir, "migrations-dir", "", "directory of NNNN_description.sql files to apply")
	return cmd
}

func runDBEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events <db-path>",
		Short: "Load a database without migrations and print its migration event cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := rpcapi.New(nil, metricsMgr)
			if _, err := d.Load(cmd.Context(), args[0], nil); err != nil {
				return err
			}

			events, err := d.GetMigrationEvents(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		},
	}
}

func runDBQueryCommand() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "query <db-path> <sql> [args...]",
		Short: "Run one statement against a database and print the result as JSON",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := rpcapi.New(nil, metricsMgr)
			dbPath, query, rest := args[0], args[1], args[2:]
			if _, err := d.Load(cmd.Context(), dbPath, nil); err != nil {
				return err
			}

			values := make([]domain.Value, len(rest))
			for i, raw := range rest {
				values[i] = parseCLIValue(raw)
			}

			if write {
				result, err := d.Execute(cmd.Context(), dbPath, query, values)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			}

			rows, err := d.FetchAll(cmd.Context(), dbPath, query, values)
			if err != nil {
				return err
			}
			return printJSON(cmd, rows)
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "execute as a write statement instead of a query")
	return cmd
}

func runDBCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close <db-path>",
		Short: "Close a loaded database and release its connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := rpcapi.New(nil, metricsMgr)
			wasLoaded, err := d.Close(args[0])
			if err != nil {
				return err
			}
			cmd.Println(wasLoaded)
			return nil
		},
	}
}

// parseCLIValue binds a bare command-line argument as an integer when
// it parses cleanly, text otherwise; there is no CLI syntax for real,
// blob, or null arguments since this tool is for ad-hoc operator use,
// not a faithful stand-in for the RPC bridge's binding rules.
func parseCLIValue(raw string) domain.Value {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return domain.Integer(n)
	}
	return domain.Text(raw)
}

func printJSON(cmd *cobra.Command, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(encoded))
	return nil
}
