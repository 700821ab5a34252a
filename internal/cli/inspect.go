package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Path     string // optional - only cache entries at or below this path
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Dump persisted writes and server cache",
		Long: `Dump the contents of a treesync database.

The output lists the user writes still waiting for a server answer, in
write id order, and the server cache entries saved when default listens
completed, in path order.

Examples:
  treesync inspect --db ./state.db
  treesync inspect --db ./state.db --path /users
  treesync inspect --config ./treesync.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: from config)")
	cmd.Flags().StringVar(&opts.Path, "path", "", "only show cache entries at or below this path")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	db := opts.Database
	if db == "" {
		cfg, err := opts.Config()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		db = cfg.Database
	}
	if db == "" {
		return NewExitError(ExitCommandError, "no database: use --db or set database in the config file")
	}
	// store.Open creates missing databases; inspect must not.
	if _, err := os.Stat(db); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(db)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	dump, err := st.ReadDump(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read database", err)
	}
	if opts.Path != "" {
		dump.ServerCache = cacheUnder(dump.ServerCache, opts.Path)
	}

	if opts.Format == "json" {
		return formatter.Success(dump)
	}
	outputDumpText(cmd, dump)
	return nil
}

// cacheUnder keeps the rows at path or below it.
func cacheUnder(rows []store.CacheRow, path string) []store.CacheRow {
	prefix := "/" + strings.Trim(path, "/")
	out := []store.CacheRow{}
	for _, row := range rows {
		if prefix == "/" || row.Path == prefix || strings.HasPrefix(row.Path, prefix+"/") {
			out = append(out, row)
		}
	}
	return out
}

func outputDumpText(cmd *cobra.Command, dump store.Dump) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Pending writes: %d\n", len(dump.Writes))
	for _, wr := range dump.Writes {
		hidden := ""
		if !wr.Visible {
			hidden = " hidden"
		}
		fmt.Fprintf(w, "  [%d] %s %s%s (session %s)\n", wr.ID, wr.Kind, wr.Path, hidden, wr.Session)
		fmt.Fprintf(w, "      %s\n", wr.Payload)
	}

	fmt.Fprintf(w, "Server cache: %d\n", len(dump.ServerCache))
	for _, row := range dump.ServerCache {
		fmt.Fprintf(w, "  %s hash=%s\n", row.Path, row.Hash)
		fmt.Fprintf(w, "      %s\n", row.Payload)
	}
}
