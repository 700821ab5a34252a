package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/node"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	V1 bool
}

// HashResult is the output of the hash command.
type HashResult struct {
	Hash           string `json:"hash"`
	Version        int    `json:"version"`
	Representation string `json:"representation,omitempty"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash <json|->",
		Short: "Print the data hash of a JSON value",
		Long: `Print the hash the engine sends with a listen for the given data.

The value is JSON, in export format (".value"/".priority" members are
honored). Use "-" to read it from stdin. The hash version comes from the
config file unless --v1 is given. With --verbose the hashed text is
printed as well.

Examples:
  treesync hash '{"a":1,"b":{".value":"x",".priority":2}}'
  echo '"hello"' | treesync hash - --v1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.V1, "v1", false, "use the legacy V1 representation")

	return cmd
}

func runHash(opts *HashOptions, input string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.Config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	version := cfg.NodeHashVersion()
	if opts.V1 {
		version = node.HashVersionV1
	}

	data := []byte(input)
	if input == "-" {
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
	}
	n, err := node.FromJSON(data)
	if err != nil {
		if opts.Format == "json" {
			_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "invalid JSON value", err)
	}

	result := HashResult{Hash: node.HashOf(n, version), Version: int(version)}
	if opts.Verbose {
		result.Representation = node.HashRepresentation(n, version)
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	formatter.VerboseLog("%s", result.Representation)
	return formatter.Success(result.Hash)
}
