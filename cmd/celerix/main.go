// Command celerix is the command line interface for a Celerix store, either
// the daemon at CELERIX_STORE_ADDR or an embedded engine over the data dir.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/celerix-dev/celerix-favorites/internal/logging"
	"github.com/celerix-dev/celerix-favorites/pkg/engine"
	"github.com/celerix-dev/celerix-favorites/pkg/sdk"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	addr     string
	embedded bool
	dataDir  string
	backend  string
	logLevel string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "celerix",
		Short:         "Interface for celerix-store",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Config{
				Level:  flags.logLevel,
				Format: "color",
				Writer: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.addr, "addr", envOr("CELERIX_STORE_ADDR", "localhost:7001"), "address of the store daemon")
	pf.BoolVar(&flags.embedded, "embedded", false, "skip the daemon and open the data dir directly")
	pf.StringVar(&flags.dataDir, "data-dir", envOr("CELERIX_DATA_DIR", "./data"), "data directory for embedded mode")
	pf.StringVar(&flags.backend, "backend", envOr("CELERIX_BACKEND", "json"), "embedded storage backend: json, badger or sqlite")
	pf.StringVar(&flags.logLevel, "log-level", envOr("CELERIX_LOG_LEVEL", "warn"), "log level")

	root.AddCommand(
		newGetCmd(flags),
		newSetCmd(flags),
		newDelCmd(flags),
		newPersonasCmd(flags),
		newAppsCmd(flags),
		newDumpCmd(flags),
		newPingCmd(flags),
		newFavCmd(flags),
		newMigrateCmd(flags),
	)
	return root
}

// openStore connects to the daemon, or opens the data dir when --embedded is
// set or the daemon is unreachable.
func openStore(flags *globalFlags) (sdk.CelerixStore, error) {
	backend, err := engine.ParseBackend(flags.backend)
	if err != nil {
		return nil, err
	}
	opts := sdk.Options{DataDir: flags.dataDir, Backend: backend}
	if !flags.embedded {
		opts.RemoteAddr = flags.addr
	}
	return sdk.Open(opts)
}

// withStore opens the store for the duration of fn.
func withStore(flags *globalFlags, fn func(store sdk.CelerixStore) error) error {
	store, err := openStore(flags)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <personaID> <appID> <key>",
		Short: "Print a value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(store sdk.CelerixStore) error {
				val, err := store.Get(args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), val)
			})
		},
	}
}

func newSetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <personaID> <appID> <key> <value>",
		Short: "Store a value; anything that is not valid JSON is stored as a string",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var val any
			if err := json.Unmarshal([]byte(args[3]), &val); err != nil {
				val = args[3]
			}
			return withStore(flags, func(store sdk.CelerixStore) error {
				if err := store.Set(args[0], args[1], args[2], val); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			})
		},
	}
}

func newDelCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "del <personaID> <appID> <key>",
		Short: "Delete a value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(store sdk.CelerixStore) error {
				if err := store.Delete(args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			})
		},
	}
}

func newPersonasCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(store sdk.CelerixStore) error {
				list, err := store.GetPersonas()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
}

func newAppsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apps <personaID>",
		Short: "List the apps of a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(store sdk.CelerixStore) error {
				list, err := store.GetApps(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
}

func newDumpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <personaID> <appID>",
		Short: "Print every key of an app",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(store sdk.CelerixStore) error {
				data, err := store.GetAppStore(args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			})
		},
	}
}

func newPingCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := sdk.Connect(flags.addr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", flags.addr, err)
			}
			defer client.Close()
			if err := client.Ping(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PONG")
			return nil
		},
	}
}
