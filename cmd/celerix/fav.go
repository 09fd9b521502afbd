package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/celerix-dev/celerix-favorites/internal/vault"
	"github.com/celerix-dev/celerix-favorites/pkg/favorites"
	"github.com/celerix-dev/celerix-favorites/pkg/favset"
	"github.com/celerix-dev/celerix-favorites/pkg/sdk"
	"github.com/spf13/cobra"
)

type favFlags struct {
	persona  string
	app      string
	key      string
	max      int
	overflow string
	vaultKey string
}

func newFavCmd(flags *globalFlags) *cobra.Command {
	ff := &favFlags{}
	cmd := &cobra.Command{
		Use:   "fav",
		Short: "Manage a persona's favorites",
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&ff.persona, "persona", "p", "", "persona owning the favorites (required)")
	pf.StringVar(&ff.app, "app", "celerix", "app the favorites are kept under")
	pf.StringVar(&ff.key, "key", envOr("CELERIX_FAV_KEY", favorites.DefaultKey), "key the list is stored at")
	pf.IntVar(&ff.max, "max", 0, "capacity, 0 for unlimited")
	pf.StringVar(&ff.overflow, "overflow", envOr("CELERIX_FAV_OVERFLOW", string(favset.PolicyReject)), "policy when full: reject or drop_oldest")
	pf.StringVar(&ff.vaultKey, "vault-key", envOr("CELERIX_MASTER_KEY", ""), "encrypt the stored list with this key")
	_ = cmd.MarkPersistentFlagRequired("persona")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print the favorites, oldest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(flags, ff, func(m *favorites.Manager) error {
					return printJSON(cmd.OutOrStdout(), m.All())
				})
			},
		},
		outcomeCmd(flags, ff, "add <id>", "Add a favorite", (*favorites.Manager).Add),
		outcomeCmd(flags, ff, "remove <id>", "Remove a favorite", (*favorites.Manager).Remove),
		outcomeCmd(flags, ff, "toggle <id>", "Add the favorite if absent, remove it otherwise", (*favorites.Manager).Toggle),
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every favorite",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(flags, ff, func(m *favorites.Manager) error {
					return printOutcome(cmd.OutOrStdout(), m.Clear())
				})
			},
		},
		newFavImportCmd(flags, ff),
	)
	return cmd
}

func outcomeCmd(flags *globalFlags, ff *favFlags, use, short string, op func(*favorites.Manager, any) favset.Outcome) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, ff, func(m *favorites.Manager) error {
				return printOutcome(cmd.OutOrStdout(), op(m, args[0]))
			})
		},
	}
}

func newFavImportCmd(flags *globalFlags, ff *favFlags) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <json-array | id...>",
		Short: "Import favorites from a JSON array or a list of IDs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := parseImportArgs(args)
			return withManager(flags, ff, func(m *favorites.Manager) error {
				res := m.Import(items, replace)
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the current favorites instead of merging")
	return cmd
}

// parseImportArgs accepts a single JSON array or plain identifiers.
func parseImportArgs(args []string) []any {
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "[") {
		var items []any
		if err := json.Unmarshal([]byte(args[0]), &items); err == nil {
			return items
		}
	}
	items := make([]any, len(args))
	for i, a := range args {
		items[i] = a
	}
	return items
}

func printOutcome(w io.Writer, out favset.Outcome) error {
	if err := printJSON(w, out); err != nil {
		return err
	}
	if !out.OK && out.Reason != favset.ReasonAlreadyEmpty {
		return fmt.Errorf("not applied: %s", out.Reason)
	}
	return nil
}

// withManager runs fn against a manager for the flagged persona and writes
// its state back before returning.
func withManager(flags *globalFlags, ff *favFlags, fn func(m *favorites.Manager) error) error {
	policy, err := favset.ParsePolicy(ff.overflow)
	if err != nil {
		return err
	}
	var storageOpts []sdk.StorageOption
	if ff.vaultKey != "" {
		key, err := vault.ParseKey(ff.vaultKey)
		if err != nil {
			return err
		}
		storageOpts = append(storageOpts, sdk.WithVault(key))
	}

	return withStore(flags, func(store sdk.CelerixStore) error {
		opts := favorites.DefaultOptions()
		opts.Max = ff.max
		opts.Overflow = policy
		opts.Key = ff.key
		opts.SaveDebounce = 0
		opts.Source = "celerix-cli"

		m, err := favorites.New(sdk.NewKVStorage(store, ff.persona, ff.app, ff.key, storageOpts...), opts)
		if err != nil {
			return err
		}
		defer m.Destroy()

		m.Load(context.Background())
		return fn(m)
	})
}
