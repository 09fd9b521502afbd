package main

import (
	"fmt"
	"log/slog"

	"github.com/celerix-dev/celerix-favorites/pkg/engine"
	"github.com/spf13/cobra"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	var from, to, toDir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every persona from one storage backend to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := engine.ParseBackend(from)
			if err != nil {
				return err
			}
			dst, err := engine.ParseBackend(to)
			if err != nil {
				return err
			}
			if toDir == "" {
				toDir = flags.dataDir
			}
			if src == dst && toDir == flags.dataDir {
				return fmt.Errorf("source and destination are the same %s store", src)
			}

			srcP, err := engine.OpenPersister(src, flags.dataDir, slog.Default())
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer srcP.Close()
			dstP, err := engine.OpenPersister(dst, toDir, slog.Default())
			if err != nil {
				return fmt.Errorf("open destination: %w", err)
			}
			defer dstP.Close()

			n, err := engine.MigratePersisters(srcP, dstP)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d personas from %s to %s\n", n, src, dst)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "json", "source backend")
	cmd.Flags().StringVar(&to, "to", "sqlite", "destination backend")
	cmd.Flags().StringVar(&toDir, "to-dir", "", "destination data dir, defaults to --data-dir")
	return cmd
}
