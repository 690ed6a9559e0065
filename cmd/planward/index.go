package main

import (
	"github.com/spf13/cobra"

	"planward/internal/index"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain the file index used for semantic grounding",
	}
	cmd.AddCommand(newIndexBuildCmd(), newIndexStatusCmd())
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Walk the workspace and rebuild the file index",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.ws.EnsureDirs(); err != nil {
				return err
			}

			state, err := index.Build(a.ws.Root)
			if err != nil {
				return err
			}
			if err := index.Save(state, a.ws.IndexPath); err != nil {
				return err
			}
			printf(cmd, "indexed %d files at %s\n", state.FilesIndexed, state.LastIndexed)
			return nil
		},
	}
}

func newIndexStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted index state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			state, err := index.Load(a.ws.IndexPath)
			if err != nil {
				return err
			}
			printf(cmd, "status:        %s\n", state.Status)
			printf(cmd, "files indexed: %d\n", state.FilesIndexed)
			if state.LastIndexed != "" {
				printf(cmd, "last indexed:  %s\n", state.LastIndexed)
			}
			return nil
		},
	}
}
