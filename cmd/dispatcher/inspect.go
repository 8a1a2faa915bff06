package main

import (
	"fmt"

	"github.com/downfa11-org/go-dispatcher/pkg/inspect"
	"github.com/spf13/cobra"
)

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Summarise the frames of a mapped log buffer file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dc := cfg.DispatcherConfig(dispatcherName(cmd, cfg))
			partitions := dc.PartitionCount
			if cmd.Flags().Changed("partitions") {
				partitions, _ = cmd.Flags().GetInt("partitions")
			}
			path := dc.MappedFilePath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no file given and dispatcher %s has no mapped file", dc.Name)
			}

			report, err := inspect.InspectFile(path, partitions)
			if err != nil {
				return err
			}
			inspect.Render(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().Int("partitions", 0, "partition count the file was written with")
	return cmd
}
