package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cilplug/patcher/metadata"
	"github.com/cilplug/patcher/metadataio"
	"github.com/cilplug/patcher/plugscan"
)

var scanDir string

var scanCmd = &cobra.Command{
	Use:   "scan <plug...>",
	Short: "List candidate assemblies in a directory that at least one plug targets",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanDir, "dir", "d", ".", "directory of candidate assemblies to scan")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	plugModules := make([]*metadata.Module, 0, len(args))
	for _, p := range args {
		m, err := metadataio.Load(p, logger)
		if err != nil {
			return fmt.Errorf("loading plug %s: %w", p, err)
		}
		plugModules = append(plugModules, m)
	}

	result := plugscan.Scan(plugModules)
	targets := make(map[string]struct{}, len(result.Targets))
	for name := range result.Targets {
		targets[name] = struct{}{}
	}

	load := func(path string) (*metadata.Module, error) {
		return metadataio.Load(path, logger)
	}

	candidates, err := plugscan.CandidatesNeedingPatch(scanDir, targets, load, logger)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		fmt.Println(c)
	}
	return nil
}
