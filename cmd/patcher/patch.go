package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cilplug/patcher/archfilter"
	"github.com/cilplug/patcher/metadata"
	"github.com/cilplug/patcher/metadataio"
	"github.com/cilplug/patcher/patch"
)

var (
	plugPaths []string
	arch      string
	dryRun    bool
)

var patchCmd = &cobra.Command{
	Use:   "patch <target>",
	Short: "Patch a target assembly in place using the given plug assemblies",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatch,
}

func init() {
	patchCmd.Flags().StringArrayVarP(&plugPaths, "plug", "p", nil, "path to a plug assembly (repeatable)")
	patchCmd.Flags().StringVar(&arch, "arch", "any", "target architecture selector: any, x64, arm64, riscv64")
	patchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be patched without writing the target back")
	patchCmd.MarkFlagRequired("plug")
}

func runPatch(cmd *cobra.Command, args []string) error {
	targetPath := args[0]

	selector, err := parseArchitecture(arch)
	if err != nil {
		return err
	}

	target, err := metadataio.Load(targetPath, logger)
	if err != nil {
		return fmt.Errorf("loading target %s: %w", targetPath, err)
	}

	plugModules := make([]*metadata.Module, 0, len(plugPaths))
	for _, p := range plugPaths {
		m, err := metadataio.Load(p, logger)
		if err != nil {
			return fmt.Errorf("loading plug %s: %w", p, err)
		}
		plugModules = append(plugModules, m)
	}

	report, err := patch.Run(target, selector, plugModules, logger)
	if err != nil {
		return fmt.Errorf("patch run aborted: %w", err)
	}

	for _, d := range report.Diagnostics {
		logger.Warnf("%s", d)
	}
	for _, m := range report.PatchedMethods {
		logger.Infof("patched method %s", m)
	}
	for _, p := range report.PatchedProperties {
		logger.Infof("patched property %s", p)
	}
	for _, f := range report.PatchedFields {
		logger.Infof("patched field %s", f)
	}

	if dryRun {
		return nil
	}
	if err := metadataio.Save(targetPath, target); err != nil {
		return fmt.Errorf("saving %s: %w", targetPath, err)
	}
	return nil
}

func parseArchitecture(s string) (archfilter.Architecture, error) {
	switch s {
	case "any", "":
		return archfilter.Any, nil
	case "x64":
		return archfilter.X64, nil
	case "arm64":
		return archfilter.ARM64, nil
	case "riscv64":
		return archfilter.RISCV64, nil
	default:
		return archfilter.Any, fmt.Errorf("unknown architecture selector %q", s)
	}
}
