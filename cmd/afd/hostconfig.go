package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/afd-core/afd/internal/hostconfig"
	"github.com/afd-core/afd/internal/ssa"
)

var hcBootstrapDir string

var hostConfigCommand = &cobra.Command{
	Use:   "hostconfig",
	Short: "Validate and bootstrap from a HOST_CONFIG file",
}

var hostConfigVerifyCommand = &cobra.Command{
	Use:   "verify <path>",
	Short: "Parse a HOST_CONFIG file and report its entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := hostconfig.ParseFile(args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-8s allowed=%d max_errors=%d blocksize=%d timeout=%ds\n",
				e.HostAlias, e.AllowedTransfers, e.MaxErrors, e.TransferBlocksize, e.TransferTimeout)
		}
		fmt.Printf("%d host(s)\n", len(entries))
		return nil
	},
}

var hostConfigBootstrapCommand = &cobra.Command{
	Use:   "bootstrap <path>",
	Short: "Parse a HOST_CONFIG file and bootstrap a fresh Shared Status Area from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := hostconfig.ParseFile(args[0])
		if err != nil {
			return err
		}
		cfg := loadCfgOrDefault()
		if hcBootstrapDir != "" {
			cfg.WorkDir = hcBootstrapDir
		}

		hosts := make([]ssa.Host, 0, len(entries))
		for _, e := range entries {
			hosts = append(hosts, hostconfig.ToSSAHost(e))
		}
		area, err := ssa.Bootstrap(cfg.WorkDir, hosts, nil)
		if err != nil {
			return fmt.Errorf("hostconfig bootstrap: %w", err)
		}
		defer area.Close()
		fmt.Printf("bootstrapped %d host(s) under %s\n", len(hosts), cfg.WorkDir)
		return nil
	},
}

func init() {
	hostConfigBootstrapCommand.Flags().StringVar(&hcBootstrapDir, "work-dir", "", "override the configured work directory")
	hostConfigCommand.AddCommand(hostConfigVerifyCommand)
	hostConfigCommand.AddCommand(hostConfigBootstrapCommand)
}
