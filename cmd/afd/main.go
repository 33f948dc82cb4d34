// Command afd is the multi-command entry point for the File Distributor
// daemon and its sender/retriever workers (spec §6, §9).
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	log     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "afd",
	Short: "Automatic File Distribution dispatch daemon",
	Long: `afd runs the File Distributor dispatcher and its per-job
sender (sf-ftp) and retriever (gf-ftp) workers, coordinated through a
memory-mapped Shared Status Area and a small set of named pipes.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/afd/afd.yaml", "daemon configuration file")
	rootCmd.AddCommand(fdCommand)
	rootCmd.AddCommand(sfFTPCommand)
	rootCmd.AddCommand(gfFTPCommand)
	rootCmd.AddCommand(hostConfigCommand)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
