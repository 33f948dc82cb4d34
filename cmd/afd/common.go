package main

import (
	"path/filepath"

	"github.com/afd-core/afd/internal/config"
	"github.com/afd-core/afd/internal/fifo"
)

// loadCfgOrDefault loads cfgFile, falling back to config.Default() when the
// file is missing or invalid, so worker subcommands can run against an
// already-bootstrapped work directory without demanding a config file of
// their own.
func loadCfgOrDefault() config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Default()
	}
	return cfg
}

func finFifoPath(fifoDir string) string {
	return filepath.Join(fifoDir, fifo.FinFifoName)
}
