package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/afd-core/afd/internal/backoff"
	"github.com/afd-core/afd/internal/config"
	"github.com/afd-core/afd/internal/dispatch"
	"github.com/afd-core/afd/internal/fifo"
	"github.com/afd-core/afd/internal/metrics"
	"github.com/afd-core/afd/internal/ssa"
)

// maxConsecutiveHostFailures bounds how many connect failures in a row a
// host tolerates before the dispatcher stops spawning senders for it
// (spec §4.3's suspension-point list names connect() as worth
// short-circuiting ahead of a full transfer_timeout).
const maxConsecutiveHostFailures = 5

// hostBackoff tracks recent connect failures per host alias across the
// dispatcher's lifetime, independent of any one sender process.
var hostBackoff = backoff.New(5*time.Minute, time.Minute)

var fdCommand = &cobra.Command{
	Use:   "fd",
	Short: "Run the dispatcher",
	RunE:  runFD,
}

func runFD(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.WithError(err).Warn("falling back to default configuration")
		cfg = config.Default()
	}

	entry := log.WithField("component", "fd")
	area, err := ssa.Attach(cfg.WorkDir, nil)
	if err != nil {
		return fmt.Errorf("fd: attach ssa: %w", err)
	}
	defer area.Close()

	finPath := filepath.Join(cfg.FifoDir, fifo.FinFifoName)
	d, err := dispatch.New(area, cfg.WorkDir, finPath, spawnSender, entry)
	if err != nil {
		return fmt.Errorf("fd: new dispatcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		entry.Info("received shutdown signal")
		cancel()
	}()

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(area, prometheus.DefaultRegisterer)
		go collector.Run(ctx, cfg.Metrics.Interval)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				entry.WithError(err).Warn("metrics server stopped")
			}
		}()
		go func() { <-ctx.Done(); server.Close() }()
	}

	entry.Info("dispatcher started")
	return d.Run(ctx)
}

// spawnSender re-executes the current binary as `afd sf-ftp` for one
// host/job slot, mirroring the original's fork/exec-per-transfer model
// (spec §5: "parallel OS processes, one process per active transfer").
func spawnSender(ctx context.Context, hostIdx, jobIdx int, job dispatch.Job) {
	if hostBackoff.ShouldSkip(job.HostAlias, maxConsecutiveHostFailures) {
		log.WithField("host_alias", job.HostAlias).Warn("spawnSender: host in backoff, skipping")
		return
	}

	exe, err := os.Executable()
	if err != nil {
		log.WithError(err).Error("spawnSender: resolve executable")
		return
	}
	c := exec.CommandContext(ctx, exe, "sf-ftp",
		"--config", cfgFile,
		"--host-index", strconv.Itoa(hostIdx),
		"--job-index", strconv.Itoa(jobIdx),
		"--message", job.MsgPath,
		"--file", job.LocalFile,
	)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		n := hostBackoff.RecordFailure(job.HostAlias)
		log.WithError(err).WithFields(map[string]interface{}{
			"job_id":            job.JobID,
			"consecutive_fails": n,
		}).Warn("sender exited with error")
		return
	}
	hostBackoff.Clear(job.HostAlias)
}
