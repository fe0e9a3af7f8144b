package main

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/tagsweep/internal/daemon"
	"github.com/yairfalse/tagsweep/internal/emitter"
	"github.com/yairfalse/tagsweep/internal/telemetry"
)

var (
	daemonInterval    time.Duration
	daemonKinds       []string
	daemonTag         string
	daemonMetricsAddr string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Report continuously and expose Prometheus metrics",
	Long: `Daemon runs a report for every configured kind on an interval and keeps
the latest group counts in Prometheus gauges. Resources that become detached
or are resolved between runs are logged and counted. The daemon never
remediates.`,
	Example: `  tagsweep daemon --interval 5m --kinds volume,target-group --metrics-addr :9090`,
	RunE:    runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Report interval (default from config, 5m)")
	daemonCmd.Flags().StringSliceVar(&daemonKinds, "kinds", nil, "Kinds to report (default from config)")
	daemonCmd.Flags().StringVarP(&daemonTag, "tag", "t", "", "Classification tag name (default from config, VSAD)")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics and health listen address (default from config, :9090)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if daemonInterval > 0 {
		cfg.Daemon.Interval = daemonInterval
	}
	if len(daemonKinds) > 0 {
		cfg.Daemon.Kinds = daemonKinds
	}
	if daemonMetricsAddr != "" {
		cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}
	kinds := parseKinds(cfg.Daemon.Kinds)
	if len(kinds) == 0 {
		return errors.New("no kinds to report (use --kinds or [daemon] kinds)")
	}

	a, err := setup(cmd.Context(), cfg, setupOptions{prometheus: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	prom, err := emitter.NewPrometheusEmitter()
	if err != nil {
		return err
	}
	emit := emitter.NewMultiEmitter(emitter.NewLogEmitter(telemetry.NewLogger("report")), prom)

	d, err := daemon.NewDaemon(daemon.Config{
		Provider:    cfg.Provider.Name,
		Interval:    cfg.Daemon.Interval,
		Kinds:       kinds,
		Tag:         firstNonEmpty(daemonTag, cfg.Classification.Tag),
		MetricsAddr: cfg.Daemon.MetricsAddr,
	}, a, emit)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	log.Info().
		Str("provider", cfg.Provider.Name).
		Strs("regions", targets(cfg)).
		Dur("interval", cfg.Daemon.Interval).
		Strs("kinds", cfg.Daemon.Kinds).
		Msg("tagsweep daemon starting")

	return d.Run(cmd.Context())
}
