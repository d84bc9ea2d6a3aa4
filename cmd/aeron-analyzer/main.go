package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aeron-analyzer/internal/config"
	"aeron-analyzer/internal/pcap"
	"aeron-analyzer/internal/prom"
	"aeron-analyzer/internal/stats"
	"aeron-analyzer/internal/store"
	"aeron-analyzer/internal/trace"
)

var (
	version   = "1.0.0"
	cfgFile   string
	statsOnly bool
	dump      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "aeron-analyzer",
		Short: "Aeron Analyzer - Sequence, stream and reassembly analysis of Aeron UDP traces",
		Long: `A Go-based tool that reads Aeron UDP traffic from a pcap or pcapng file,
tracks every stream's positions, flags retransmissions, keepalives, gaps and
NAK recovery, and reassembles fragmented messages.`,
		Version: version,
		RunE:    run,
	}

	// Configuration file
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	rootCmd.Flags().String("pcap", "", "Input pcap/pcapng file path")
	rootCmd.Flags().IntSlice("ports", nil, "UDP ports carrying Aeron traffic (empty keeps all UDP)")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().BoolVar(&statsOnly, "stats-only", false, "Count frame types only, do not analyze")
	rootCmd.Flags().BoolVar(&dump, "dump", false, "Print the per-frame analysis table")
	rootCmd.Flags().Bool("no-sequence-analysis", false, "Disable NAK correlation")
	rootCmd.Flags().Bool("no-stream-analysis", false, "Disable position tracking and frame classification")
	rootCmd.Flags().Bool("no-reassembly", false, "Disable fragmented message reassembly")
	rootCmd.Flags().String("export-json", "", "Write final statistics as JSON to this file")
	rootCmd.Flags().String("db", "", "Store the analysis in this SQLite database")
	rootCmd.Flags().String("metrics-file", "", "Write per-stream Prometheus metrics to this file")
	rootCmd.Flags().String("metrics-listen", "", "Serve per-stream Prometheus metrics on this address until interrupted")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// CLI flags override config file values
	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("Aeron Analyzer v%s\n", version)
	fmt.Println("==============================")
	fmt.Print(cfg.Summary())
	fmt.Println()

	parser := pcap.NewParser(cfg.Input.Ports)

	if statsOnly {
		return showStats(parser, cfg)
	}

	datagrams, err := parser.Parse(cfg.Input.PcapFile)
	if err != nil {
		return fmt.Errorf("failed to parse pcap: %w", err)
	}
	if len(datagrams) == 0 {
		return fmt.Errorf("no UDP datagrams on ports %v found in pcap file", cfg.Input.Ports)
	}
	fmt.Printf("Found %d UDP datagrams\n\n", len(datagrams))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	statsCollector := stats.NewCollector()
	reporter := stats.NewReporter(statsCollector, cfg.Stats.ReportIntervalSec, cfg.Stats.ExportFile)
	if cfg.Stats.Enabled {
		reporter.StartPeriodicReport(ctx)
	}

	runner := trace.NewRunner(cfg.Analysis, statsCollector)
	runErr := runner.Run(ctx, datagrams)
	statsCollector.Finish()
	if runErr != nil {
		if ctx.Err() != nil {
			log.Info("Analysis interrupted by shutdown")
		}
		return runErr
	}

	if dump {
		if err := trace.Dump(os.Stdout, runner.Manager()); err != nil {
			return fmt.Errorf("failed to dump analysis: %w", err)
		}
		fmt.Println()
	}

	if cfg.Stats.Enabled {
		reporter.PrintFinalReport()
		if err := reporter.ExportJSON(); err != nil {
			log.WithError(err).Warn("Failed to export statistics")
		}
	}

	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		runID, err := db.SaveAnalysis(ctx, store.Run{CaptureFile: cfg.Input.PcapFile}, runner.Manager())
		closeErr := db.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close analysis store")
		}
		fmt.Printf("Analysis stored as run %s in %s\n", runID, cfg.Store.Path)
	}

	metrics := prom.NewStreamCollector()
	metrics.Update(runner.Manager().StreamSummaries())

	if cfg.Metrics.TextFile != "" {
		if err := prom.WriteTextfile(cfg.Metrics.TextFile, metrics); err != nil {
			return err
		}
	}

	if cfg.Metrics.Listen != "" {
		fmt.Printf("Serving metrics on http://%s/metrics, press Ctrl+C to stop\n", cfg.Metrics.Listen)
		return prom.Serve(ctx, cfg.Metrics.Listen, metrics)
	}

	return nil
}

func showStats(parser *pcap.Parser, cfg *config.Config) error {
	counts, err := parser.CountFrames(cfg.Input.PcapFile)
	if err != nil {
		return fmt.Errorf("failed to count frames: %w", err)
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("PCAP Frame Statistics:")
	total := 0
	for _, name := range names {
		fmt.Printf("  %-20s %d\n", name, counts[name])
		total += counts[name]
	}
	fmt.Printf("  %-20s %d\n", "Total:", total)
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else {
			log.SetOutput(f)
		}
	}
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	if cmd.Flags().Changed("pcap") {
		val, _ := cmd.Flags().GetString("pcap")
		v.Set("input.pcap_file", val)
	}
	if cmd.Flags().Changed("ports") {
		val, _ := cmd.Flags().GetIntSlice("ports")
		v.Set("input.ports", val)
	}
	if cmd.Flags().Changed("log-level") {
		val, _ := cmd.Flags().GetString("log-level")
		v.Set("logging.level", val)
	}
	if cmd.Flags().Changed("no-sequence-analysis") {
		val, _ := cmd.Flags().GetBool("no-sequence-analysis")
		v.Set("analysis.sequence", !val)
	}
	if cmd.Flags().Changed("no-stream-analysis") {
		val, _ := cmd.Flags().GetBool("no-stream-analysis")
		v.Set("analysis.stream", !val)
	}
	if cmd.Flags().Changed("no-reassembly") {
		val, _ := cmd.Flags().GetBool("no-reassembly")
		v.Set("analysis.reassembly", !val)
	}
	if cmd.Flags().Changed("export-json") {
		val, _ := cmd.Flags().GetString("export-json")
		v.Set("stats.export_file", val)
	}
	if cmd.Flags().Changed("db") {
		val, _ := cmd.Flags().GetString("db")
		v.Set("store.path", val)
	}
	if cmd.Flags().Changed("metrics-file") {
		val, _ := cmd.Flags().GetString("metrics-file")
		v.Set("metrics.textfile", val)
	}
	if cmd.Flags().Changed("metrics-listen") {
		val, _ := cmd.Flags().GetString("metrics-listen")
		v.Set("metrics.listen", val)
	}
}
