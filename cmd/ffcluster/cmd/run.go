package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlsmithjr/transcoder/internal/report"
	"github.com/mlsmithjr/transcoder/pkg/cleanup"
	"github.com/mlsmithjr/transcoder/pkg/cluster"
	"github.com/mlsmithjr/transcoder/pkg/config"
	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/metrics"
	"github.com/mlsmithjr/transcoder/pkg/models"
	"github.com/mlsmithjr/transcoder/pkg/probe"
	"github.com/mlsmithjr/transcoder/pkg/shutdown"
	"github.com/mlsmithjr/transcoder/pkg/tracing"
)

// localCluster is used when no cluster is named on the command line
const localCluster = "_local"

var (
	runCluster      string
	runProfile      string
	runMixins       []string
	runKeep         bool
	runDryRun       bool
	runHost         string
	runFromFile     string
	runMetricsAddr  string
	runOTLPEndpoint string
	runReport       string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Encode files on a cluster",
	Long: `Probe each file, pick its directive and queue it on the named cluster.
Without --cluster the files are encoded on this machine.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runCluster, "cluster", "c", "", "cluster to run on")
	runCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "profile or template to force for every file")
	runCmd.Flags().StringSliceVarP(&runMixins, "mixins", "m", nil, "mixin profiles to merge into the output options")
	runCmd.Flags().BoolVarP(&runKeep, "keep", "k", false, "keep the source and leave the output beside it")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "show what would run without encoding")
	runCmd.Flags().StringVar(&runHost, "host", "", "run only on this host, disabling every other")
	runCmd.Flags().StringVar(&runFromFile, "from-file", "", "read file names from this file, one per line")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().StringVar(&runOTLPEndpoint, "otlp-endpoint", "", "export traces to this OTLP HTTP collector")
	runCmd.Flags().StringVar(&runReport, "report", "", "write the job results as JSON to this file")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	files, err := collectFiles(args, runFromFile)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no files to encode")
	}

	clusters, err := cfg.Hosts()
	if err != nil {
		return err
	}
	clusterName := runCluster
	if clusterName == "" {
		clusterName = localCluster
		clusters[localCluster] = map[string]*models.HostProfile{
			"localhost": {Name: "localhost", Kind: models.HostLocal, Status: "enabled", FFmpegPath: cfg.FFmpeg},
		}
	}
	if runHost != "" {
		if err := config.OnlyHost(clusters, runHost); err != nil {
			return err
		}
	}

	matcher, err := newMatcher(cfg)
	if err != nil {
		return err
	}

	mgr := shutdown.New(10*time.Second, logger)
	mgr.Listen()
	defer mgr.Shutdown()

	m := metrics.New("transcoder")
	if runMetricsAddr != "" {
		srv := metrics.NewServer(runMetricsAddr, m, "ffcluster")
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(fmt.Sprintf("metrics server: %v", err))
			}
		}()
		mgr.Register("metrics-server", shutdown.StopHTTPServer(srv))
		logger.Info(fmt.Sprintf("metrics on http://%s/metrics", runMetricsAddr))
	}

	tp, err := tracing.Init(mgr.Context(), tracing.Config{
		ServiceName:  "ffcluster",
		OTLPEndpoint: runOTLPEndpoint,
		Enabled:      runOTLPEndpoint != "",
	}, logger)
	if err != nil {
		return err
	}
	mgr.Register("tracing", tp.Shutdown)

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if cfg.LogRetention > 0 {
		sweeper := cleanup.NewManager(cleanup.Config{
			Enabled:   true,
			Dirs:      []string{tempDir},
			Patterns:  []string{"transcoder-*.log"},
			Retention: cfg.LogRetention,
		}, logger)
		sweeper.SweepNow()
	}

	failures := report.NewFailureLog(50)
	dispatcher := cluster.NewDispatcher(cluster.Config{
		Clusters:   clusters,
		Directives: cfg.Directives,
		Matcher:    matcher,
		Prober:     probe.NewFFprobe(cfg.FFprobe, cfg.FFmpeg),
		Env: cluster.Env{
			Options: cluster.RunOptions{
				DryRun:           runDryRun,
				KeepSource:       runKeep,
				Verbose:          verbose,
				Automap:          cfg.AutomapEnabled(),
				MonitorInterval:  cfg.MonitorInterval,
				TempDir:          tempDir,
				FFmpegPath:       cfg.FFmpeg,
				IdentityFile:     cfg.Identity,
				KnownHosts:       cfg.KnownHosts,
				InsecureHostKeys: cfg.InsecureHosts,
			},
			Console:  cluster.NewConsole(os.Stdout),
			Metrics:  m,
			Tracer:   tp.Tracer(),
			Failures: failures,
			Logger:   logger,
		},
	})

	requests := make([]cluster.FileRequest, 0, len(files))
	for _, f := range files {
		requests = append(requests, cluster.FileRequest{
			Path:      f,
			Cluster:   clusterName,
			Directive: runProfile,
			Mixins:    runMixins,
		})
	}

	run, err := dispatcher.ManageClusters(mgr.Context(), requests)
	if err != nil {
		return err
	}

	if err := report.NewSummary(run.Results).Render(os.Stdout); err != nil {
		logger.Warn(fmt.Sprintf("summary: %v", err))
	}
	for _, f := range failures.Recent(10) {
		logger.Error(fmt.Sprintf("failed: %s on %s: %s", f.Path, f.Host, f.Reason), logging.Fields{"log": f.LogPath})
	}
	if runReport != "" {
		if err := report.ExportFile(runReport, run.Results); err != nil {
			return err
		}
		logger.Info(fmt.Sprintf("report written to %s", runReport))
	}
	return nil
}

// newMatcher assigns the default profile to files that do not force one
func newMatcher(cfg *config.Config) (cluster.Matcher, error) {
	if cfg.DefaultProfile == "" {
		if runProfile == "" {
			return nil, fmt.Errorf("%w: no --profile given and no default_profile configured", cluster.ErrConfig)
		}
		return nil, nil
	}
	d, err := cfg.Directives.Get(cfg.DefaultProfile)
	if err != nil {
		return nil, err
	}
	return &cluster.DefaultMatcher{Directive: d, SkipCodecs: cfg.SkipCodecs}, nil
}

// collectFiles joins the arguments with the lines of fromFile, skipping
// blanks and comments.
func collectFiles(args []string, fromFile string) ([]string, error) {
	files := append([]string(nil), args...)
	if fromFile == "" {
		return files, nil
	}
	f, err := os.Open(fromFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open file list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, line)
	}
	return files, scanner.Err()
}
