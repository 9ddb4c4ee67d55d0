package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mlsmithjr/transcoder/pkg/agent"
	"github.com/mlsmithjr/transcoder/pkg/cleanup"
	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/metrics"
	"github.com/mlsmithjr/transcoder/pkg/shutdown"
)

func main() {
	listen := flag.String("listen", "", "Address to listen on (default all interfaces)")
	port := flag.Int("port", agent.DefaultPort, "Agent port")
	ffmpeg := flag.String("ffmpeg", "", "Path to ffmpeg, overriding the one clients send")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	idleTimeout := flag.Duration("idle-timeout", 10*time.Minute, "Drop a client that sends nothing for this long")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Log in JSON format")
	logFile := flag.Bool("log-file", false, "Also log to /var/log/transcoder/agent.log")
	sweepDirs := flag.String("sweep-dirs", "", "Comma-separated staging directories to clear of stale .tmp files")
	sweepAge := flag.Duration("sweep-age", 24*time.Hour, "Age after which staging files are stale")
	logrotate := flag.Bool("logrotate", false, "Print a logrotate configuration and exit")
	flag.Parse()

	if *logrotate {
		fmt.Print(logging.GenerateLogrotateConfig("agent"))
		return
	}

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logJSON)
	if *logFile {
		fl, err := logging.NewFileLogger("agent", logging.ParseLevel(*logLevel), *logJSON)
		if err != nil {
			logger.Fatal(fmt.Sprintf("Failed to open log file: %v", err))
		}
		logger = fl
		go rotateLogs(logger)
	}

	logger.Info("Starting transcoder agent")
	logger.Info(fmt.Sprintf("Host: %s", agent.DetectInventory()))

	mgr := shutdown.New(15*time.Second, logger)
	mgr.Listen()
	mgr.Register("logger", shutdown.CloseResource(logger))

	m := metrics.New("transcoder_agent")
	if *metricsAddr != "" {
		srv := metrics.NewServer(*metricsAddr, m, "agent")
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(fmt.Sprintf("metrics server: %v", err))
			}
		}()
		mgr.Register("metrics-server", shutdown.StopHTTPServer(srv))
		logger.Info(fmt.Sprintf("Metrics on http://%s/metrics", *metricsAddr))
	}

	if *sweepDirs != "" {
		sweeper := cleanup.NewManager(cleanup.Config{
			Enabled:   true,
			Dirs:      strings.Split(*sweepDirs, ","),
			Patterns:  []string{"*.tmp"},
			Retention: *sweepAge,
			Interval:  time.Hour,
		}, logger)
		sweeper.Start(mgr.Context())
		mgr.Register("cleanup", sweeper.Stop)
	}

	srv := agent.NewServer(agent.ServerConfig{
		Address:     net.JoinHostPort(*listen, strconv.Itoa(*port)),
		FFmpegPath:  *ffmpeg,
		IdleTimeout: *idleTimeout,
	}, m, logger)

	if err := srv.ListenAndServe(mgr.Context()); err != nil {
		logger.Error(err.Error())
		mgr.Shutdown()
		os.Exit(1)
	}
	logger.Info("Agent stopped")
	mgr.Shutdown()
}

// rotateLogs keeps the agent log file under 100MB
func rotateLogs(logger *logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		if err := logger.RotateIfNeeded(100 * 1024 * 1024); err != nil {
			logger.Warn(fmt.Sprintf("log rotation failed: %v", err))
		}
	}
}
