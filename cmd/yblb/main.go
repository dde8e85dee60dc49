package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shmel1k/yblb/internal/api"
	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/config"
	"github.com/shmel1k/yblb/internal/coordinator"
	"github.com/shmel1k/yblb/internal/lbhttp"
	"github.com/shmel1k/yblb/internal/storage/sqlite"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	configPath = flag.String("config", "", "Config file path")
	probe      = flag.Int("probe", 0, "Number of connections to acquire and release per cluster on startup")
)

const probeTimeout = 5 * time.Second

func main() {
	flag.Parse()
	cfg, err := config.Setup(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to read config")
	}

	logger := initLogger(cfg)

	db, err := sqlite.New(sqlite.Config{
		FileName:       cfg.YBLB.Storage.Filename,
		ConnectTimeout: cfg.YBLB.Storage.ConnectTimeout,
		QueryTimeout:   cfg.YBLB.Storage.QueryTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to init persistent storage")
	}

	logger.Info().Msgf("Starting yblb %s, commit %s, built at %s", version, commit, buildDate)

	if len(cfg.Clusters) == 0 {
		logger.Warn().Msg("No clusters are found in the configuration")
	}

	lbCoordinator := coordinator.New(logger)
	for clusterName, clusterCfg := range cfg.Clusters {
		err = lbCoordinator.RegisterCluster(clusterName, db, clusterCfg, cfg)
		if err != nil {
			logger.Err(err).Msgf("Could not register cluster with name %s", clusterName)
			continue
		}
		logger.Info().Msgf("New cluster '%s' has been registered", clusterName)
	}

	if *probe > 0 {
		runProbe(lbCoordinator, *probe, logger)
	}

	server := initHTTPServer(logger, cfg.YBLB.Port, api.NewService(db, lbCoordinator))
	go func() {
		logger.Info().Msgf("Listening on %s", cfg.YBLB.Port)

		err := server.ListenAndServe()
		if err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to listen HTTP server")
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-interrupt

	logger.Info().Msgf("Received system signal: %s. Shutting down yblb", sig)
	lbCoordinator.Shutdown()

	err = server.Shutdown(context.Background())
	if err != nil {
		logger.Err(err).Msg("Failed to shutting down the HTTP server gracefully")
	}

	err = db.Close()
	if err != nil {
		logger.Err(err).Msg("Failed to close the persistent storage")
	}
}

// runProbe acquires and releases n connections one by one in every
// registered cluster and logs where they went.
func runProbe(c *coordinator.Coordinator, n int, logger zerolog.Logger) {
	for _, name := range c.Clusters() {
		router, ok := c.Router(name)
		if !ok {
			continue
		}
		probeLogger := logger.With().Str("cluster", name).Logger()

		dist := make(map[string]int)
		failed, noHost := 0, 0
		for i := 0; i < n; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			conn, err := router.Get(ctx, router.Options().SessionIntent, probeTimeout)
			cancel()
			if err != nil {
				probeLogger.Err(err).Int("attempt", i+1).Msg("Probe failed to acquire a connection")
				failed++
				if balancer.IsNoSuitableHost(err) {
					noHost++
				}
				continue
			}
			dist[conn.Host()]++
			router.Return(conn)
		}

		event := probeLogger.Info().Int("acquired", n-failed).Int("failed", failed).Int("no_suitable_host", noHost)
		for host, count := range dist {
			event = event.Int(host, count)
		}
		event.Msg("Probe finished")
	}
}

func initLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	loggingCfg := cfg.YBLB.Logging

	logLevel, err := zerolog.ParseLevel(loggingCfg.Level)
	if err != nil {
		log.Warn().Msgf("Unknown Level String: '%s', defaulting to DebugLevel", loggingCfg.Level)
		logLevel = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	writers := make([]io.Writer, 0, 1)
	writers = append(writers, os.Stdout)

	if loggingCfg.SysLogEnabled {
		w, err := syslog.New(syslog.LOG_INFO, "yblb")
		if err != nil {
			log.Warn().Err(err).Msg("Unable to connect to the system log daemon")
		} else {
			writers = append(writers, zerolog.SyslogLevelWriter(w))
		}
	}

	if loggingCfg.FileLoggingEnabled {
		w, err := newRollingLogFile(&loggingCfg)
		if err != nil {
			log.Warn().Err(err).Msg("Unable to init file logger")
		} else {
			writers = append(writers, w)
		}
	}

	var baseLogger zerolog.Logger
	if len(writers) == 1 {
		baseLogger = zerolog.New(writers[0])
	} else {
		baseLogger = zerolog.New(zerolog.MultiLevelWriter(writers...))
	}

	return baseLogger.Level(logLevel).With().Timestamp().Logger()
}

func newRollingLogFile(cfg *config.Logging) (io.Writer, error) {
	dir := path.Dir(cfg.Filename)
	if unix.Access(dir, unix.W_OK) != nil {
		return nil, fmt.Errorf("no permissions to write logs to dir: %s", dir)
	}

	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxBackups: cfg.MaxBackups,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
	}, nil
}

func initHTTPServer(logger zerolog.Logger, port string, apiSrv api.Service) *http.Server {
	r := mux.NewRouter()
	lbhttp.RegisterDebugHandlers(r, version, commit, buildDate)
	lbhttp.RegisterAPIHandlers(r, lbhttp.NewHandler(logger, apiSrv))

	return &http.Server{
		Addr:         port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}
