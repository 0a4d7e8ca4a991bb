package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/cloudlog-io/archiver/internal/archiver"
	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/manifestcache"
	"github.com/cloudlog-io/archiver/internal/manifestview"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/objectstore"
	"github.com/cloudlog-io/archiver/internal/remotepath"
	"github.com/cloudlog-io/archiver/internal/storageiface"
)

// appName is used only in log lines; there's no version-stamping build
// step for this binary the way cmd/tempo has one.
const appName = "archiver"

func main() {
	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	partID := ntp.NTP{
		Namespace: config.Partition.Namespace,
		Topic:     config.Partition.Topic,
		Partition: int32(config.Partition.Partition),
	}
	if partID.Namespace == "" || partID.Topic == "" {
		level.Error(logger).Log("msg", "partition.namespace and partition.topic are required")
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := objectstore.New(ctx, config.ObjectStore)
	if err != nil {
		level.Error(logger).Log("msg", "failed constructing object store", "err", err)
		os.Exit(1)
	}

	localLog, err := storageiface.NewDiskLog(config.LocalLogDir)
	if err != nil {
		level.Error(logger).Log("msg", "failed opening local log directory", "err", err)
		os.Exit(1)
	}

	keys := remotepath.New()

	const revision ntp.RevisionID = 1
	const initialTerm ntp.Term = 1

	// Re-entrant across leadership loss (spec.md §4.8): on becoming
	// leader this reads the current manifest rather than always starting
	// from genesis, so a restart doesn't discard archived-segment history.
	stm, err := loadManifest(ctx, store, keys, partID, revision)
	if err != nil {
		level.Error(logger).Log("msg", "failed loading manifest", "err", err)
		os.Exit(1)
	}

	fetcher := objectstore.NewSpilloverFetcher(store, keys, partID, revision, stm)
	cache := manifestcache.New(config.ManifestCacheBytes, manifestcache.Config{})
	level.Info(logger).Log("msg", "manifest cache ready", "cache", cache.String(), "budget", humanize.Bytes(uint64(config.ManifestCacheBytes)))
	view := manifestview.New(stm, cache, fetcher, manifestview.Config{CursorTTL: config.ManifestCursorTTL})

	segmentWriter := objectstore.NewSegmentWriter(store, keys, partID, revision, initialTerm, localLog, stm)
	retainer := objectstore.NewRetainer(store, keys, partID, revision, stm)

	a := archiver.New(config.Archiver, partID, stm, view, localLog, segmentWriter, segmentWriter, segmentWriter, segmentWriter, retainer, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", a.StatusHandler)
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: config.Server.HTTPListenAddr, Handler: mux}

	go func() {
		level.Info(logger).Log("msg", "serving status and metrics", "addr", config.Server.HTTPListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(logger).Log("msg", "http server failed", "err", err)
		}
	}()

	if err := services.StartAndAwaitRunning(ctx, a); err != nil {
		level.Error(logger).Log("msg", "archiver failed to start", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "archiver running", "ntp", partID.String(), "app", appName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	level.Info(logger).Log("msg", "shutting down")
	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := services.StopAndAwaitTerminated(shutdownCtx, a); err != nil {
		level.Error(logger).Log("msg", "archiver failed to stop cleanly", "err", err)
	}
	_ = httpServer.Close()
}

// loadManifest fetches and deserializes partID's STM manifest, returning
// a fresh genesis manifest when none has been PUT yet.
func loadManifest(ctx context.Context, store objectstore.ObjectStore, keys *remotepath.Provider, partID ntp.NTP, revision ntp.RevisionID) (*manifest.Manifest, error) {
	blob, err := store.Get(ctx, keys.PartitionManifestPath(partID, revision))
	if errors.Is(err, objectstore.ErrNotFound) {
		return manifest.New(), nil
	}
	if err != nil {
		return nil, err
	}
	return manifest.Deserialize(blob)
}

// loadConfig mirrors cmd/tempo/main.go's loadConfig: scan argv for
// -config.file ahead of full flag registration (so unknown flags don't
// abort the scan), register every sub-config's flags with its defaults,
// overlay a config file if one was given, then re-parse the command line
// so flags win over the file.
func loadConfig() (*Config, error) {
	const configFileOption = "config.file"

	var configFile string

	args := os.Args[1:]
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	config := &Config{}
	config.RegisterFlagsAndApplyDefaults(flag.CommandLine)

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(buf, config); err != nil {
			return nil, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flag.CommandLine.StringVar(&configFile, configFileOption, "", "Configuration file to load")
	flag.Parse()

	return config, nil
}
