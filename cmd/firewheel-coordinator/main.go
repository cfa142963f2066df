package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	bolt "go.etcd.io/bbolt"
	"google.golang.org/grpc"

	"github.com/sandialabs/firewheel/pkg/artifactstore"
	"github.com/sandialabs/firewheel/pkg/config"
	"github.com/sandialabs/firewheel/pkg/coordination"
	"github.com/sandialabs/firewheel/pkg/events"
	"github.com/sandialabs/firewheel/pkg/log"
	"github.com/sandialabs/firewheel/pkg/metrics"
)

var (
	configPath = flag.String("config", "/etc/firewheel/config.yaml", "Path to the firewheel configuration file")
	replicated = flag.Bool("replicated", false, "Run the Coordination Service in raft-backed durable mode")
	nodeID     = flag.String("node-id", "coordinator-1", "Raft node ID (replicated mode only)")
	bindAddr   = flag.String("bind-addr", "127.0.0.1:9001", "Raft bind address (replicated mode only)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: log.Level(strings.ToLower(cfg.Logging.Level)), JSONOutput: true})
	logger := log.WithComponent("firewheel-coordinator")

	if err := os.MkdirAll(cfg.GRPC.RootDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("creating grpc root dir")
	}
	if err := os.MkdirAll(cfg.GRPC.CacheDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("creating artifact cache dir")
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	var svc *coordination.Service
	if *replicated {
		rep, err := coordination.StartReplicated(coordination.ReplicatedConfig{
			NodeID:   *nodeID,
			BindAddr: *bindAddr,
			DataDir:  cfg.GRPC.RootDir,
			Version:  "1.0.0",
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("starting replicated coordination service")
		}
		svc = rep.Service
	} else {
		svc = coordination.New(coordination.Config{Version: "1.0.0", Events: broker})
	}

	metaDBPath := filepath.Join(cfg.GRPC.RootDir, cfg.GRPC.DB)
	metaDB, err := bolt.Open(metaDBPath, 0o600, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening artifact metadata database")
	}
	defer metaDB.Close()

	images, err := artifactstore.Open(artifactstore.Config{Name: "images", BaseDir: cfg.GRPC.CacheDir, MetaDB: metaDB})
	if err != nil {
		logger.Fatal().Err(err).Msg("opening images artifact store")
	}
	vmResources, err := artifactstore.Open(artifactstore.Config{Name: "vm_resources", BaseDir: cfg.GRPC.CacheDir, Decompress: true, MetaDB: metaDB})
	if err != nil {
		logger.Fatal().Err(err).Msg("opening vm_resources artifact store")
	}
	logger.Info().Str("images_dir", filepath.Join(cfg.GRPC.CacheDir, "images")).
		Str("vm_resources_dir", filepath.Join(cfg.GRPC.CacheDir, "vm_resources")).
		Msg("artifact stores ready")
	// images and vm_resources are opened here so their cache
	// directories and metadata bucket exist; the stores start no
	// background work of their own. firewheel-build stages into the same
	// vm_resources cache directory, while each firewheel-supervisor keeps
	// its own per-VM cache and metadata database.
	_ = images
	_ = vmResources

	metrics.SetVersion("1.0.0")
	metrics.RegisterComponent("coordination", true, "ready")
	metrics.RegisterComponent("artifactstore", true, "ready")
	metrics.RegisterComponent("grpc", false, "starting")

	collector := metrics.NewCollector(svc, []string{"test", "prod"})
	collector.Start()
	defer collector.Stop()

	httpAddr := "127.0.0.1:9090"
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(httpAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics http server exited")
		}
	}()
	logger.Info().Str("addr", httpAddr).Msg("metrics and health endpoints listening")

	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Hostname, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("listening for grpc connections")
	}

	grpcServer := grpc.NewServer()
	coordination.NewRPCServer(svc).Register(grpcServer)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc server exited")
		}
	}()
	metrics.RegisterComponent("grpc", true, "ready")
	logger.Info().Str("addr", grpcAddr).Msg("coordination service listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	grpcServer.GracefulStop()
}
