package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/ssh"

	"github.com/sandialabs/firewheel/pkg/artifactstore"
	"github.com/sandialabs/firewheel/pkg/config"
	"github.com/sandialabs/firewheel/pkg/coordination"
	"github.com/sandialabs/firewheel/pkg/driver/sshengine"
	"github.com/sandialabs/firewheel/pkg/log"
	"github.com/sandialabs/firewheel/pkg/schedule"
	"github.com/sandialabs/firewheel/pkg/schedulestore"
	"github.com/sandialabs/firewheel/pkg/supervisor"
	"github.com/sandialabs/firewheel/pkg/updater"
)

var (
	configPath       = flag.String("config", "/etc/firewheel/config.yaml", "Path to the firewheel configuration file")
	coordinationAddr = flag.String("coordination-addr", "127.0.0.1:9000", "Coordination Service address")
	db               = flag.String("db", "test", "Logical database this VM belongs to (\"test\" or \"prod\")")
)

// startupSpec is the JSON object the experiment launcher passes on argv,
// per spec.md §6's supervisor startup contract.
type startupSpec struct {
	VMName string `json:"vm_name"`
	VMUUID string `json:"vm_uuid"`
	Engine string `json:"engine"` // "ssh" (only engine wired to this binary)
	Path   string `json:"path"`   // host:port the guest agent listens on
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: firewheel-supervisor [flags] '<json startup spec>'")
		os.Exit(2)
	}

	var spec startupSpec
	if err := json.Unmarshal([]byte(flag.Arg(0)), &spec); err != nil {
		fmt.Fprintf(os.Stderr, "parsing startup spec: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: log.Level(strings.ToLower(cfg.Logging.Level)), JSONOutput: true})
	logger := log.WithVM(spec.VMName).With().Str("component", "firewheel-supervisor").Logger()

	if spec.Engine != "ssh" {
		logger.Fatal().Str("engine", spec.Engine).Msg("unsupported guest engine for this binary")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := sshengine.New(sshengine.Config{
		Addr:    spec.Path,
		User:    cfg.SSH.User,
		Auth:    []ssh.AuthMethod{ssh.Password("")}, // replaced by key-based auth once provisioned
		Timeout: 30 * time.Second,
	})

	client, err := coordination.Dial(ctx, *coordinationAddr, *db)
	if err != nil {
		logger.Fatal().Err(err).Msg("dialing coordination service")
	}
	defer client.Close()

	store, err := schedulestore.Open(cfg.GRPC.RootDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening schedule store")
	}
	defer store.Close()

	// Each supervisor keeps its own local vm_resources cache and
	// metadata database, rather than sharing the coordinator's, since
	// bbolt holds an exclusive file lock per process.
	vmResourcesDir := filepath.Join(cfg.GRPC.CacheDir, spec.VMName)
	if err := os.MkdirAll(vmResourcesDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("creating local artifact cache dir")
	}
	metaDB, err := bolt.Open(filepath.Join(vmResourcesDir, cfg.GRPC.DB), 0o600, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening local artifact metadata database")
	}
	defer metaDB.Close()
	vmResources, err := artifactstore.Open(artifactstore.Config{
		Name:       "vm_resources",
		BaseDir:    vmResourcesDir,
		Decompress: true,
		MetaDB:     metaDB,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("opening vm_resources artifact store")
	}

	queue := schedule.NewPriorityQueue()
	cond := sync.NewCond(&sync.Mutex{})

	up := updater.New(updater.Config{
		VMName:        spec.VMName,
		ScheduleStore: store,
		Artifacts:     vmResources,
		Coordination:  client,
		Queue:         queue,
		Cond:          cond,
	})

	sup := supervisor.New(supervisor.Config{
		VMName:       spec.VMName,
		ServerUUID:   spec.VMUUID,
		Driver:       drv,
		Coordination: client,
		Artifacts:    vmResources,
		Updater:      up,
		Queue:        queue,
		Cond:         cond,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("signal received, stopping")
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("supervisor exited with error")
		os.Exit(1)
	}
}
