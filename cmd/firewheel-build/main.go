package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/sandialabs/firewheel/pkg/artifactstore"
	"github.com/sandialabs/firewheel/pkg/config"
	"github.com/sandialabs/firewheel/pkg/expgraph"
	"github.com/sandialabs/firewheel/pkg/log"
	"github.com/sandialabs/firewheel/pkg/manifest"
	"github.com/sandialabs/firewheel/pkg/resolver"
)

var (
	configPath     = flag.String("config", "/etc/firewheel/config.yaml", "Path to the firewheel configuration file")
	componentsRoot = flag.String("components-dir", ".", "Directory containing one subdirectory per installed model component")
	seedsFlag      = flag.String("seeds", "", "Comma-separated list of seed model components to resolve from")
)

func main() {
	flag.Parse()

	if *seedsFlag == "" {
		fmt.Fprintln(os.Stderr, "--seeds is required")
		os.Exit(2)
	}
	seeds := strings.Split(*seedsFlag, ",")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: log.Level(strings.ToLower(cfg.Logging.Level)), JSONOutput: true})
	logger := log.WithComponent("firewheel-build")

	components, err := loadComponents(*componentsRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading installed model components")
	}
	logger.Info().Int("count", len(components)).Str("dir", *componentsRoot).Msg("loaded model components")

	registry, err := resolver.NewRegistry(components)
	if err != nil {
		logger.Fatal().Err(err).Msg("building component registry")
	}

	res := resolver.New(registry, cfg.AttributeDefaults)
	plan, err := res.Resolve(seeds)
	if err != nil {
		logger.Fatal().Err(err).Msg("resolving dependency plan")
	}
	logger.Info().Strs("order", plan.Order).Msg("resolved plan")

	if err := stageVMResources(cfg, registry, plan, logger); err != nil {
		logger.Fatal().Err(err).Msg("staging vm resources")
	}
	logger.Info().Msg("vm resources staged")

	graph := expgraph.New()
	for _, name := range plan.Order {
		if err := graph.AddVertex(expgraph.NewVertex(name)); err != nil {
			logger.Fatal().Err(err).Msg("adding vertex to experiment graph")
		}
	}

	out, err := json.MarshalIndent(map[string]any{"order": plan.Order}, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("marshaling plan")
	}
	fmt.Println(string(out))
}

func loadComponents(root string) ([]*manifest.Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading components directory: %w", err)
	}
	var components []*manifest.Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := manifest.Load(filepath.Join(root, entry.Name()))
		if err != nil {
			continue // directory without a MANIFEST.yaml is not a model component
		}
		components = append(components, m)
	}
	return components, nil
}

// stageVMResources uploads every resolved component's declared VM
// resource files into the local vm_resources artifact store, so a
// supervisor started after this build can GetPath them immediately
// (spec.md §4.1, §4.4's plan consuming resource globs).
func stageVMResources(cfg *config.Config, registry *resolver.Registry, plan *resolver.Plan, logger zerolog.Logger) error {
	if err := os.MkdirAll(cfg.GRPC.CacheDir, 0o755); err != nil {
		return fmt.Errorf("creating artifact cache dir: %w", err)
	}
	metaDB, err := bolt.Open(filepath.Join(cfg.GRPC.CacheDir, cfg.GRPC.DB), 0o600, nil)
	if err != nil {
		return fmt.Errorf("opening artifact metadata database: %w", err)
	}
	defer metaDB.Close()

	store, err := artifactstore.Open(artifactstore.Config{
		Name:       "vm_resources",
		BaseDir:    cfg.GRPC.CacheDir,
		Decompress: true,
		MetaDB:     metaDB,
	})
	if err != nil {
		return fmt.Errorf("opening vm_resources artifact store: %w", err)
	}

	for _, name := range plan.Order {
		m, ok := registry.Get(name)
		if !ok {
			continue
		}
		files, err := m.ExpandVMResourceGlobs()
		if err != nil {
			return fmt.Errorf("%s: expanding vm resource globs: %w", name, err)
		}
		for _, path := range files {
			if err := store.Add(path, false); err != nil {
				logger.Warn().Err(err).Str("component", name).Str("path", path).Msg("skipping vm resource")
				continue
			}
		}
	}
	return nil
}
