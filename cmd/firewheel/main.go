package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/sandialabs/firewheel/pkg/clusterexec"
	"github.com/sandialabs/firewheel/pkg/config"
	"github.com/sandialabs/firewheel/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "firewheel",
	Short:   "firewheel operates a cyber-experiment cluster's VM resource scheduling subsystem",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("firewheel version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "/etc/firewheel/config.yaml", "Path to the firewheel configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(execCmd)

	configCmd.AddCommand(configShowCmd)

	execCmd.AddCommand(execCopyFileCmd)
	execCmd.AddCommand(execRunCommandCmd)

	execCopyFileCmd.Flags().String("group", "compute", "Host group to copy to (\"control\" or \"compute\")")
	execRunCommandCmd.Flags().String("group", "compute", "Host group to run on (\"control\" or \"compute\")")
	execRunCommandCmd.Flags().String("cwd", "", "Remote working directory to cd into before running the command")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the firewheel configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Load and print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		fmt.Printf("logging.level:        %s\n", cfg.Logging.Level)
		fmt.Printf("cluster.control:       %v\n", cfg.Cluster.Control)
		fmt.Printf("cluster.compute:       %v\n", cfg.Cluster.Compute)
		fmt.Printf("minimega.degree:       %d\n", cfg.Minimega.Degree)
		fmt.Printf("minimega.namespace:    %s\n", cfg.Minimega.Namespace)
		fmt.Printf("grpc.hostname:         %s:%d\n", cfg.GRPC.Hostname, cfg.GRPC.Port)
		fmt.Printf("grpc.root_dir:         %s\n", cfg.GRPC.RootDir)
		fmt.Printf("grpc.cache_dir:        %s\n", cfg.GRPC.CacheDir)
		fmt.Printf("ssh.user:              %s\n", cfg.SSH.User)
		fmt.Printf("vm_resource_manager:   default_state=%s\n", cfg.VMResourceManager.DefaultState)
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Fan out file copies and commands to a cluster host group",
}

func hostGroup(cfg *config.Config, group string) ([]string, error) {
	switch group {
	case "control":
		return cfg.Cluster.Control, nil
	case "compute":
		return cfg.Cluster.Compute, nil
	default:
		return nil, fmt.Errorf("unknown host group %q: must be \"control\" or \"compute\"", group)
	}
}

func newExecutor(cmd *cobra.Command) (*clusterexec.Executor, error) {
	path, _ := cmd.Flags().GetString("config")
	group, _ := cmd.Flags().GetString("group")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	hosts, err := hostGroup(cfg, group)
	if err != nil {
		return nil, err
	}
	return clusterexec.New(clusterexec.Config{
		HostGroup: group,
		Hosts:     hosts,
		User:      cfg.SSH.User,
		Auth:      []ssh.AuthMethod{ssh.Password("")}, // replaced by key-based auth once provisioned
	}), nil
}

var execCopyFileCmd = &cobra.Command{
	Use:   "copy-file LOCAL REMOTE",
	Short: "Copy a local file to every host in a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		executor, err := newExecutor(cmd)
		if err != nil {
			return err
		}
		if failed := executor.CopyFile(context.Background(), args[0], args[1]); failed > 0 {
			return fmt.Errorf("copy_file failed on %d host(s)", failed)
		}
		fmt.Println("copy_file succeeded on all hosts")
		return nil
	},
}

var execRunCommandCmd = &cobra.Command{
	Use:   "run-command CMD [ARGS...]",
	Short: "Run a command on every host in a group",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		executor, err := newExecutor(cmd)
		if err != nil {
			return err
		}
		cwd, _ := cmd.Flags().GetString("cwd")
		if failed := executor.RunCommand(context.Background(), cwd, args[0], args[1:]); failed > 0 {
			return fmt.Errorf("run_command failed on %d host(s)", failed)
		}
		fmt.Println("run_command succeeded on all hosts")
		return nil
	},
}
