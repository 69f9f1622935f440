package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/gogpu/wgpu/hal/noop" // allow --gpu-backend noop

	zinvul "github.com/byzin/Zinvul-sub001"
	"github.com/byzin/Zinvul-sub001/internal/envconfig"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	gpuBackend string
	threads    int
	debug      bool
	verbose    bool
}

func (g *globalFlags) options() []zinvul.Option {
	opts := []zinvul.Option{zinvul.WithAppName("zinvul-cli")}
	if g.gpuBackend != "" {
		opts = append(opts, zinvul.WithGPUBackend(zinvul.ParseGPUBackend(g.gpuBackend)))
	}
	if g.threads > 0 {
		opts = append(opts, zinvul.WithThreads(g.threads))
	}
	if g.debug {
		opts = append(opts, zinvul.WithDebug(true))
	}
	return opts
}

func (g *globalFlags) setupLogging() {
	if !g.verbose {
		return
	}
	zinvul.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

// appendEnvDocs lists the recognized environment variables in the usage text.
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}
	envUsage := "\nEnvironment Variables:\n"
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-20s   %s\n", e.Name, e.Description)
	}
	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func newRootCmd() *cobra.Command {
	cobra.EnableCommandSorting = false

	var g globalFlags
	rootCmd := &cobra.Command{
		Use:           "zinvul",
		Short:         "Compute kernels on CPU and GPU devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			g.setupLogging()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.gpuBackend, "gpu-backend", "", "hal backend for GPU devices (vulkan, noop)")
	flags.IntVar(&g.threads, "threads", 0, "CPU worker count (0 uses ZINVUL_THREADS or one per CPU)")
	flags.BoolVar(&g.debug, "debug", false, "enable debug checks on buffers and kernel arguments")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "log device and resource lifecycle to stderr")

	devicesCmd := newDevicesCmd(&g)
	demoCmd := newDemoCmd(&g)

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{
		envVars["ZINVUL_DEBUG"],
		envVars["ZINVUL_THREADS"],
		envVars["ZINVUL_TASK_BATCH"],
		envVars["ZINVUL_QUEUES"],
		envVars["ZINVUL_GPU_BACKEND"],
	}
	for _, cmd := range []*cobra.Command{devicesCmd, demoCmd} {
		appendEnvDocs(cmd, envs)
	}

	rootCmd.AddCommand(devicesCmd, demoCmd)
	return rootCmd
}
