package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/denv/internal/config"
	simple "github.com/cochaviz/denv/internal/configurations"
	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/environment"
	"github.com/cochaviz/denv/internal/logging"
	"github.com/cochaviz/denv/internal/mount"
	"github.com/cochaviz/denv/internal/setup"
	"github.com/cochaviz/denv/internal/tempenv"
)

const defaultLogLevel = "warning"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := simple.NewRuntime(logger)
	if err != nil {
		logger.Error("state directory setup failed", "error", err)
		os.Exit(1)
	}

	// The scratch cleanup pass must run exactly once, on every exit
	// path including interrupts.
	var cleanupOnce sync.Once
	finalize := func() {
		cleanupOnce.Do(func() {
			if err := runtime.Cleanup.Run(); err != nil {
				logger.Warn("scratch cleanup reported failures", "error", err)
			}
		})
	}
	defer finalize()

	root := newRootCommand(runtime, logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		finalize()
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(runtime *simple.Runtime, logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	setup.SetLogger(logger.With("component", "setup"))

	logLevel := defaultLogLevel

	root := &cobra.Command{
		Use:           "denv",
		Short:         "Disposable containerized development environments",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if logging.DebugEnabled() {
			level = slog.LevelDebug
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	root.AddCommand(
		newCreateCommand(runtime, logger),
		newStartCommand(runtime, logger),
		newStopCommand(runtime, logger),
		newRestartCommand(runtime, logger),
		newDestroyCommand(runtime, logger),
		newStatusCommand(runtime, logger),
		newProvisionCommand(runtime, logger),
		newSSHCommand(runtime),
		newKillCommand(runtime, logger),
		newTempCommand(runtime, logger),
		newSyncDirectoryCommand(runtime, logger),
	)
	return root
}

// confirmPrompt asks on stderr and reads y/N from stdin. assumeYes and
// DENV_NO_CONFIRM=1 short-circuit to yes.
func confirmPrompt(assumeYes *bool) func(string) bool {
	return func(prompt string) bool {
		if (assumeYes != nil && *assumeYes) || os.Getenv("DENV_NO_CONFIRM") == "1" {
			return true
		}
		fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func validateEnvironmentName(name string) error {
	if name == "" {
		return fmt.Errorf("environment name is required")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("environment name %q may only contain letters, digits, '-' and '_'", name)
		}
	}
	return nil
}

// resolveName prefers the positional argument over the project config
// name.
func resolveName(args []string, project *config.Project) (string, error) {
	name := ""
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	} else if project != nil {
		name = project.Name
	}
	if err := validateEnvironmentName(name); err != nil {
		return "", err
	}
	return name, nil
}

// engineForEnvironment recovers the engine an environment was created
// with, so start/stop/destroy talk to the right daemon.
func engineForEnvironment(runtime *simple.Runtime, name string) engine.Kind {
	store, err := environment.NewStore(runtime.Dirs.EnvironmentsDir())
	if err != nil {
		return engine.KindDocker
	}
	record, err := store.Load(name)
	if err != nil {
		return engine.KindDocker
	}
	return record.Engine
}

// projectProvisioner builds the playbook provisioner for a project,
// exporting the resolved configuration to a scratch file that is
// copied into the container alongside the playbook.
func projectProvisioner(runtime *simple.Runtime, project *config.Project) (environment.Provisioner, error) {
	playbook := project.PlaybookPath()
	if playbook == "" {
		return nil, nil
	}
	configFile, err := runtime.Cleanup.CreateScratchFile("config")
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(project)
	if err != nil {
		return nil, fmt.Errorf("encode project config: %w", err)
	}
	if err := os.WriteFile(configFile, data, 0o644); err != nil {
		return nil, fmt.Errorf("export project config: %w", err)
	}
	return &environment.PlaybookProvisioner{PlaybookPath: playbook, ConfigPath: configFile}, nil
}

func parseMountArgs(descriptors []string) ([]mount.Spec, error) {
	var specs []mount.Spec
	for _, descriptor := range descriptors {
		parsed, err := mount.ParseDescriptor(descriptor)
		if err != nil {
			return nil, err
		}
		specs = append(specs, parsed...)
	}
	return specs, nil
}

func newCreateCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	var (
		projectDir string
		mountFlags []string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "create [name]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Create and start an environment from the project's denv.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := config.LoadDir(projectDir)
			if err != nil {
				return err
			}
			name, err := resolveName(args, project)
			if err != nil {
				return err
			}
			cmdLogger := logger.With("command", "create", "environment", name)

			mounts, err := project.MountSpecs()
			if err != nil {
				return err
			}
			extra, err := parseMountArgs(mountFlags)
			if err != nil {
				return err
			}
			mounts = append(mounts, extra...)

			provisioner, err := projectProvisioner(runtime, project)
			if err != nil {
				return err
			}

			orchestrator, err := runtime.Orchestrator(project.EngineKind(), provisioner, confirmPrompt(&force))
			if err != nil {
				return err
			}

			cmdLogger.Info("creating environment", "engine", project.EngineKind(), "mounts", len(mounts))
			record, err := orchestrator.Create(cmd.Context(), environment.CreateOptions{
				Name:    name,
				Engine:  project.EngineKind(),
				Build:   project.BuildSpec(),
				Mounts:  mounts,
				Workdir: project.Workspace,
				Force:   force,
			})
			var provisioningErr *environment.ProvisioningError
			if errors.As(err, &provisioningErr) {
				cmdLogger.Warn("environment is running but provisioning failed", "error", provisioningErr.Err)
				return err
			}
			if err != nil {
				return err
			}

			cmdLogger.Info("environment created", "container", record.ContainerName())
			fmt.Fprintln(cmd.OutOrStdout(), record.ContainerName())
			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", ".", "Project directory containing "+config.FileName)
	cmd.Flags().StringArrayVar(&mountFlags, "mount", nil, "Additional mount descriptor (source[:ro|rw]); repeatable")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing environment without asking")

	return cmd
}

func newStartCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Start a stopped environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveName(args, nil)
			if err != nil {
				return err
			}
			orchestrator, err := runtime.Orchestrator(engineForEnvironment(runtime, name), nil, nil)
			if err != nil {
				return err
			}
			record, err := orchestrator.Start(cmd.Context(), name)
			if err != nil {
				return err
			}
			logger.Info("environment started", "command", "start", "environment", name, "container", record.ContainerName())
			return nil
		},
	}
}

func newStopCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Stop a running environment without destroying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveName(args, nil)
			if err != nil {
				return err
			}
			orchestrator, err := runtime.Orchestrator(engineForEnvironment(runtime, name), nil, nil)
			if err != nil {
				return err
			}
			if _, err := orchestrator.Stop(cmd.Context(), name); err != nil {
				return err
			}
			logger.Info("environment stopped", "command", "stop", "environment", name)
			return nil
		},
	}
}

func newRestartCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Restart a running environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveName(args, nil)
			if err != nil {
				return err
			}
			orchestrator, err := runtime.Orchestrator(engineForEnvironment(runtime, name), nil, nil)
			if err != nil {
				return err
			}
			if _, err := orchestrator.Restart(cmd.Context(), name); err != nil {
				return err
			}
			logger.Info("environment restarted", "command", "restart", "environment", name)
			return nil
		},
	}
}

func newDestroyCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "destroy <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Destroy an environment and its container",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveName(args, nil)
			if err != nil {
				return err
			}
			if !confirmPrompt(&force)(fmt.Sprintf("Destroy environment %q?", name)) {
				return errors.New("aborted")
			}
			orchestrator, err := runtime.Orchestrator(engineForEnvironment(runtime, name), nil, nil)
			if err != nil {
				return err
			}
			if err := orchestrator.Destroy(cmd.Context(), name, force); err != nil {
				return err
			}
			logger.Info("environment destroyed", "command", "destroy", "environment", name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation and force container removal")
	return cmd
}

func newStatusCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Show environment status; without a name, list all environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				orchestrator, err := runtime.Orchestrator(engine.KindDocker, nil, nil)
				if err != nil {
					return err
				}
				records, err := orchestrator.List()
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "no environments")
					return nil
				}
				for _, record := range records {
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", record.Name, record.State, record.Engine, record.Image)
				}
				return nil
			}

			name, err := resolveName(args, nil)
			if err != nil {
				return err
			}
			orchestrator, err := runtime.Orchestrator(engineForEnvironment(runtime, name), nil, nil)
			if err != nil {
				return err
			}
			status, err := orchestrator.Status(cmd.Context(), name)
			if err != nil {
				return err
			}
			printStatus(out, status)
			return nil
		},
	}
}

func printStatus(out io.Writer, status *environment.Status) {
	record := status.Record
	fmt.Fprintf(out, "name:      %s\n", record.Name)
	fmt.Fprintf(out, "state:     %s\n", record.State)
	fmt.Fprintf(out, "engine:    %s (%s)\n", record.Engine, status.Probe.Raw)
	fmt.Fprintf(out, "image:     %s\n", record.Image)
	fmt.Fprintf(out, "container: %s\n", record.ContainerName())
	fmt.Fprintf(out, "created:   %s\n", record.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if status.Probe.Running {
		fmt.Fprintf(out, "uptime:    %s\n", time.Since(record.CreatedAt).Round(time.Second))
	}
	for _, spec := range record.Mounts {
		fmt.Fprintf(out, "mount:     %s\n", spec.EngineArg())
	}
}

func newProvisionCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "provision [name]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Re-run provisioning on a running environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := config.LoadDir(projectDir)
			if err != nil {
				return err
			}
			name, err := resolveName(args, project)
			if err != nil {
				return err
			}
			provisioner, err := projectProvisioner(runtime, project)
			if err != nil {
				return err
			}
			if provisioner == nil {
				return fmt.Errorf("project %s declares no provisioning playbook", project.Name)
			}
			orchestrator, err := runtime.Orchestrator(engineForEnvironment(runtime, name), provisioner, nil)
			if err != nil {
				return err
			}
			if err := orchestrator.Provision(cmd.Context(), name); err != nil {
				return err
			}
			logger.Info("provisioning completed", "command", "provision", "environment", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", ".", "Project directory containing "+config.FileName)
	return cmd
}

func newSSHCommand(runtime *simple.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "ssh <name> [command...]",
		Args:  cobra.MinimumNArgs(1),
		Short: "Open a shell (or run a command) in a running environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveName(args[:1], nil)
			if err != nil {
				return err
			}
			orchestrator, err := runtime.Orchestrator(engineForEnvironment(runtime, name), nil, nil)
			if err != nil {
				return err
			}
			command := args[1:]
			if len(command) == 0 {
				command = []string{"bash", "-i"}
			}
			return orchestrator.Exec(cmd.Context(), name, command)
		},
	}
}

// newKillCommand force-removes the container even when the record is
// missing or corrupt, then runs a cleanup pass. The escape hatch for a
// wedged environment.
func newKillCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Force-remove an environment's container and clean up scratch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveName(args, nil)
			if err != nil {
				return err
			}
			cmdLogger := logger.With("command", "kill", "environment", name)

			kind := engineForEnvironment(runtime, name)
			driver := runtime.Driver(kind)
			containerName := (&environment.Record{Name: name}).ContainerName()

			if err := driver.Remove(cmd.Context(), containerName, true); err != nil {
				cmdLogger.Warn("container removal failed", "container", containerName, "error", err)
			}
			store, err := environment.NewStore(runtime.Dirs.EnvironmentsDir())
			if err != nil {
				return err
			}
			if err := store.Delete(name); err != nil {
				return err
			}
			if err := runtime.Cleanup.Run(); err != nil {
				cmdLogger.Warn("scratch cleanup reported failures", "error", err)
			}
			cmdLogger.Info("environment killed")
			return nil
		},
	}
}

func newTempCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	var (
		autoDestroy bool
		image       string
		engineName  string
	)

	cmd := &cobra.Command{
		Use:   "temp <mount>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Create or attach to the throwaway environment",
		Long: "Creates the throwaway environment from the given mount descriptors " +
			"(source[:ro|rw]), or attaches when it is already running. " +
			"With --auto-destroy the environment is torn down when the ssh session ends.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := engine.ParseKind(engineName)
			if err != nil {
				return err
			}
			mounts, err := parseMountArgs(args)
			if err != nil {
				return err
			}
			manager, err := runtime.TempManager(kind, confirmPrompt(nil))
			if err != nil {
				return err
			}

			state, attached, err := manager.Up(cmd.Context(), tempenv.UpOptions{
				Mounts:      mounts,
				Image:       image,
				Engine:      kind,
				AutoDestroy: autoDestroy,
			})
			if err != nil {
				return err
			}
			if attached {
				logger.Info("attached to running temp environment", "container", state.ContainerName)
			} else {
				logger.Info("temp environment created", "container", state.ContainerName, "auto_destroy", state.AutoDestroy)
			}
			return manager.SSH(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&autoDestroy, "auto-destroy", false, "Destroy the environment when the session ends")
	cmd.Flags().StringVar(&image, "image", tempenv.DefaultImage, "Image for the temp environment")
	cmd.Flags().StringVar(&engineName, "engine", "", "Engine to use (docker, podman)")

	cmd.AddCommand(
		newTempSSHCommand(runtime, logger),
		newTempStatusCommand(runtime),
		newTempDestroyCommand(runtime, logger),
		newTempMountCommand(runtime, logger),
		newTempUnmountCommand(runtime, logger),
		newTempMountsCommand(runtime),
	)
	return cmd
}

// tempManagerFor recovers the engine from the persisted temp state so
// the subcommands talk to the daemon the environment lives on.
func tempManagerFor(runtime *simple.Runtime, confirm func(string) bool) (*tempenv.Manager, error) {
	manager, err := runtime.TempManager(engine.KindDocker, confirm)
	if err != nil {
		return nil, err
	}
	state, err := manager.Store.Load()
	if err != nil || state.Engine == engine.KindDocker {
		return manager, nil
	}
	return runtime.TempManager(state.Engine, confirm)
}

func newTempSSHCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ssh",
		Short: "Open a shell in the temp environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := tempManagerFor(runtime, nil)
			if err != nil {
				return err
			}
			return manager.SSH(cmd.Context())
		},
	}
}

func newTempStatusCommand(runtime *simple.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the temp environment's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := tempManagerFor(runtime, nil)
			if err != nil {
				return err
			}
			state, status, err := manager.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printStatus(out, status)
			fmt.Fprintf(out, "auto-destroy: %t\n", state.AutoDestroy)
			return nil
		},
	}
}

func newTempDestroyCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the temp environment and its scratch project directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmPrompt(&force)("Destroy the temp environment?") {
				return errors.New("aborted")
			}
			manager, err := tempManagerFor(runtime, confirmPrompt(&force))
			if err != nil {
				return err
			}
			if err := manager.Destroy(cmd.Context(), force); err != nil {
				return err
			}
			logger.Info("temp environment destroyed", "command", "temp.destroy")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation and force container removal")
	return cmd
}

func newTempMountCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "mount <mount>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Add mounts to the temp environment (recreates the container)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mounts, err := parseMountArgs(args)
			if err != nil {
				return err
			}
			manager, err := tempManagerFor(runtime, nil)
			if err != nil {
				return err
			}
			if err := manager.Mount(cmd.Context(), mounts); err != nil {
				return err
			}
			logger.Info("mounts added", "command", "temp.mount", "count", len(mounts))
			return nil
		},
	}
}

func newTempUnmountCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "unmount <source>",
		Args:  cobra.ExactArgs(1),
		Short: "Remove a mount from the temp environment (recreates the container)",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := tempManagerFor(runtime, nil)
			if err != nil {
				return err
			}
			if err := manager.Unmount(cmd.Context(), args[0]); err != nil {
				return err
			}
			logger.Info("mount removed", "command", "temp.unmount", "source", args[0])
			return nil
		},
	}
}

func newTempMountsCommand(runtime *simple.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "mounts",
		Short: "List the temp environment's mounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := tempManagerFor(runtime, nil)
			if err != nil {
				return err
			}
			mounts, err := manager.Mounts()
			if err != nil {
				return err
			}
			for _, spec := range mounts {
				fmt.Fprintln(cmd.OutOrStdout(), spec.EngineArg())
			}
			return nil
		},
	}
}

func newSyncDirectoryCommand(runtime *simple.Runtime, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "get-sync-directory",
		Short: "Print the host path of the last working directory used inside the temp environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := tempManagerFor(runtime, nil)
			if err != nil {
				return err
			}
			dir, err := manager.SyncDirectory()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}
