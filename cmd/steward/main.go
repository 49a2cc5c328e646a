package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorlake/steward/pkg/breaker"
	"github.com/mirrorlake/steward/pkg/config"
	"github.com/mirrorlake/steward/pkg/loop"
	"github.com/mirrorlake/steward/pkg/policy"
	"github.com/mirrorlake/steward/pkg/provider"
	"github.com/mirrorlake/steward/pkg/retry"
	"github.com/mirrorlake/steward/pkg/router"
	"github.com/mirrorlake/steward/pkg/scheduler"
	"github.com/mirrorlake/steward/pkg/schema"
	"github.com/mirrorlake/steward/pkg/session"
	"github.com/mirrorlake/steward/pkg/steering"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "Autonomous agent daemon with multi-provider routing and failover",
		Long: `Steward runs agent tasks against a ranked list of LLM providers.
	Tasks are routed by capability and cost, failures are classified and
	handed off to the next provider with full continuity context, and
	anything still failing lands in a persistent retry queue.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(steerCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var providerFlag string
	var modelFlag string
	var maxTurns int
	var maxCostTier string

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run a single task to completion",
		Long: `Classifies the task, routes it to the best available provider, and
	streams the agent loop to completion. Provider failures are handed off
	to the next ranked provider automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := newLogger()

			sched, _, err := buildScheduler(cfg, logger)
			if err != nil {
				return err
			}

			task := &schema.TaskContext{Task: args[0], MaxTurns: maxTurns}
			if providerFlag != "" {
				task.ModelPreference = providerFlag
			} else if modelFlag != "" {
				aliases := config.LoadAliasesOrDefault(cfg.ConfigDir)
				if name := aliases.ProviderForModel(aliases.Resolve(modelFlag)); name != "" {
					task.ModelPreference = name
				}
			}
			if maxCostTier != "" {
				task.MaxCostTier = schema.CostTier(maxCostTier)
			}

			out := sched.Dispatch(cmd.Context(), task)

			for _, ev := range task.History {
				if ev.Type == schema.EventText {
					fmt.Println(ev.Content)
				}
			}
			if out.Status != loop.StatusCompleted {
				return fmt.Errorf("job %s failed: %v", task.JobID, out.Err)
			}
			fmt.Fprintf(os.Stderr, "Job %s completed in %d turns.\n", task.JobID, out.Turns)
			return nil
		},
	}

	cmd.Flags().StringVar(&providerFlag, "provider", "", "pin the task to one provider")
	cmd.Flags().StringVar(&modelFlag, "model", "", "prefer the provider serving this model or alias")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "override the turn budget")
	cmd.Flags().StringVar(&maxCostTier, "max-cost-tier", "", "advisory cost ceiling (free, included, metered, premium)")

	return cmd
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler daemon",
		Long:  "Sweeps the retry queue on an interval and runs due jobs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := newLogger()

			sched, _, err := buildScheduler(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sched.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			logger.Info("daemon stopped")
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	var removeFlag string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the retry queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			q, err := retry.Open(cfg.Retry.QueuePath)
			if err != nil {
				return fmt.Errorf("failed to open retry queue: %w", err)
			}

			if removeFlag != "" {
				if err := q.Remove(removeFlag); err != nil {
					return err
				}
				fmt.Printf("Removed %s from the retry queue.\n", removeFlag)
				return nil
			}

			entries := q.Entries()
			if len(entries) == 0 {
				fmt.Println("Retry queue is empty.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tRETRIES\tNEXT RUN\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					e.Task.JobID,
					e.RetryCount,
					e.NextRunAt.Local().Format(time.RFC3339),
					truncate(e.LastError, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&removeFlag, "remove", "", "drop a job from the queue by ID")

	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			guarded := map[string]*provider.Guarded{}
			if built, err := buildProviders(cfg, breaker.NewRegistry()); err == nil {
				for _, p := range built {
					if g, ok := p.(*provider.Guarded); ok {
						guarded[g.Name()] = g
					}
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRANK\tTIER\tCAPABILITIES\tSTATUS\tBREAKER\tHEALTH")

			sorted := append([]config.ProviderConfig(nil), cfg.Providers...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

			for _, p := range sorted {
				caps := make([]string, 0, len(p.Capabilities))
				for _, c := range p.Capabilities {
					caps = append(caps, string(c))
				}
				status := "no key"
				if cfg.HasProvider(p.Name) {
					status = "ready"
				}
				state, health := "-", "-"
				if g := guarded[p.Name]; g != nil {
					b := g.Breaker()
					state = b.State().String()
					health = fmt.Sprintf("%.1f", b.HealthScore())
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
					p.Name, p.Rank, p.CostTier, strings.Join(caps, ", "), status, state, health)
			}
			return w.Flush()
		},
	}
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [task]",
		Short: "Show how a task would be classified and routed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			cls := router.ClassifyTask(args[0])
			fmt.Printf("Complexity: %s\nResource type: %s\n", cls.Complexity, cls.ResourceType)

			providers, err := buildProviders(cfg, breaker.NewRegistry())
			if err != nil {
				return err
			}
			rt := newRouter(cfg, providers)
			task := &schema.TaskContext{
				Task:         args[0],
				Complexity:   cls.Complexity,
				ResourceType: cls.ResourceType,
			}
			p, err := rt.SelectProvider(task)
			if err != nil {
				fmt.Println("Route: no capable provider")
				return nil
			}
			fmt.Printf("Route: %s\n", p.Name())
			return nil
		},
	}
}

func steerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steer [job-id] [message]",
		Short: "Send a steering message to a running job",
		Long: `Queues a steering message for a job. The execution loop aborts the
	in-flight generation and restarts it with the message folded into the
	prompt.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			src, err := steering.NewFileSource(cfg.SteeringDir)
			if err != nil {
				return fmt.Errorf("failed to open steering dir: %w", err)
			}
			msg, err := src.Post(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Queued steering message %s for job %s.\n", msg.ID, msg.JobID)
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			aliases := config.LoadAliasesOrDefault(cfg.ConfigDir)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")

			names := make([]string, 0, len(aliases.Aliases))
			for name := range aliases.Aliases {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				model := aliases.Aliases[name]
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, model, aliases.ProviderForModel(model))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\nProviders covered: %s\n", strings.Join(aliases.ListProviders(), ", "))
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildProviders constructs every configured provider that has usable
// credentials, each wrapped with its circuit breaker and rate limit.
func buildProviders(cfg *config.Config, breakers *breaker.Registry) ([]provider.Provider, error) {
	var providers []provider.Provider

	for _, pc := range cfg.Providers {
		info := provider.Info{
			Name:         pc.Name,
			Rank:         pc.Rank,
			Capabilities: pc.Capabilities,
			CostTier:     pc.CostTier,
			Model:        pc.Model,
		}

		var p provider.Provider
		var err error
		switch pc.Name {
		case "anthropic":
			if pc.APIKey == "" {
				continue
			}
			p, err = provider.NewAnthropicProvider(info, pc.APIKey)
		case "openai":
			if pc.APIKey == "" {
				continue
			}
			p, err = provider.NewOpenAIProvider(info, pc.APIKey)
		case "google":
			if pc.APIKey == "" {
				continue
			}
			p, err = provider.NewGoogleProvider(info, pc.APIKey)
		case "ollama":
			p = provider.NewOllamaProvider(info, pc.BaseURL)
		case "mock":
			p = provider.NewMockProvider(info)
		default:
			return nil, fmt.Errorf("unknown provider %q", pc.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", pc.Name, err)
		}

		providers = append(providers, provider.Guard(p, breakers.For(pc.Name), float64(pc.RequestsPerMinute)))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured; set an API key or enable ollama")
	}
	return providers, nil
}

func newRouter(cfg *config.Config, providers []provider.Provider) *router.Router {
	opts := []router.Option{router.WithMode(router.Mode(cfg.Routing.Mode))}
	if cfg.Routing.ProviderOnly != "" {
		opts = append(opts, router.WithProviderOnly(cfg.Routing.ProviderOnly))
	}
	return router.New(providers, opts...)
}

func buildScheduler(cfg *config.Config, logger *slog.Logger) (*scheduler.Scheduler, *retry.Queue, error) {
	breakers := breaker.NewRegistry(
		breaker.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		breaker.WithFailureWindow(cfg.Breaker.FailureWindow()),
		breaker.WithCooldown(cfg.Breaker.Cooldown()),
	)

	providers, err := buildProviders(cfg, breakers)
	if err != nil {
		return nil, nil, err
	}
	rt := newRouter(cfg, providers)

	queue, err := retry.Open(cfg.Retry.QueuePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open retry queue: %w", err)
	}
	log, err := session.NewLog(cfg.SessionDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session log: %w", err)
	}
	src, err := steering.NewFileSource(cfg.SteeringDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open steering dir: %w", err)
	}
	engine, err := policy.NewEngine(cfg.Workspace.Root, cfg.Workspace.AllowedCommands)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	sched := scheduler.New(rt, queue, log, src,
		scheduler.WithLogger(logger),
		scheduler.WithBreakers(breakers),
		scheduler.WithTools(loop.DefaultTools(engine)...),
		scheduler.WithMaxRetries(cfg.Retry.MaxRetries),
		scheduler.WithMaxTurns(cfg.Daemon.DefaultMaxTurns),
		scheduler.WithSweepInterval(cfg.Daemon.SweepInterval()),
		scheduler.WithMaxParallelJobs(cfg.Daemon.MaxParallelJobs),
	)
	return sched, queue, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
