package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vitebski/sqlagent/internal/agent"
	"github.com/vitebski/sqlagent/internal/connector"
	"github.com/vitebski/sqlagent/internal/detector"
	"github.com/vitebski/sqlagent/internal/manager"
	"github.com/vitebski/sqlagent/internal/mapper"
	"github.com/vitebski/sqlagent/internal/provider"
	"github.com/vitebski/sqlagent/internal/querybuilder"
	"github.com/vitebski/sqlagent/internal/resolver"
	"github.com/vitebski/sqlagent/internal/server"
	"github.com/vitebski/sqlagent/internal/utils"
	"github.com/vitebski/sqlagent/pkg/models"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	envFile      string
	logLevel     string
	configFile   string
	providerName string
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "sqlagent",
		Short: "Ask questions of your databases in plain language",
		Long: `SQL Agent

Translates natural-language requests into SQL, runs them against MySQL,
PostgreSQL or SQLite, and explains the results. Connections are resolved
from explicit flags, then environment variables, then local services
detected on this machine.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", os.Getenv("SQLAGENT_PROVIDER_CONFIG"), "Path to provider YAML config")
	rootCmd.PersistentFlags().StringVar(&opts.providerName, "provider", "", "Model provider to use (openai, claude, ollama)")

	rootCmd.AddCommand(
		newQueryCommand(opts),
		newDetectCommand(opts),
		newServeCommand(opts),
		newProvidersCommand(opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup configures logging and returns the environment snapshot
func setup(opts *globalOptions) (*logrus.Logger, map[string]string) {
	logger := utils.SetupLogging(opts.logLevel)
	env := utils.LoadEnvironment(opts.envFile, logger)

	// Provider API keys and ${VAR} references in the provider config read the process environment
	for key, value := range env {
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return logger, env
}

func loadProviders(opts *globalOptions, logger *logrus.Logger) (*provider.Manager, error) {
	providers, err := provider.NewManagerFromFile(opts.configFile, logger)
	if err != nil {
		return nil, err
	}
	if opts.providerName != "" {
		kind, err := provider.ParseKind(opts.providerName)
		if err != nil {
			return nil, err
		}
		if err := providers.Set(kind); err != nil {
			return nil, err
		}
	}
	return providers, nil
}

// buildAgent wires detection, resolution, connections, providers and the agent together
func buildAgent(ctx context.Context, opts *globalOptions) (*agent.Agent, *logrus.Logger, error) {
	logger, env := setup(opts)

	report := detector.NewDetector(logger).Detect(ctx)
	res := resolver.NewResolver(env, report)
	connections := manager.NewManager(connector.NewDatabaseConnector(logger), res, logger)

	providers, err := loadProviders(opts, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure model provider: %w", err)
	}

	a := agent.NewAgent(
		connections,
		mapper.NewSchemaMapper(connections, logger),
		querybuilder.NewQueryBuilder(providers, logger),
		logger,
	)
	return a, logger, nil
}

func newQueryCommand(opts *globalOptions) *cobra.Command {
	var (
		dbType   string
		host     string
		port     int
		user     string
		password string
		database string
		textMode bool
	)

	cmd := &cobra.Command{
		Use:   "query [prompt...]",
		Short: "Translate a request into SQL, run it and explain the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildAgent(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.ResetCache()

			prompt := strings.Join(args, " ")
			params := models.ConnectionParams{
				Type:     dbType,
				Host:     host,
				Port:     port,
				User:     user,
				Database: database,
			}
			if cmd.Flags().Changed("password") {
				params.Password = models.StringPtr(password)
			}

			res := a.Run(cmd.Context(), agent.Structured{Prompt: prompt, Connection: params})

			if textMode {
				fmt.Println(agent.FormatText(res))
			} else {
				data, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode result: %w", err)
				}
				fmt.Println(string(data))
			}

			if !res.OK() {
				return fmt.Errorf("request failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dbType, "type", "t", string(agent.DefaultKind), "Database type (mysql, postgresql, sqlite)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Database host")
	cmd.Flags().IntVarP(&port, "port", "P", 0, "Database port")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Database user")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Database password")
	cmd.Flags().StringVarP(&database, "database", "d", "", "Database name, or file path for sqlite")
	cmd.Flags().BoolVar(&textMode, "text", false, "Print a plain text block instead of JSON")
	return cmd
}

func newDetectCommand(opts *globalOptions) *cobra.Command {
	var saveDir string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Report which database clients and services are available locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := setup(opts)

			report := detector.NewDetector(logger).DetectSystem(cmd.Context())
			utils.PrintCapabilityReport(os.Stdout, report)

			if saveDir != "" {
				path, err := detector.SaveReport(saveDir, report)
				if err != nil {
					return err
				}
				logger.Infof("Report saved to %s", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&saveDir, "save", "s", "", "Directory to save the JSON report in")
	return cmd
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := buildAgent(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.ResetCache()

			return server.New(a, logger).ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Address to listen on")
	return cmd
}

func newProvidersCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the configured model providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := setup(opts)

			providers, err := loadProviders(opts, logger)
			if err != nil {
				return err
			}

			current := providers.Current()
			for _, kind := range providers.List() {
				marker := " "
				if kind == current {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, kind)
			}
			return nil
		},
	}
}
