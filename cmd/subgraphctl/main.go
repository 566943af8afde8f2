package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/gema/internal/config"
	"github.com/danmuck/gema/internal/logging"
	"github.com/danmuck/gema/internal/subgraph"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "subgraphctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "subgraphctl",
		Short:         "Run a replicated counter subgraph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, err := cmd.Flags().GetString("env-file")
			if err != nil {
				return err
			}
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			logging.ConfigureRuntime()
			return nil
		},
	}
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before anything else; missing is fine")
	root.AddCommand(newServeCommand(), newConfigCommand())
	return root
}

// loadEnvFile never overrides variables already set in the process.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve one subgraph instance until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveServiceConfig(cmd, os.Getenv)
			if err != nil {
				return err
			}
			gin.SetMode(gin.ReleaseMode)
			log.Info().
				Str("title", cfg.Title()).
				Str("addr", cfg.ListenAddr()).
				Str("policy", string(cfg.Bus.Policy)).
				Msg("starting subgraph")
			return subgraph.NewServiceWithConfig(cfg).Run()
		},
	}
	addServiceFlags(cmd)
	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or inspect configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config template; .yaml/.yml paths get YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", config.FormatOf(path), path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveServiceConfig(cmd, os.Getenv)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addServiceFlags(showCmd)

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
