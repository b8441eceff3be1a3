// laneflow is the operator CLI for the lane-based work orchestrator. All
// business logic lives in the packages; commands here are thin I/O.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"laneflow/pkg/config"
	"laneflow/pkg/workitem"
)

var (
	flagProject string
	flagRepo    string
)

var rootCmd = &cobra.Command{
	Use:   "laneflow",
	Short: "Lane-based development workflow orchestrator",
	Long: `laneflow plans work items into domain lanes, executes eligible lanes in
parallel inside isolated workspaces, merges them back in dependency order,
and gates the result behind a bounded validation retry loop.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", "", "baseline git repository (defaults to the project directory)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(workspacesCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(cleanupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagProject)
}

func repoPath(cfg *config.Config) string {
	if flagRepo != "" {
		return flagRepo
	}
	return cfg.ProjectDir
}

// openStore opens the configured work item store. Callers must Close it.
func openStore(cfg *config.Config) (workitem.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return workitem.NewMemoryStore(), nil
	default:
		return workitem.NewSQLiteStore(cfg.Store.DBPath)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration into the project directory",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Default(flagProject)
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", config.ConfigFilename)
			return nil
		},
	}
}
