package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"laneflow/pkg/exec"
	"laneflow/pkg/workspace"
)

func workspacesCmd() *cobra.Command {
	var (
		itemID string
		status string
	)
	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "List in-flight workspaces from their metadata records",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			manager := workspace.NewManager(cfg.Workspace, repoPath(cfg), exec.NewLocalExec())
			listed, err := manager.List(itemID)
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Work Item", "Domain", "Rank", "Status", "Branch", "Updated"})
			for _, ws := range listed {
				if status != "" && string(ws.Status) != status {
					continue
				}
				tw.AppendRow(table.Row{
					ws.WorkItemID, ws.Domain, ws.Rank, ws.Status, ws.Branch,
					ws.UpdatedAt.Format(time.RFC3339),
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "filter by work item id")
	cmd.Flags().StringVar(&status, "status", "", "filter by workspace status")
	return cmd
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <item-id>",
		Short: "Show the post-mortem report for a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			report, err := store.GetPostMortem(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("post-mortem for %s (recorded %s)\n\n", report.WorkItemID,
				report.CreatedAt.Format(time.RFC3339))

			fmt.Println("worked well:")
			for _, note := range report.WorkedWell {
				fmt.Println("  -", note)
			}
			fmt.Println("challenges:")
			for _, c := range report.Challenges {
				fmt.Printf("  - %s (%s)\n", c.Description, c.Resolution)
			}
			fmt.Println("recommendations:")
			for _, rec := range report.Recommendations {
				fmt.Println("  -", rec)
			}
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	var abandonedHours int
	cmd := &cobra.Command{
		Use:   "cleanup [item-id]",
		Short: "Clean workspaces: a work item's merged run, or abandoned ones by age",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manager := workspace.NewManager(cfg.Workspace, repoPath(cfg), exec.NewLocalExec())

			if len(args) == 0 {
				if abandonedHours <= 0 {
					return fmt.Errorf("either an item-id or --abandoned-hours is required")
				}
				cleaned, err := manager.CleanupAbandoned(time.Duration(abandonedHours) * time.Hour)
				if err != nil {
					return err
				}
				fmt.Printf("cleaned %d abandoned workspaces\n", cleaned)
				return nil
			}

			listed, err := manager.List(args[0])
			if err != nil {
				return err
			}
			for _, ws := range listed {
				if err := manager.Cleanup(ws); err != nil {
					return err
				}
				fmt.Printf("cleaned %s\n", ws.Name)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&abandonedHours, "abandoned-hours", 0, "clean created/active workspaces idle longer than this many hours")
	return cmd
}
