package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"laneflow/pkg/workitem"
)

func itemCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Manage work items"}
	cmd.AddCommand(itemCreateCmd())
	cmd.AddCommand(itemListCmd())
	cmd.AddCommand(itemShowCmd())
	cmd.AddCommand(itemReopenCmd())
	cmd.AddCommand(itemArchiveCmd())
	return cmd
}

func itemCreateCmd() *cobra.Command {
	var (
		id       string
		title    string
		kind     string
		priority int
		files    []string
		domains  []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item in backlog",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if id == "" {
				if id, err = workitem.GenerateID(); err != nil {
					return err
				}
			}

			domainTags, err := parseDomainTags(domains)
			if err != nil {
				return err
			}

			item, err := store.Create(&workitem.Spec{
				ID:       id,
				Title:    title,
				Kind:     workitem.Kind(kind),
				Files:    files,
				Domains:  domainTags,
				Priority: priority,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created %s (%s)\n", item.ID, item.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "work item id (generated if empty)")
	cmd.Flags().StringVar(&title, "title", "", "work item title")
	cmd.Flags().StringVar(&kind, "kind", string(workitem.KindTask), "task or epic")
	cmd.Flags().IntVar(&priority, "priority", 0, "scheduling priority (higher first)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "file in the declared scope (repeatable)")
	cmd.Flags().StringArrayVar(&domains, "domain", nil, "explicit domain tag as path=domain (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

// parseDomainTags turns repeated path=domain flags into the tag map.
func parseDomainTags(pairs []string) (map[string][]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string][]string)
	for _, pair := range pairs {
		path, domain, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid domain tag %q, want path=domain", pair)
		}
		tags[path] = append(tags[path], domain)
	}
	return tags, nil
}

func itemListCmd() *cobra.Command {
	var (
		status   string
		archived bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			filter := workitem.Filter{IncludeArchived: archived}
			if status != "" {
				s := workitem.Status(status)
				if !workitem.IsValidStatus(s) {
					return fmt.Errorf("invalid status %q", status)
				}
				filter.Status = &s
			}

			items, err := store.List(filter)
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Kind", "Status", "Priority", "Files"})
			for _, item := range items {
				tw.AppendRow(table.Row{item.ID, item.Title, item.Kind, item.Status, item.Priority, len(item.Files)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived items")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show a work item's declared scope",
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

			item, err := store.Get(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s: %s\nkind=%s status=%s priority=%d archived=%v\n",
				item.ID, item.Title, item.Kind, item.Status, item.Priority, item.Archived)
			for _, file := range item.Files {
				line := "  " + file
				if tags, ok := item.Domains[file]; ok {
					line += " [" + strings.Join(tags, ",") + "]"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func itemReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <item-id>",
		Short: "Reopen a completed or blocked work item",
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

			item, err := store.Reopen(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s is now %s\n", item.ID, item.Status)
			return nil
		},
	}
}

func itemArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <item-id>",
		Short: "Archive a work item",
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

			if err := store.Archive(args[0]); err != nil {
				return err
			}
			fmt.Printf("archived %s\n", args[0])
			return nil
		},
	}
}
