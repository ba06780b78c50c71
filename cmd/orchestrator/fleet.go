package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeffjacobsen/orchestrator/internal/storage"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// withStore opens the configured store for read-mostly fleet commands.
func withStore(fn func(store storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := newCLILogger(cfg); err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet and task totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			ctx := cmd.Context()
			agents, err := store.ListAgents(ctx)
			if err != nil {
				return err
			}
			tasks, err := store.ListTasks(ctx)
			if err != nil {
				return err
			}

			byStatus := make(map[v1.AgentStatus]int)
			var cost float64
			var tokens int64
			for _, a := range agents {
				byStatus[a.Status]++
				cost += a.TotalCost
				tokens += a.TotalTokens
			}

			fmt.Printf("%s\n", bold("Fleet"))
			fmt.Printf("  agents: %d\n", len(agents))
			for status, n := range byStatus {
				fmt.Printf("    %s: %d\n", statusColor(string(status)), n)
			}
			fmt.Printf("  tokens: %d\n", tokens)
			fmt.Printf("  cost:   $%.4f\n", cost)

			completed, failed := 0, 0
			for _, task := range tasks {
				switch task.Status {
				case v1.TaskCompleted:
					completed++
				case v1.TaskFailed:
					failed++
				}
			}
			fmt.Printf("\n%s\n", bold("Tasks"))
			fmt.Printf("  total: %d  %s: %d  %s: %d\n",
				len(tasks), green("completed"), completed, red("failed"), failed)
			return nil
		})
	},
}

var listAgentsRole string

var listAgentsCmd = &cobra.Command{
	Use:   "list-agents",
	Short: "List known agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			agents, err := store.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			if listAgentsRole != "" {
				filtered := agents[:0]
				for _, a := range agents {
					if string(a.Role) == listAgentsRole {
						filtered = append(filtered, a)
					}
				}
				agents = filtered
			}
			if len(agents) == 0 {
				fmt.Println("no agents")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE\tSTATUS\tTASK\tTOKENS\tCOST")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t$%.4f\n",
					shortID(a.ID), a.Name, a.Role, statusColor(string(a.Status)),
					shortID(a.TaskID), a.TotalTokens, a.TotalCost)
			}
			return w.Flush()
		})
	},
}

var listTasksCmd = &cobra.Command{
	Use:   "list-tasks",
	Short: "List known workflow tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			tasks, err := store.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTEPS\tTOKENS\tCOST\tCREATED\tDESCRIPTION")
			for _, task := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.4f\t%s\t%s\n",
					shortID(task.ID), statusColor(string(task.Status)), task.Steps,
					task.TotalTokens, task.CostUSD,
					task.CreatedAt.Format(time.DateTime),
					truncate(task.Description, 60))
			}
			return w.Flush()
		})
	},
}

var agentDetailsCmd = &cobra.Command{
	Use:   "agent-details <agent-id>",
	Short: "Show one agent's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			a, err := store.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", bold("ID:"), a.ID)
			fmt.Printf("%s %s\n", bold("Name:"), a.Name)
			fmt.Printf("%s %s\n", bold("Role:"), a.Role)
			fmt.Printf("%s %s\n", bold("Status:"), statusColor(string(a.Status)))
			if a.TaskID != "" {
				fmt.Printf("%s %s\n", bold("Task:"), a.TaskID)
			}
			fmt.Printf("%s %d\n", bold("Tokens:"), a.TotalTokens)
			fmt.Printf("%s $%.4f\n", bold("Cost:"), a.TotalCost)
			fmt.Printf("%s %s\n", bold("Created:"), a.CreatedAt.Format(time.RFC3339))
			fmt.Printf("%s %s\n", bold("Updated:"), a.UpdatedAt.Format(time.RFC3339))
			return nil
		})
	},
}

var taskDetailsCmd = &cobra.Command{
	Use:   "task-details <task-id>",
	Short: "Show one workflow task's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			task, err := store.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", bold("ID:"), task.ID)
			fmt.Printf("%s %s\n", bold("Status:"), statusColor(string(task.Status)))
			fmt.Printf("%s %s\n", bold("Description:"), task.Description)
			fmt.Printf("%s %d\n", bold("Steps:"), task.Steps)
			if task.Success != nil {
				fmt.Printf("%s %v\n", bold("Success:"), *task.Success)
			}
			fmt.Printf("%s %d\n", bold("Tokens:"), task.TotalTokens)
			fmt.Printf("%s $%.4f\n", bold("Cost:"), task.CostUSD)
			fmt.Printf("%s %s\n", bold("Created:"), task.CreatedAt.Format(time.RFC3339))
			for k, v := range task.Metadata {
				fmt.Printf("%s %v\n", bold(k+":"), v)
			}
			return nil
		})
	},
}

var cleanDryRun bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove completed, failed and deleted agents from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			ctx := cmd.Context()
			agents, err := store.ListAgents(ctx)
			if err != nil {
				return err
			}
			removed := 0
			for _, a := range agents {
				if !a.Status.IsTerminal() {
					continue
				}
				if cleanDryRun {
					fmt.Printf("would remove %s (%s, %s)\n", shortID(a.ID), a.Name, a.Status)
				} else if err := store.DeleteAgent(ctx, a.ID); err != nil {
					return err
				}
				removed++
			}
			if cleanDryRun {
				fmt.Printf("%d agents to remove\n", removed)
			} else {
				fmt.Printf("removed %d agents\n", removed)
			}
			return nil
		})
	},
}

func init() {
	listAgentsCmd.Flags().StringVar(&listAgentsRole, "role", "", "only show agents with this role")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "report what would be removed without deleting")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
