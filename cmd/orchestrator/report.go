package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jeffjacobsen/orchestrator/internal/storage"
)

var (
	reportFormat  string
	reportByAgent bool
	reportByRole  bool
)

type costReportRow struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Status  string  `json:"status,omitempty"`
	Tokens  int64   `json:"total_tokens"`
	CostUSD float64 `json:"cost_usd"`
}

type costReport struct {
	GroupBy     string          `json:"group_by"`
	Rows        []costReportRow `json:"rows"`
	TotalTokens int64           `json:"total_tokens"`
	TotalCost   float64         `json:"total_cost_usd"`
}

func taskCostReport(tasks []*storage.TaskRecord) costReport {
	report := costReport{GroupBy: "task", Rows: make([]costReportRow, 0, len(tasks))}
	for _, task := range tasks {
		report.Rows = append(report.Rows, costReportRow{
			ID:      task.ID,
			Label:   task.Description,
			Status:  string(task.Status),
			Tokens:  task.TotalTokens,
			CostUSD: task.CostUSD,
		})
	}
	return report
}

func agentCostReport(agents []*storage.AgentRecord) costReport {
	report := costReport{GroupBy: "agent", Rows: make([]costReportRow, 0, len(agents))}
	for _, a := range agents {
		report.Rows = append(report.Rows, costReportRow{
			ID:      a.ID,
			Label:   a.Name,
			Status:  string(a.Status),
			Tokens:  a.TotalTokens,
			CostUSD: a.TotalCost,
		})
	}
	return report
}

func roleCostReport(agents []*storage.AgentRecord) costReport {
	byRole := make(map[string]*costReportRow)
	order := make([]string, 0)
	for _, a := range agents {
		role := string(a.Role)
		row, ok := byRole[role]
		if !ok {
			row = &costReportRow{ID: role, Label: role}
			byRole[role] = row
			order = append(order, role)
		}
		row.Tokens += a.TotalTokens
		row.CostUSD += a.TotalCost
	}
	report := costReport{GroupBy: "role", Rows: make([]costReportRow, 0, len(order))}
	for _, role := range order {
		report.Rows = append(report.Rows, *byRole[role])
	}
	return report
}

var costReportCmd = &cobra.Command{
	Use:   "cost-report",
	Short: "Report token and cost spend per task, agent or role",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportByAgent && reportByRole {
			return fmt.Errorf("--by-agent and --by-role are mutually exclusive")
		}
		return withStore(func(store storage.Store) error {
			var report costReport
			switch {
			case reportByAgent || reportByRole:
				agents, err := store.ListAgents(cmd.Context())
				if err != nil {
					return err
				}
				if reportByAgent {
					report = agentCostReport(agents)
				} else {
					report = roleCostReport(agents)
				}
			default:
				tasks, err := store.ListTasks(cmd.Context())
				if err != nil {
					return err
				}
				report = taskCostReport(tasks)
			}
			for _, row := range report.Rows {
				report.TotalTokens += row.Tokens
				report.TotalCost += row.CostUSD
			}

			switch reportFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			case "csv":
				w := csv.NewWriter(os.Stdout)
				if err := w.Write([]string{report.GroupBy, "label", "status", "total_tokens", "cost_usd"}); err != nil {
					return err
				}
				for _, row := range report.Rows {
					record := []string{
						row.ID,
						row.Label,
						row.Status,
						strconv.FormatInt(row.Tokens, 10),
						strconv.FormatFloat(row.CostUSD, 'f', 4, 64),
					}
					if err := w.Write(record); err != nil {
						return err
					}
				}
				w.Flush()
				return w.Error()
			case "table":
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "%s\tSTATUS\tTOKENS\tCOST\tLABEL\n", strings.ToUpper(report.GroupBy))
				for _, row := range report.Rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t$%.4f\t%s\n",
						shortID(row.ID), statusColor(row.Status), row.Tokens,
						row.CostUSD, truncate(row.Label, 50))
				}
				fmt.Fprintf(w, "%s\t\t%d\t$%.4f\t\n", bold("TOTAL"), report.TotalTokens, report.TotalCost)
				return w.Flush()
			default:
				return fmt.Errorf("unknown format %q (want table, json or csv)", reportFormat)
			}
		})
	},
}

func init() {
	costReportCmd.Flags().StringVar(&reportFormat, "format", "table", "output format (table, json, csv)")
	costReportCmd.Flags().BoolVar(&reportByAgent, "by-agent", false, "group spend by agent")
	costReportCmd.Flags().BoolVar(&reportByRole, "by-role", false, "group spend by role")
}

const defaultConfigYAML = `# orchestrator configuration
server:
  host: 0.0.0.0
  port: 8080

database:
  driver: sqlite
  path: orchestrator.db

nats:
  # leave url empty to keep events in-process
  url: ""

agent:
  model: claude-sonnet-4-5
  workingDir: .
  logDir: agent_logs
  enableLogging: true
  permissionMode: bypassPermissions
  maxConcurrent: 8

planner:
  useAi: false
  model: claude-sonnet-4-5

orchestrator:
  monitorInterval: 15
  contextWarningRatio: 0.8

logging:
  level: info
  format: text
  outputPath: stdout
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat("config.yaml"); err == nil {
			return fmt.Errorf("config.yaml already exists")
		}
		if err := os.WriteFile("config.yaml", []byte(defaultConfigYAML), 0o644); err != nil {
			return fmt.Errorf("write config.yaml: %w", err)
		}
		fmt.Println(green("wrote config.yaml"))
		return nil
	},
}
