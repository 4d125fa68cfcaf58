package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"blockfs/pkg/client"
	"blockfs/pkg/types"
	"blockfs/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	primaryColor = lipgloss.Color("#7571f9")
	successColor = lipgloss.Color("#42c767")
	warningColor = lipgloss.Color("#ff9f43")
	dangerColor  = lipgloss.Color("#ff6b6b")
	mutedColor   = lipgloss.Color("#6c757d")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1).
			MarginBottom(1)

	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(20)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	dangerStyle  = lipgloss.NewStyle().Foreground(dangerColor).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
)

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cluster status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				stats, err := c.Stats(ctx)
				if err != nil {
					if !jsonOutput {
						fmt.Println(dangerStyle.Render("Coordinator Unreachable") + "\n" + mutedStyle.Render(err.Error()))
					}
					return err
				}
				workers, err := c.Workers(ctx)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(struct {
						Stats   types.Stats    `json:"stats"`
						Workers []types.Worker `json:"workers"`
					}{stats, workers})
				}

				fmt.Println(titleStyle.Render("BLOCKFS STATUS"))
				fmt.Println(renderSummary(stats))
				if len(workers) == 0 {
					fmt.Println(warningStyle.Render("No workers registered"))
					return nil
				}
				fmt.Println(renderWorkers(workers, time.Now()))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print status as JSON")
	return cmd
}

func renderSummary(s types.Stats) string {
	usage := 0.0
	if s.CapacityBytes > 0 {
		usage = float64(s.UsedBytes) / float64(s.CapacityBytes) * 100
	}

	health := successStyle.Render("HEALTHY")
	switch {
	case s.ActiveWorkers < s.ReplicationFactor:
		health = dangerStyle.Render("DEGRADED")
	case s.UnderReplicated > 0:
		health = warningStyle.Render("REPAIRING")
	}

	rows := [][2]string{
		{"Health", health},
		{"Workers", fmt.Sprintf("%d active / %d total", s.ActiveWorkers, s.Workers)},
		{"Files", fmt.Sprintf("%d in %d directories", s.Files, s.Directories)},
		{"Blocks", fmt.Sprintf("%d (%d under-replicated)", s.Blocks, s.UnderReplicated)},
		{"Replication", fmt.Sprintf("%dx, %s blocks", s.ReplicationFactor, utils.FormatDataSize(s.BlockSize))},
		{"Capacity", fmt.Sprintf("%s of %s", utils.FormatDataSize(s.UsedBytes), utils.FormatDataSize(s.CapacityBytes))},
		{"Usage", renderUsageBar(usage, 30)},
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r[0])+r[1])
	}
	return sectionStyle.Render(strings.Join(lines, "\n"))
}

func renderUsageBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(float64(width) * percent / 100)
	empty := width - filled

	color := successColor
	if percent > 85 {
		color = dangerColor
	} else if percent > 70 {
		color = warningColor
	}

	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(lipgloss.Color("#333333")).Render(strings.Repeat("░", empty))
	return fmt.Sprintf("%s %.1f%%", bar, percent)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primaryColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().
					Foreground(lipgloss.Color("#ffffff")).
					Bold(true).
					Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func renderWorkers(workers []types.Worker, now time.Time) string {
	t := newTable("WORKER", "STATE", "CAPACITY", "USED", "FREE", "LAST SEEN")
	for _, w := range workers {
		state := successStyle.Render("ACTIVE")
		if !w.IsActive() {
			state = dangerStyle.Render("INACTIVE")
		}
		t.Row(
			string(w.ID),
			state,
			utils.FormatDataSize(w.CapacityBytes),
			utils.FormatDataSize(w.UsedBytes),
			utils.FormatDataSize(w.FreeBytes()),
			formatAge(now.Sub(w.LastHeartbeat)),
		)
	}
	return t.Render()
}

func renderLayout(layout *types.FileLayout) string {
	header := fmt.Sprintf("%s  %s  %s  owner=%s",
		layout.File.Path,
		utils.FormatDataSize(layout.File.Size),
		layout.File.State,
		layout.File.Owner)

	t := newTable("#", "BLOCK", "SIZE", "STATE", "LEADER", "FOLLOWERS", "CONFIRMED")
	for _, b := range layout.Blocks {
		followers := make([]string, 0, len(b.Replicas))
		for _, r := range b.Replicas[min(1, len(b.Replicas)):] {
			followers = append(followers, string(r))
		}
		t.Row(
			fmt.Sprintf("%d", b.Index),
			string(b.ID),
			utils.FormatDataSize(b.Size),
			string(b.State),
			string(b.Leader()),
			strings.Join(followers, ", "),
			fmt.Sprintf("%d/%d", len(b.Confirmations), len(b.Replicas)),
		)
	}
	return titleStyle.Render(header) + "\n" + t.Render()
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

func pruneWorkersCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "prune-workers",
		Short: "Forget inactive workers that have been silent for too long",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				removed, err := c.PruneWorkers(ctx, maxAge)
				if err != nil {
					return err
				}
				if len(removed) == 0 {
					fmt.Println(mutedStyle.Render("No workers pruned"))
					return nil
				}
				for _, id := range removed {
					fmt.Printf("Pruned %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "minimum silence before an inactive worker is removed")
	return cmd
}
