package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"controlroom/internal/models"
)

func newCheckCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one cycle, print the results and exit",
		Long:  "Runs every configured probe once. Exits with code 2 when the overall status is critical.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			snap, err := a.aggregator.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			switch output {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(snap); err != nil {
					return err
				}
			case "table":
				if err := renderSnapshot(cmd.OutOrStdout(), a.registry.List(), snap); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown output format %q", output)
			}

			if snap.OverallStatus == models.StatusCritical {
				return &exitError{code: 2, msg: "overall status critical"}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	return cmd
}

func renderSnapshot(w io.Writer, probes []models.Probe, snap models.AggregateSnapshot) error {
	order := make(map[string]int, len(probes))
	names := make(map[string]string, len(probes))
	for i, p := range probes {
		order[p.ID] = i
		names[p.ID] = p.DisplayName()
	}
	ids := make([]string, 0, len(snap.PerProbe))
	for id := range snap.PerProbe {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return order[ids[i]] < order[ids[j]] })

	table := tablewriter.NewWriter(w)
	table.Header("Probe", "Kind", "Outcome", "Latency", "Value", "Error")
	for _, id := range ids {
		res := snap.PerProbe[id]
		latency := "-"
		if res.LatencyMs != nil {
			latency = fmt.Sprintf("%dms", *res.LatencyMs)
		}
		value := "-"
		if v, ok := res.Value(); ok {
			value = fmt.Sprintf("%.2f", v)
		}
		errMsg := ""
		if res.ErrorMessage != nil {
			errMsg = *res.ErrorMessage
		}
		if err := table.Append(names[id], string(res.Kind), string(res.Outcome), latency, value, errMsg); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nOverall: %d (%s), %d/%d healthy, cycle %dms\n",
		snap.OverallScore, snap.OverallStatus, snap.HealthyCount, snap.TotalCount, snap.DurationMs)
	return err
}

