package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/pipeline-console/internal/apiclient"
	"github.com/wolfeidau/pipeline-console/internal/config"
	"github.com/wolfeidau/pipeline-console/internal/console"
)

type PipelinesCmd struct {
	List PipelinesListCmd `cmd:"" help:"List pipelines"`
	Run  PipelinesRunCmd  `cmd:"" help:"Trigger a pipeline run"`
}

type PipelinesListCmd struct {
	Status string `help:"Pipeline status to filter by (healthy, degraded, failed, running)" default:""`
}

func (p *PipelinesListCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireFeature(config.FeaturePipelines); err != nil {
		return err
	}

	pipelines, err := a.console.Pipelines.List(ctx, console.PipelineFilter{Status: p.Status})
	if err != nil {
		return fmt.Errorf("failed to list pipelines: %w", err)
	}

	if len(pipelines) == 0 {
		fmt.Fprintln(a.out, "No pipelines found.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tHEALTH\tLAST RUN")
	for _, pl := range pipelines {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\n",
			pl.ID, pl.Name, pl.Status, pl.HealthScore*100, pl.LastRunAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

type PipelinesRunCmd struct {
	ID string `arg:"" help:"Pipeline ID"`
}

func (p *PipelinesRunCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireFeature(config.FeaturePipelines); err != nil {
		return err
	}

	run, err := a.console.Pipelines.Run(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to run pipeline: %w", err)
	}

	fmt.Fprintf(a.out, "Started run %s for %s (%s)\n", run.RunID, run.PipelineID, run.Status)
	return nil
}

type AlertsCmd struct {
	List AlertsListCmd `cmd:"" help:"List alerts"`
	Ack  AlertsAckCmd  `cmd:"" help:"Acknowledge an alert"`
}

type AlertsListCmd struct {
	Severity string `help:"Severity to filter by (critical, warning, info)" default:""`
	Open     bool   `help:"Only show unacknowledged alerts"`
}

func (l *AlertsListCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireFeature(config.FeatureAlerts); err != nil {
		return err
	}

	alerts, err := a.console.Alerts.List(ctx, console.AlertFilter{Severity: l.Severity, Unacknowledged: l.Open})
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	if len(alerts) == 0 {
		fmt.Fprintln(a.out, "No alerts found.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPIPELINE\tSEVERITY\tACK\tMESSAGE")
	for _, al := range alerts {
		ack := ""
		if al.Acknowledged {
			ack = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", al.ID, al.PipelineID, al.Severity, ack, al.Message)
	}
	return w.Flush()
}

type AlertsAckCmd struct {
	ID string `arg:"" help:"Alert ID"`
}

func (c *AlertsAckCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireFeature(config.FeatureAlerts); err != nil {
		return err
	}

	alert, err := a.console.Alerts.Acknowledge(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	at := ""
	if alert.AcknowledgedAt != nil {
		at = " at " + alert.AcknowledgedAt.Local().Format(time.RFC3339)
	}
	fmt.Fprintf(a.out, "Alert %s acknowledged by %s%s\n", alert.ID, alert.AcknowledgedBy, at)
	return nil
}

type GetCmd struct {
	Path   string   `arg:"" help:"API path, relative to the base URL"`
	Params []string `short:"p" name:"param" help:"Query parameter as key=value"`
}

func (g *GetCmd) Run(ctx context.Context, globals *Globals) error {
	params := url.Values{}
	for _, p := range g.Params {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("invalid parameter %q, expected key=value", p)
		}
		params.Add(k, v)
	}

	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.ctrl.Client().Do(ctx, apiclient.NewRequest(http.MethodGet, g.Path, nil, apiclient.WithParams(params)))
	if err != nil {
		return err
	}

	if !resp.HasData() {
		fmt.Fprintln(a.out, resp.Message)
		return nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, resp.Data, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	buf.WriteByte('\n')

	_, err = buf.WriteTo(a.out)
	return err
}
