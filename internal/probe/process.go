package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"controlroom/internal/models"
)

// ProcessInfo describes one process reported by a process manager.
type ProcessInfo struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	CPU      float64 `json:"cpu"`
	Memory   int64   `json:"memory"`
	UptimeMs int64   `json:"uptime_ms"`
}

// ProcessSummary is the raw value of a process-list probe.
type ProcessSummary struct {
	Online    int           `json:"online"`
	Total     int           `json:"total"`
	Processes []ProcessInfo `json:"processes"`
}

// rawProcess accepts both pm2 jlist records and flat records.
type rawProcess struct {
	Name   string   `json:"name"`
	Status string   `json:"status"`
	CPU    *float64 `json:"cpu"`
	Memory *float64 `json:"memory"`
	Uptime *float64 `json:"uptime"`
	PM2Env *struct {
		Status   string  `json:"status"`
		PMUptime float64 `json:"pm_uptime"`
	} `json:"pm2_env"`
	Monit *struct {
		CPU    float64 `json:"cpu"`
		Memory float64 `json:"memory"`
	} `json:"monit"`
}

// ProcessChecker inspects a process manager through an HTTP endpoint or a
// command such as `pm2 jlist`.
type ProcessChecker struct {
	client *http.Client
	runner CommandRunner
	now    func() time.Time
}

// NewProcessChecker builds a checker. A nil client gets the default pooled one.
func NewProcessChecker(client *http.Client, runner CommandRunner) *ProcessChecker {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &ProcessChecker{client: client, runner: runner, now: time.Now}
}

// Check implements Checker. Every process online is ok; anything else the
// manager reports is degraded.
func (c *ProcessChecker) Check(ctx context.Context, p models.Probe) Observation {
	payload, err := c.fetch(ctx, p.Target)
	if err != nil {
		return failed(err)
	}
	summary, err := ParseProcessList(payload, c.now())
	if err != nil {
		return parseFailed(err)
	}

	switch {
	case summary.Total == 0:
		return Observation{Outcome: models.OutcomeDegraded, Value: summary, Err: errors.New("no processes reported")}
	case summary.Online < summary.Total:
		return Observation{
			Outcome: models.OutcomeDegraded,
			Value:   summary,
			Err:     fmt.Errorf("%d of %d processes not online: %s", summary.Total-summary.Online, summary.Total, strings.Join(offline(summary), ", ")),
		}
	default:
		return ok(summary)
	}
}

func (c *ProcessChecker) fetch(ctx context.Context, target string) ([]byte, error) {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if c.runner == nil {
			return nil, errors.New("no command runner configured")
		}
		return c.runner.Run(ctx, target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// ParseProcessList decodes a list of processes. Noise before the JSON
// document is skipped, including pm2 banner lines such as "[PM2] Spawning".
func ParseProcessList(payload []byte, now time.Time) (ProcessSummary, error) {
	raws, err := decodeProcesses(payload)
	if err != nil {
		return ProcessSummary{}, err
	}

	summary := ProcessSummary{Processes: make([]ProcessInfo, 0, len(raws))}
	for _, raw := range raws {
		info := ProcessInfo{Name: raw.Name, Status: raw.Status}
		if raw.CPU != nil {
			info.CPU = *raw.CPU
		}
		if raw.Memory != nil {
			info.Memory = int64(*raw.Memory)
		}
		if raw.Uptime != nil {
			info.UptimeMs = int64(*raw.Uptime)
		}
		if raw.PM2Env != nil {
			if info.Status == "" {
				info.Status = raw.PM2Env.Status
			}
			if raw.PM2Env.PMUptime > 0 && strings.EqualFold(info.Status, "online") {
				info.UptimeMs = now.UnixMilli() - int64(raw.PM2Env.PMUptime)
			}
		}
		if raw.Monit != nil {
			info.CPU = raw.Monit.CPU
			info.Memory = int64(raw.Monit.Memory)
		}
		if strings.EqualFold(info.Status, "online") {
			summary.Online++
		}
		summary.Processes = append(summary.Processes, info)
	}
	summary.Total = len(summary.Processes)
	return summary, nil
}

// decodeProcesses tries every line that opens with '[' or '{' until one
// decodes as a process list or a {"processes": [...]} wrapper.
func decodeProcesses(payload []byte) ([]rawProcess, error) {
	var firstErr error
	for offset := 0; offset < len(payload); {
		lineEnd := bytes.IndexByte(payload[offset:], '\n')
		next := len(payload)
		if lineEnd >= 0 {
			next = offset + lineEnd + 1
		}
		start := offset
		for start < next && (payload[start] == ' ' || payload[start] == '\t' || payload[start] == '\r') {
			start++
		}
		if start < next && (payload[start] == '[' || payload[start] == '{') {
			raws, err := decodeProcessDocument(payload[start:])
			if err == nil {
				return raws, nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		offset = next
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, errors.New("no JSON document in output")
}

func decodeProcessDocument(doc []byte) ([]rawProcess, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	if doc[0] == '{' {
		var wrapped struct {
			Processes []rawProcess `json:"processes"`
		}
		if err := dec.Decode(&wrapped); err != nil {
			return nil, err
		}
		return wrapped.Processes, nil
	}
	var raws []rawProcess
	if err := dec.Decode(&raws); err != nil {
		return nil, err
	}
	return raws, nil
}

func offline(summary ProcessSummary) []string {
	names := make([]string, 0, summary.Total-summary.Online)
	for _, p := range summary.Processes {
		if !strings.EqualFold(p.Status, "online") {
			names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Status))
		}
	}
	return names
}
