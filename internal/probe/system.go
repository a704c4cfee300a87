package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"controlroom/internal/models"
)

// SystemChecker reads host resource usage. Targets: "cpu", "memory",
// "disk" or "disk:/path".
type SystemChecker struct {
	// Collection functions, replaced in tests.
	cpuPercent  func(ctx context.Context) (float64, error)
	memPercent  func(ctx context.Context) (float64, error)
	diskPercent func(ctx context.Context, path string) (float64, error)
}

// NewSystemChecker builds a checker backed by gopsutil.
func NewSystemChecker() *SystemChecker {
	return &SystemChecker{
		cpuPercent: func(ctx context.Context) (float64, error) {
			values, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil {
				return 0, err
			}
			if len(values) == 0 {
				return 0, errors.New("no cpu data returned")
			}
			return values[0], nil
		},
		memPercent: func(ctx context.Context) (float64, error) {
			v, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return v.UsedPercent, nil
		},
		diskPercent: func(ctx context.Context, path string) (float64, error) {
			u, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return 0, err
			}
			return u.UsedPercent, nil
		},
	}
}

// Check implements Checker.
func (c *SystemChecker) Check(ctx context.Context, p models.Probe) Observation {
	resource, arg, _ := strings.Cut(strings.TrimSpace(p.Target), ":")

	var (
		value float64
		err   error
	)
	switch strings.ToLower(resource) {
	case "cpu":
		value, err = c.cpuPercent(ctx)
	case "memory", "mem":
		value, err = c.memPercent(ctx)
	case "disk":
		if arg == "" {
			arg = "/"
		}
		value, err = c.diskPercent(ctx, arg)
	default:
		return failed(fmt.Errorf("unknown system resource %q", resource))
	}
	if err != nil {
		return failed(fmt.Errorf("collect %s: %w", resource, err))
	}
	return ok(value)
}
