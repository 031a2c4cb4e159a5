package health

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/droverhq/drover/pkg/store"
)

// Host thresholds. Warning gives the operator time to react; critical
// means the fleet is already degrading.
const (
	cpuWarningPct     = 80.0
	cpuCriticalPct    = 95.0
	memoryWarningPct  = 80.0
	memoryCriticalPct = 95.0
	diskWarningPct    = 90.0
)

// HostChecker grades host CPU, memory, and disk utilization
type HostChecker struct{}

func (HostChecker) Name() string { return "host" }

func (HostChecker) Check(ctx context.Context) []Result {
	now := time.Now().UTC()
	var results []Result

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		results = append(results, gradeUsage("cpu", percents[0], cpuWarningPct, cpuCriticalPct, now))
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		results = append(results, gradeUsage("memory", vm.UsedPercent, memoryWarningPct, memoryCriticalPct, now))
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		results = append(results, gradeUsage("disk", du.UsedPercent, diskWarningPct, 101, now))
	}
	return results
}

func gradeUsage(component string, pct, warn, crit float64, now time.Time) Result {
	r := Result{
		Component: component,
		Severity:  SeverityInfo,
		Value:     pct,
		CheckedAt: now,
		Message:   fmt.Sprintf("%s at %.1f%%", component, pct),
	}
	switch {
	case pct >= crit:
		r.Severity = SeverityCritical
		r.Message = fmt.Sprintf("%s critically high: %.1f%%", component, pct)
	case pct >= warn:
		r.Severity = SeverityWarning
		r.Message = fmt.Sprintf("%s elevated: %.1f%%", component, pct)
	}
	return r
}

// StoreChecker pings the shared state store
type StoreChecker struct {
	Store store.Store
}

func (StoreChecker) Name() string { return "store" }

func (c StoreChecker) Check(ctx context.Context) []Result {
	now := time.Now().UTC()
	if err := c.Store.Ping(ctx); err != nil {
		return []Result{{
			Component: "store",
			Severity:  SeverityCritical,
			Message:   "state store unreachable: " + err.Error(),
			CheckedAt: now,
		}}
	}
	return []Result{{
		Component: "store",
		Severity:  SeverityInfo,
		Message:   "state store reachable",
		CheckedAt: now,
	}}
}

// FleetChecker watches the worker records: an empty fleet means no task
// will ever complete, and a worker pinned at high CPU is flagged.
type FleetChecker struct {
	Store store.Store
}

func (FleetChecker) Name() string { return "fleet" }

func (c FleetChecker) Check(ctx context.Context) []Result {
	now := time.Now().UTC()

	keys, err := c.Store.Keys(ctx, "workers:*")
	if err != nil {
		return []Result{{
			Component: "fleet",
			Severity:  SeverityWarning,
			Message:   "failed to enumerate workers: " + err.Error(),
			CheckedAt: now,
		}}
	}
	if len(keys) == 0 {
		return []Result{{
			Component: "fleet",
			Severity:  SeverityCritical,
			Message:   "no live workers",
			CheckedAt: now,
		}}
	}

	results := []Result{{
		Component: "fleet",
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("%d workers live", len(keys)),
		Value:     float64(len(keys)),
		CheckedAt: now,
	}}

	for _, key := range keys {
		record, err := c.Store.GetHash(ctx, key)
		if err != nil {
			continue
		}
		pct, err := strconv.ParseFloat(record["cpu_percent"], 64)
		if err != nil || pct < cpuCriticalPct {
			continue
		}
		results = append(results, Result{
			Component: "worker:" + record["id"],
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("worker %s running hot: %.1f%% CPU", record["id"], pct),
			Value:     pct,
			CheckedAt: now,
		})
	}
	return results
}
