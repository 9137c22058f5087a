// Package probe reads the local host's vitals for the fleetctl agent.
package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Collector samples cpu, memory, free disk and temperature. Each source is
// read independently; a failing source reports zero and its error is joined
// into the returned error alongside the partial metrics.
type Collector struct {
	DiskPath string

	cpuPercent  func(ctx context.Context) (float64, error)
	ramPercent  func(ctx context.Context) (float64, error)
	diskFree    func(ctx context.Context, path string) (float64, error)
	temperature func(ctx context.Context) (float64, error)
}

func NewCollector(diskPath string) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{
		DiskPath:    diskPath,
		cpuPercent:  hostCPU,
		ramPercent:  hostRAM,
		diskFree:    hostDiskFree,
		temperature: hostTemperature,
	}
}

func (c *Collector) Collect(ctx context.Context) (models.Metrics, error) {
	var (
		m    models.Metrics
		errs []error
		err  error
	)
	if m.CPUPercent, err = c.cpuPercent(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	}
	if m.RAMPercent, err = c.ramPercent(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	}
	if m.DiskFreePercent, err = c.diskFree(ctx, c.DiskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk %s: %w", c.DiskPath, err))
	}
	if m.TemperatureC, err = c.temperature(ctx); err != nil {
		errs = append(errs, fmt.Errorf("temperature: %w", err))
	}
	return m, errors.Join(errs...)
}

func hostCPU(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errors.New("no cpu reading")
	}
	return pct[0], nil
}

func hostRAM(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func hostDiskFree(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return 100 - u.UsedPercent, nil
}

// hostTemperature reports the hottest sensor. Hosts without sensors report 0.
func hostTemperature(ctx context.Context) (float64, error) {
	stats, err := host.SensorsTemperaturesWithContext(ctx)
	if len(stats) > 0 {
		// partial readings come back together with a warnings error
		return hottest(stats), nil
	}
	return 0, err
}

func hottest(stats []host.TemperatureStat) float64 {
	var max float64
	for _, s := range stats {
		if s.Temperature > max {
			max = s.Temperature
		}
	}
	return max
}
