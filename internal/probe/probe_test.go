package probe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/shirou/gopsutil/v3/host"
)

func fixed(v float64, err error) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, err }
}

func TestCollectAllSources(t *testing.T) {
	c := &Collector{
		DiskPath:    "/data",
		cpuPercent:  fixed(12.5, nil),
		ramPercent:  fixed(40, nil),
		diskFree:    func(_ context.Context, path string) (float64, error) { return 75, nil },
		temperature: fixed(51, nil),
	}
	got, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := models.Metrics{CPUPercent: 12.5, RAMPercent: 40, DiskFreePercent: 75, TemperatureC: 51}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCollectPartialFailure(t *testing.T) {
	c := &Collector{
		DiskPath:    "/missing",
		cpuPercent:  fixed(90, nil),
		ramPercent:  fixed(0, errors.New("permission denied")),
		diskFree:    func(context.Context, string) (float64, error) { return 0, errors.New("no such file") },
		temperature: fixed(0, nil),
	}
	got, err := c.Collect(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "memory") || !strings.Contains(err.Error(), "/missing") {
		t.Fatalf("error should name the failing sources: %v", err)
	}
	if got.CPUPercent != 90 {
		t.Fatalf("working sources must still report, got %+v", got)
	}
}

func TestHottest(t *testing.T) {
	stats := []host.TemperatureStat{
		{SensorKey: "coretemp_core0", Temperature: 48},
		{SensorKey: "coretemp_core1", Temperature: 63.5},
		{SensorKey: "nvme_composite", Temperature: 41},
	}
	if got := hottest(stats); got != 63.5 {
		t.Fatalf("expected 63.5, got %v", got)
	}
	if got := hottest(nil); got != 0 {
		t.Fatalf("expected 0 without sensors, got %v", got)
	}
}
