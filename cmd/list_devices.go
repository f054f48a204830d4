package cmd

import (
	"bytes"
	"fmt"

	"github.com/DavidPeicho/loupiote/tracer/gpu"
	"github.com/olekukonko/tablewriter"
	pscpu "github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/urfave/cli"
)

// List the host CPU and the available GPU adapters.
func ListDevices(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Device", "Type", "Details"})

	cpuInfo, err := pscpu.Info()
	if err != nil {
		return err
	}
	logical, err := pscpu.Counts(true)
	if err != nil {
		return err
	}
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return err
	}
	cpuName := "unknown"
	var clockSpeed float64
	if len(cpuInfo) != 0 {
		cpuName = cpuInfo[0].ModelName
		clockSpeed = cpuInfo[0].Mhz / 1000
	}
	table.Append([]string{
		cpuName,
		"cpu",
		fmt.Sprintf("%d lanes, %.1f GHz, %d MiB RAM", logical, clockSpeed, memInfo.Total/(1024*1024)),
	})

	adapters, err := gpu.ListAdapters()
	if err != nil {
		logger.Warningf("could not enumerate gpu adapters: %v", err)
	}
	for _, adapter := range adapters {
		table.Append([]string{adapter.Name, adapter.Type, "vulkan"})
	}

	table.Render()
	logger.Noticef("system provides %d gpu adapter(s)\n%s", len(adapters), buf.String())
	return nil
}
