package agent

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Inventory describes the machine an agent runs on
type Inventory struct {
	CPUModel   string
	CPUThreads int
	RAMBytes   uint64
	RAMFree    uint64
	OS         string
	Arch       string
}

// DetectInventory reads the CPU and memory of the current system. Fields
// that cannot be read are left at their zero values.
func DetectInventory() Inventory {
	inv := Inventory{
		CPUModel:   "Unknown",
		CPUThreads: runtime.NumCPU(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		inv.CPUModel = infos[0].ModelName
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		inv.CPUThreads = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		inv.RAMBytes = vm.Total
		inv.RAMFree = vm.Available
	}
	return inv
}

// FormatRAM formats RAM bytes to human-readable string
func FormatRAM(bytes uint64) string {
	gb := float64(bytes) / (1024 * 1024 * 1024)
	return fmt.Sprintf("%.1f GB", gb)
}

func (i Inventory) String() string {
	return fmt.Sprintf("%s (%d threads), %s RAM (%s free), %s/%s",
		i.CPUModel, i.CPUThreads, FormatRAM(i.RAMBytes), FormatRAM(i.RAMFree), i.OS, i.Arch)
}
