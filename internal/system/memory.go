package system

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// Memory is a snapshot of host memory usage.
type Memory struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// ReadMemory samples host memory.
func ReadMemory() (Memory, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, fmt.Errorf("reading memory statistics: %w", err)
	}
	return Memory{
		Total:       vm.Total,
		Available:   vm.Available,
		Used:        vm.Used,
		UsedPercent: vm.UsedPercent,
	}, nil
}

// String renders m as "<used> used of <total> (<pct>% used, <avail> available)".
func (m Memory) String() string {
	return fmt.Sprintf("%s used of %s (%.0f%% used, %s available)",
		FormatSize(int64(m.Used)), FormatSize(int64(m.Total)), m.UsedPercent,
		FormatSize(int64(m.Available)))
}
