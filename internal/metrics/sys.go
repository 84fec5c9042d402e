package metrics

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"time"
)

// SysHealth is a snapshot of process and storage health.
type SysHealth struct {
	AllocMB      uint64
	SysMB        uint64
	NumGC        uint32
	Goroutines   int
	DataDiskSize string
	PlanCount    int64
	RecipeCount  int64
	CollectedAt  time.Time
}

// GetSysHealth collects runtime figures and the on-disk size of dataPath.
// Plan and recipe counts are filled in by the caller.
func GetSysHealth(dataPath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SysHealth{
		AllocMB:      m.Alloc / 1024 / 1024,
		SysMB:        m.Sys / 1024 / 1024,
		NumGC:        m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		DataDiskSize: humanBytes(dirSize(dataPath)),
		CollectedAt:  time.Now().UTC(),
	}
}

func (h SysHealth) String() string {
	return fmt.Sprintf("plans=%d recipes=%d alloc=%dMB sys=%dMB gc=%d goroutines=%d data=%s",
		h.PlanCount, h.RecipeCount, h.AllocMB, h.SysMB, h.NumGC, h.Goroutines, h.DataDiskSize)
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

func humanBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
