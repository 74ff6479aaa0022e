package bgtask

import (
	"github.com/pulseapm/pulse-go/pkg/exporter"
)

// BgTaskManager manages background periodical tasks.
// Includes:
// - Flush buffered intake units
// - Log a delivery summary
type BgTaskManager struct {
	bgTasks  []BgTask
	exporter exporter.Exporter
}

type BgTask interface {
	Start()
}

func NewBgTaskManager(exp exporter.Exporter) *BgTaskManager {
	m := &BgTaskManager{
		bgTasks:  make([]BgTask, 0),
		exporter: exp,
	}
	m.addFlushTask()
	m.addStatsTask()
	return m
}

func (m *BgTaskManager) StartAll() {
	for _, task := range m.bgTasks {
		task.Start()
	}
}
