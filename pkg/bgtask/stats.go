package bgtask

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/pulseapm/pulse-go/pkg/exporter"
)

// StatsTask logs a periodic delivery summary for exporters that count.
type StatsTask struct {
	m *BgTaskManager
}

func (m *BgTaskManager) addStatsTask() {
	m.bgTasks = append(m.bgTasks, &StatsTask{
		m: m,
	})
}

func (t *StatsTask) Run() {
	provider, ok := t.m.exporter.(exporter.StatsProvider)
	if !ok {
		return
	}
	s := provider.Stats()
	logrus.WithFields(logrus.Fields{
		"transactions": s.Transactions,
		"spans":        s.Spans,
		"errors":       s.Errors,
		"dropped":      s.Dropped,
		"failures":     s.Failures,
	}).Info("Pulse delivery summary")
}

func (t *StatsTask) Start() {
	c := cron.New()
	_, err := c.AddJob("@every 30s", t)
	if err != nil {
		logrus.Warn("Pulse couldn't add the stats task")
		return
	}
	c.Start()
}
