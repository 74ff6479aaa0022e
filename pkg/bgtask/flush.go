package bgtask

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// FlushTask periodically pushes buffered units to the collector, for
// long-lived hosts whose transactions stop rarely.
type FlushTask struct {
	m *BgTaskManager
}

func (m *BgTaskManager) addFlushTask() {
	m.bgTasks = append(m.bgTasks, &FlushTask{
		m: m,
	})
}

func (t *FlushTask) Run() {
	if err := t.m.exporter.Flush(context.Background()); err != nil {
		logrus.WithError(err).Warn("Pulse couldn't run the periodic flush")
	}
}

func (t *FlushTask) Start() {
	c := cron.New()
	_, err := c.AddJob("@every 1s", t)
	if err != nil {
		logrus.Warn("Pulse couldn't add the flush task")
		return
	}
	c.Start()
}
