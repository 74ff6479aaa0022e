package config

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// for Log

func initLogrus(_ *viper.Viper) {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: time.DateTime,
	})
	if Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// PathPayloadLog receives raw intake payloads in debug mode.
const PathPayloadLog = "/tmp/pulse_payload.log.json"

var (
	payloadOnce sync.Once
	payloadLog  *logrus.Logger
)

// PayloadLog returns the JSON file logger for raw intake payloads,
// opened on first use.
func PayloadLog() *logrus.Logger {
	payloadOnce.Do(func() {
		payloadLog = initFileLog(PathPayloadLog)
	})
	return payloadLog
}

func initFileLog(path string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.DateTime,
	})
	tmpLog, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logrus.WithError(err).Warnf("Pulse couldn't open %s, payload logging disabled", path)
		logger.SetOutput(io.Discard)
		return logger
	}
	logger.SetOutput(tmpLog)
	return logger
}

func init() {
	initLogrus(nil)
}
