package demo

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulseapm/pulse-go/pkg/agent"
	"github.com/pulseapm/pulse-go/pkg/bgtask"
	"github.com/pulseapm/pulse-go/pkg/config"
	"github.com/pulseapm/pulse-go/pkg/exporter"
	"github.com/pulseapm/pulse-go/pkg/model"
)

func New(vp *viper.Viper) *cobra.Command {
	demo := &cobra.Command{
		Use:   "demo",
		Short: "Generate synthetic transactions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			// init main context of `demo`
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
			defer cancel()

			cfg, err := config.New(vp)
			if err != nil {
				return err
			}

			intake := exporter.NewIntake(cfg)
			defer intake.Close()

			// init bgTaskManager
			bgTaskManager := bgtask.NewBgTaskManager(intake)
			bgTaskManager.StartAll()

			return run(ctx, cfg, intake)
		},
	}
	return demo
}

// run plays one synthetic request per tick, with faults sprinkled in.
func run(ctx context.Context, cfg *config.Config, exp exporter.Exporter) error {
	a, err := agent.New(cfg, exp)
	if err != nil {
		return err
	}
	a.ShutdownCtx = ctx

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			logrus.Info("Pulse demo stopped")
			return nil
		case <-ticker.C:
		}

		if err := produce(a, i); err != nil {
			return err
		}
	}
}

func produce(a *agent.Agent, i int) error {
	defer a.Recover()

	if _, err := a.StartTransaction("GET /demo", "request", ""); err != nil {
		return err
	}

	span, err := a.StartTrace("SELECT FROM demo", "db", agent.WithAction("query"))
	if err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	if err := a.StopTrace(span); err != nil {
		return err
	}

	if i%5 == 4 {
		a.NotifyException(errors.New("demo fault"))
	}

	tctx := &model.Context{User: model.User{ID: "demo", Username: "demo"}}
	tctx.SetTag("iteration", strconv.Itoa(i))
	return a.StopTransaction("HTTP 2xx", tctx)
}
