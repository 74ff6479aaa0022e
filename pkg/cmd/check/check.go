package check

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pulseapm/pulse-go/pkg/agent"
	"github.com/pulseapm/pulse-go/pkg/config"
	"github.com/pulseapm/pulse-go/pkg/exporter"
)

var (
	// exporter selection
	checkOpts struct {
		exporter string
	}

	checkFlags = pflag.NewFlagSet("check", pflag.ContinueOnError)
)

func init() {
	checkFlags.StringVar(&checkOpts.exporter, "exporter", "intake",
		"Exporter to exercise: intake, otlp or stdout")
}

func New(vp *viper.Viper) *cobra.Command {
	check := &cobra.Command{
		Use:   "check",
		Short: "Send one synthetic transaction to the configured collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(vp)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	check.Flags().AddFlagSet(checkFlags)
	return check
}

// run plays a small transaction tree through the chosen exporter and
// fails when delivery did.
func run(ctx context.Context, cfg *config.Config) error {
	exp, shutdown, err := buildExporter(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	a, err := agent.New(cfg, exp)
	if err != nil {
		return err
	}
	a.ShutdownCtx = ctx

	if _, err := a.StartTransaction("pulse-check", "self-test", ""); err != nil {
		return err
	}
	outer, err := a.StartTrace("connectivity", "check")
	if err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	inner, err := a.StartTrace("handshake", "check", agent.WithAction("ping"))
	if err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	if err := a.StopTrace(inner); err != nil {
		return err
	}
	if err := a.StopTrace(outer); err != nil {
		return err
	}
	if err := a.StopTransaction("success", nil); err != nil {
		return err
	}

	if provider, ok := exp.(exporter.StatsProvider); ok {
		s := provider.Stats()
		if s.Failures > 0 {
			return fmt.Errorf("collector at %s rejected the check payload", cfg.ServerURL)
		}
		logrus.WithFields(logrus.Fields{
			"transactions": s.Transactions,
			"spans":        s.Spans,
		}).Info("Pulse reached the collector")
	}
	return nil
}

func buildExporter(ctx context.Context, cfg *config.Config) (exporter.Exporter, func(), error) {
	switch checkOpts.exporter {
	case "intake":
		intake := exporter.NewIntake(cfg)
		return intake, intake.Close, nil
	case "otlp":
		bridge, err := exporter.NewGRPCBridge(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return bridge, bridgeShutdown(ctx, bridge), nil
	case "stdout":
		bridge, err := exporter.NewStdoutBridge(cfg)
		if err != nil {
			return nil, nil, err
		}
		return bridge, bridgeShutdown(ctx, bridge), nil
	default:
		return nil, nil, fmt.Errorf("unknown exporter %q", checkOpts.exporter)
	}
}

func bridgeShutdown(ctx context.Context, bridge *exporter.Bridge) func() {
	return func() {
		if err := bridge.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("Pulse couldn't shut the bridge down")
		}
	}
}
