package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port    int
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]interface{}{}
			if cmd.Flags().Changed("port") {
				overrides["server.port"] = port
			}
			if cmd.Flags().Changed("publish") {
				overrides["publish.enabled"] = publish
			}
			return a.serve(cmd.Context(), overrides)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&publish, "publish", false, "open pull requests for validated fixes (overrides publish.enabled)")
	return cmd
}

func (a *app) serve(ctx context.Context, overrides map[string]interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, cfg, err := a.loadConfig(ctx, overrides)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(ctx, cfg, runtimeOptions{liveFeed: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := server.NewServer(cfg, server.Deps{
		Intake: rt.handler,
		RunLog: rt.runLog,
		Hub:    rt.hub,
		Audit:  rt.audit,
		Logger: rt.logger,
		Ping:   rt.ping,
	})
	if err != nil {
		return err
	}

	go rt.pruneLoop(ctx)
	go srv.ApplyConfigUpdates(ctx, mgr.Watch(ctx))

	if err := srv.Start(); err != nil {
		return err
	}
	rt.logger.Info("dr-kube started",
		zap.String("addr", srv.Addr()),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("publish", rt.machine.Publishing()),
		zap.String("cost_mode", cfg.Admission.CostMode),
		zap.String("store", cfg.Store.Backend),
	)

	// Stop on signal or when the listener fails.
	go func() {
		srv.Wait()
		stop()
	}()
	<-ctx.Done()

	rt.logger.Info("received shutdown signal")
	_ = srv.Stop()
	rt.handler.Close()
	rt.logger.Info("shutdown complete")
	return nil
}
