package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"evtrack/internal/config"
	"evtrack/internal/httpapi"
	"evtrack/internal/logger"
	"evtrack/pkg/api"
	"evtrack/pkg/model"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API, with live capture when cdp.devtools_url is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, cfg, l, err := openService(ctx, cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			if addr == "" {
				addr = cfg.HTTP.Addr
			}

			srv := httpapi.New(svc, httpapi.Options{
				AllowedOrigins: cfg.HTTP.AllowedOrigins,
				SandboxRate:    cfg.HTTP.SandboxRate,
			}, l.With("component", "http"))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
			g.Go(func() error { return logEvents(gctx, svc.SubscribeEvents(), l) })
			if cfg.CDP.DevToolsURL != "" {
				g.Go(func() error { return capture(gctx, cfg, svc, l) })
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to http.addr)")
	return cmd
}

// capture 附加到浏览器并持续接收信号；浏览器断开只记录日志，不影响管理接口
func capture(ctx context.Context, cfg *config.Config, svc api.Service, l logger.Logger) error {
	m, err := attach(ctx, cfg, "", svc, l)
	if err != nil {
		l.Error("附加浏览器失败，仅提供管理接口", "devtoolsURL", cfg.CDP.DevToolsURL, "error", err)
		return nil
	}
	defer m.Detach()
	if err := m.Enable(ctx); err != nil {
		l.Error("启用采集失败", "error", err)
		return nil
	}
	select {
	case <-ctx.Done():
	case <-m.Done():
		l.Warn("浏览器连接已断开，停止采集")
	}
	return nil
}

func logEvents(ctx context.Context, events <-chan model.Event, l logger.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			l.Info("通知事件", "type", ev.Type, "key", ev.Fingerprint, "name", ev.Name, "sessionID", string(ev.Session))
		}
	}
}
