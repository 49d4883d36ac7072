package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"evtrack/internal/cdp"
	"evtrack/internal/config"
	"evtrack/internal/logger"
	"evtrack/internal/selector"
	"evtrack/pkg/model"
)

var errBrowserClosed = errors.New("browser connection closed")

func newRecordCmd() *cobra.Command {
	var (
		target     string
		newSession bool
		keep       bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Attach to Chrome and record interactions until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, cfg, l, err := openService(ctx, cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			m, err := attach(ctx, cfg, target, svc, l)
			if err != nil {
				return err
			}
			defer m.Detach()
			if err := m.Enable(ctx); err != nil {
				return err
			}

			id, err := svc.StartRecording(ctx, newSession)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recording session %s, press Ctrl+C to stop\n", id)

			err = printEvents(ctx, out, svc.SubscribeEvents(), m.Done())
			if !keep {
				if serr := svc.StopRecording(context.WithoutCancel(ctx)); serr != nil {
					return serr
				}
				fmt.Fprintf(out, "stopped session %s\n", id)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "DevTools target ID (defaults to cdp.target or the first page)")
	cmd.Flags().BoolVar(&newSession, "new-session", false, "Clear the duplicate index and start a fresh session")
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave the recording flag set on exit so the next run resumes")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "inspect CSS",
		Short: "Resolve an element in the attached page and print its stable selector and event keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, l, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m, err := attach(ctx, cfg, target, nil, l)
			if err != nil {
				return err
			}
			defer m.Detach()

			el, err := m.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			sel := selector.New(cfg.Recorder.TrackingAttributes...).Synthesize(el)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "selector: %s\n", sel)
			for _, k := range []model.Kind{model.KindClick, model.KindInputChange, model.KindHover} {
				fmt.Fprintf(out, "%-13s %s\n", string(k)+":", model.Fingerprint(k, sel))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "DevTools target ID (defaults to cdp.target or the first page)")
	return cmd
}

// attach 连接浏览器并附加到目标页面
func attach(ctx context.Context, cfg *config.Config, target string, pub cdp.Publisher, l logger.Logger) (*cdp.Manager, error) {
	url := cfg.CDP.DevToolsURL
	if url == "" {
		url = cdp.DefaultDevToolsURL
	}
	if target == "" {
		target = cfg.CDP.Target
	}
	m := cdp.New(url, pub, l.With("component", "cdp"))
	if err := m.AttachTarget(ctx, target); err != nil {
		return nil, err
	}
	return m, nil
}

// printEvents 打印通知事件，直到 ctx 结束或浏览器断开
func printEvents(ctx context.Context, w io.Writer, events <-chan model.Event, done <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return errBrowserClosed
		case ev := <-events:
			fmt.Fprintln(w, formatEvent(ev))
		}
	}
}

func formatEvent(ev model.Event) string {
	switch {
	case ev.Candidate != nil:
		c := ev.Candidate
		mark := " "
		if c.IsTracked {
			mark = "*"
		}
		return fmt.Sprintf("%s %-10s %-13s %-30q %s", mark, ev.Type, c.Kind, c.DisplayName, c.Fingerprint)
	case ev.Error != "":
		return fmt.Sprintf("! %-10s %s: %s", ev.Type, ev.Fingerprint, ev.Error)
	default:
		return fmt.Sprintf("  %-10s %-13s %-30q %s", ev.Type, "", ev.Name, ev.Fingerprint)
	}
}
