package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"evtrack/pkg/api"
	"evtrack/pkg/model"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List and curate recorded events",
	}
	cmd.AddCommand(newEventsListCmd())
	cmd.AddCommand(newEventsActionCmd("track", "Mark an event as tracked", api.Service.Track))
	cmd.AddCommand(newEventsActionCmd("ignore", "Mark an event as ignored", api.Service.Ignore))
	cmd.AddCommand(newEventsActionCmd("delete", "Untrack an event and delete its record", api.Service.Untrack))
	cmd.AddCommand(newEventsAliasCmd())
	return cmd
}

func newEventsListCmd() *cobra.Command {
	var (
		status  string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List event records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc api.Service) error {
				events, err := svc.ListEvents(ctx, model.Status(status))
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), events)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tTYPE\tNAME\tALIAS\tSTATUS\tLAST SEEN")
				for _, ev := range events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						ev.Fingerprint, ev.Kind, ev.Name, ev.Alias, ev.Status, ev.LastSeen.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending|tracked|ignored)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}

func newEventsActionCmd(use, short string, fn func(api.Service, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " KEY",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc api.Service) error {
				if err := fn(svc, ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", use, args[0])
				return nil
			})
		},
	}
}

func newEventsAliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alias KEY [ALIAS]",
		Short: "Set the name a tracked event is forwarded under (empty clears it)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := ""
			if len(args) == 2 {
				alias = args[1]
			}
			return withService(cmd, func(ctx context.Context, svc api.Service) error {
				if err := svc.SetAlias(ctx, args[0], alias); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "alias: %s -> %q\n", args[0], alias)
				return nil
			})
		},
	}
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and delete recording sessions",
	}

	var jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List recording sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc api.Service) error {
				sessions, err := svc.ListSessions(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), sessions)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tSTARTED\tEVENTS\tACTIVE")
				for _, s := range sessions {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", s.ID, s.StartedAt.Format(time.RFC3339), s.Events, s.Active)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")

	del := &cobra.Command{
		Use:   "delete SESSION_ID",
		Short: "Delete the pending records captured in a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc api.Service) error {
				n, err := svc.DeleteSession(ctx, model.SessionID(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d pending records from %s\n", n, args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

// withService 打开服务执行 fn 后关闭
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc api.Service) error) error {
	ctx := cmd.Context()
	svc, _, _, err := openService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
