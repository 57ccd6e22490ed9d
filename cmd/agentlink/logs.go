package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		follow  bool
		history int
	)

	cmd := &cobra.Command{
		Use:   "logs <agent>",
		Short: "Stream an agent's log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			key := protocol.AgentLogKey(a.namespace, args[0])
			out := &frameWriter{out: cmd.OutOrStdout(), log: zap.NewNop()}
			s.On(key, router.EventAll, out.write)

			if err := a.connect(ctx, s, key); err != nil {
				return err
			}
			if history > 0 {
				if err := s.LoadHistory(ctx, key, "", history); err != nil {
					return err
				}
			}
			if err := s.ToggleFollow(ctx, key, follow); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", true, "keep streaming new lines")
	cmd.Flags().IntVar(&history, "history", 0, "request this many older lines first")
	return cmd
}
