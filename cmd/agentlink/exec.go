package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

func newExecCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <agent> -- <command>...",
		Short: "Run a raw command on an agent and print its output",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			key := protocol.AgentLogKey(a.namespace, args[0])

			results := make(chan protocol.RawCommandResult, 16)
			s.On(key, protocol.TypeRawCommandResult, func(f protocol.Frame) {
				var res protocol.RawCommandResult
				if f.Bind(&res) != nil {
					return
				}
				select {
				case results <- res:
				default:
				}
			})

			if err := a.connect(ctx, s, key); err != nil {
				return err
			}
			commandID, err := s.SendCommand(ctx, key, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					_ = s.CancelCommand(ctx, key, commandID)
					return ctx.Err()
				case res := <-results:
					if res.CommandID != commandID {
						continue
					}
					if res.Output != "" {
						_, _ = fmt.Fprint(cmd.OutOrStdout(), res.Output)
					}
					if res.Error != "" {
						return fmt.Errorf("command failed: %s", res.Error)
					}
					if res.ExitCode != 0 {
						return fmt.Errorf("command exited with status %d", res.ExitCode)
					}
					return nil
				}
			}
		},
	}
}
