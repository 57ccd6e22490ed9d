package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <room>",
		Short: "Join a chat room; stdin lines are sent, frames are printed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			key := protocol.ChatKey(a.namespace, args[0])
			out := &frameWriter{out: cmd.OutOrStdout(), log: zap.NewNop()}
			s.On(key, router.EventAll, out.write)

			if err := a.connect(ctx, s, key); err != nil {
				return err
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					select {
					case lines <- sc.Text():
					case <-ctx.Done():
						return
					}
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					if _, err := s.SendChat(ctx, key, line); err != nil {
						_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "send: %v\n", err)
					}
				}
			}
		},
	}
}
