package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/conversation"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

func newAskCmd(a *app) *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "ask <agent> <prompt>...",
		Short: "Ask an agent a question and print its reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			key := protocol.AgentLogKey(a.namespace, args[0])
			if err := a.connect(ctx, s, key); err != nil {
				return err
			}

			// Coalesced wake-ups; the record is re-read on each so a
			// terminal state cannot be missed.
			changed := make(chan struct{}, 1)
			stop := s.WatchConversations(func(conversation.Record) {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			defer stop()

			rec, err := s.Ask(ctx, key, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}

			printed := 0
			for {
				u, ok := s.Conversation(rec.ID)
				if !ok {
					return fmt.Errorf("conversation %s no longer tracked", rec.ID)
				}
				if stream && len(u.AccumulatedContent) > printed {
					_, _ = fmt.Fprint(cmd.ErrOrStderr(), u.AccumulatedContent[printed:])
					printed = len(u.AccumulatedContent)
				}
				if u.Status.Terminal() {
					if printed > 0 {
						_, _ = fmt.Fprintln(cmd.ErrOrStderr())
					}
					if err := u.Err(); err != nil {
						return err
					}
					_, err := fmt.Fprintln(cmd.OutOrStdout(), u.FinalContent)
					return err
				}

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-changed:
				}
			}
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "echo partial replies to stderr")
	return cmd
}
