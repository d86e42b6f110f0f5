package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/room4-2/shopchat/chat"
	"github.com/room4-2/shopchat/transcript"
)

func newSendCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ctrl, cleanup, err := a.newController(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			reply, err := sendAndWait(ctx, ctrl, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long to wait for the reply")
	return cmd
}

// sendAndWait connects, submits text once the stream is up and returns the assistant text
// produced before the turn completes
func sendAndWait(ctx context.Context, ctrl *chat.Controller, text string) (string, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := ctrl.Subscribe(func(chat.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := ctrl.Start(ctx); err != nil {
		return "", err
	}
	if err := waitFor(ctx, ctrl, changed, chat.State.Connected); err != nil {
		return "", errors.Wrap(err, "connect")
	}

	sent := ctrl.State().Transcript.Len()
	if err := ctrl.SubmitText(ctx, text); err != nil {
		return "", err
	}

	done := func(s chat.State) bool { return !s.Generating }
	if err := waitFor(ctx, ctrl, changed, done); err != nil {
		return "", errors.Wrap(err, "wait for reply")
	}

	final := ctrl.State()
	if final.LastError != nil {
		return "", final.LastError
	}

	var reply strings.Builder
	for _, m := range final.Messages()[sent:] {
		if m.Role == transcript.RoleAssistant {
			reply.WriteString(m.Content)
		}
	}
	return reply.String(), nil
}

// waitFor blocks until cond holds for the controller state; changed is poked on every update
func waitFor(ctx context.Context, ctrl *chat.Controller, changed <-chan struct{}, cond func(chat.State) bool) error {
	for {
		if cond(ctrl.State()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
