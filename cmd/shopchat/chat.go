package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/room4-2/shopchat/chat"
)

const chatHelp = `commands:
  /audio         toggle voice mode
  /image <path>  send a photo
  /help          show this help
  /quit          leave`

func newChatCmd(a *app) *cobra.Command {
	var noAudio bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctrl, cleanup, err := a.newController(ctx, !noAudio)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			r := newRenderer(out)
			unsubscribe := ctrl.Subscribe(r.Render)
			defer unsubscribe()

			if err := ctrl.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, r.theme.Muted.Render("session "+ctrl.State().SessionID+" (type /help for commands)"))

			return runREPL(ctx, cmd.InOrStdin(), out, ctrl, r)
		},
	}

	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Disable the microphone/speaker bridge")
	return cmd
}

// runREPL reads lines until EOF, /quit or ctx is done
func runREPL(ctx context.Context, in io.Reader, out io.Writer, ctrl *chat.Controller, r *renderer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
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
			quit, err := handleLine(ctx, out, ctrl, line)
			if err != nil {
				r.line(r.theme.Danger.Render(err.Error()))
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, ctrl *chat.Controller, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	command, arg, _ := strings.Cut(line, " ")
	switch command {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(out, chatHelp)
		return false, nil

	case "/audio":
		on, err := ctrl.ToggleAudio(ctx)
		if err != nil {
			return false, err
		}
		mode := "text"
		if on {
			mode = "voice"
		}
		fmt.Fprintln(out, "switched to "+mode+" mode")
		return false, nil

	case "/image":
		path := strings.TrimSpace(arg)
		if path == "" {
			return false, errors.New("usage: /image <path>")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return false, errors.Wrap(err, "read image")
		}
		return false, ctrl.SubmitImage(ctx, filepath.Base(path), "", data)
	}

	if strings.HasPrefix(command, "/") {
		return false, errors.Errorf("unknown command %s", command)
	}
	return false, ctrl.SubmitText(ctx, line)
}
