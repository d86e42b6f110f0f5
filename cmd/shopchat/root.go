package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/room4-2/shopchat/audio"
	"github.com/room4-2/shopchat/chat"
	"github.com/room4-2/shopchat/collab"
	"github.com/room4-2/shopchat/config"
	"github.com/room4-2/shopchat/identity"
	"github.com/room4-2/shopchat/sender"
	"github.com/room4-2/shopchat/transcript"
	"github.com/room4-2/shopchat/transport"
)

// app carries what every subcommand shares once configuration is loaded
type app struct {
	cfg     *config.Config
	backend string
	level   string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "shopchat",
		Short:         "Chat with the shopping concierge from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if a.backend != "" {
				cfg.BackendURL = strings.TrimRight(a.backend, "/")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if a.level != "" {
				cfg.LogLevel = a.level
			}
			config.SetupLogging(cfg, os.Stderr)
			a.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.backend, "backend", "", "Backend base URL (overrides BACKEND_URL)")
	rootCmd.PersistentFlags().StringVar(&a.level, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		newChatCmd(a),
		newSendCmd(a),
		newUploadCmd(a),
		newTryOnCmd(a),
		newSessionCmd(a),
	)
	return rootCmd
}

// identityStore opens the store selected by SESSION_STORE; the returned func releases it
func (a *app) identityStore(ctx context.Context) (identity.Store, func(), error) {
	switch a.cfg.SessionStore {
	case config.StoreMemory:
		return identity.NewMemoryStore(), func() {}, nil
	case config.StoreRedis:
		store, err := identity.NewRedisStore(ctx, a.cfg.RedisURL, a.cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return identity.NewFileStore(a.cfg.SessionFile), func() {}, nil
	}
}

func (a *app) identityManager(ctx context.Context) (*identity.Manager, func(), error) {
	store, release, err := a.identityStore(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open session store")
	}
	return identity.NewManager(store, identity.WithKey(a.cfg.SessionKey)), release, nil
}

// newController wires transport, sender, uploader and the optional audio bridge around a
// chat controller
func (a *app) newController(ctx context.Context, withAudio bool) (*chat.Controller, func(), error) {
	ids, release, err := a.identityManager(ctx)
	if err != nil {
		return nil, nil, err
	}

	httpBase := a.cfg.HTTPBaseURL()
	client := &http.Client{}

	conn := transport.New(a.cfg.BackendURL,
		transport.WithDialer(transport.NewAutoDialer(client)),
		transport.WithBackoff(transport.ConstantBackoff(a.cfg.ReconnectDelay)),
	)
	poster := sender.New(httpBase, nil)

	opts := []chat.Option{
		chat.WithReducer(transcript.NewReducer(transcript.ParseRole(a.cfg.DefaultRole, transcript.RoleAssistant))),
		chat.WithUploader(collab.NewUploader(a.cfg.UploadURL, nil)),
	}
	if a.cfg.Greeting != "" {
		opts = append(opts, chat.WithGreeting(a.cfg.Greeting))
	}
	if withAudio {
		opts = append(opts, chat.WithAudioBridge(audio.NewBridge(poster,
			audio.WithFlushInterval(a.cfg.AudioFlushInterval),
			audio.WithMaxBufferSize(a.cfg.MaxBufferSize),
		)))
	}

	ctrl := chat.NewController(ids, conn, poster, opts...)
	conn.SetHandler(ctrl)

	cleanup := func() {
		if err := ctrl.Close(); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("close chat")
		}
		release()
	}
	return ctrl, cleanup, nil
}
