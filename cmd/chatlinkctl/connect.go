package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/chatlink/internal/config"
	"github.com/danmuck/chatlink/internal/events"
	"github.com/danmuck/chatlink/internal/im"
	"github.com/danmuck/chatlink/internal/notice"
	"github.com/danmuck/chatlink/internal/observability"
	"github.com/danmuck/chatlink/internal/server"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const shutdownTimeout = 5 * time.Second

func newConnectCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Sign in and keep the session running until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(cmd, v, "config", "status-addr", "password-file"); err != nil {
				return err
			}
			cfg, err := config.Load(v.GetString("config"))
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("status-addr") || v.IsSet("status-addr") {
				cfg.Status.Addr = v.GetString("status-addr")
			}
			if token := v.GetString("status-token"); token != "" {
				cfg.Status.Token = token
			}
			password, err := resolvePassword(cfg, v.GetString("password"), v.GetString("password-file"), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, cfg, password)
		},
	}
	cmd.Flags().String("config", defaultConfigPath, "client config path")
	cmd.Flags().String("status-addr", "", "status server listen address (empty disables)")
	cmd.Flags().String("password-file", "", "read the password from a file")
	return cmd
}

// resolvePassword prefers the environment, then a password file, then the
// config file, then an interactive prompt.
func resolvePassword(cfg config.Config, env, file string, prompt io.Writer) (string, error) {
	switch {
	case env != "":
		return env, nil
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read password file: %w", err)
		}
		return strings.TrimRight(string(raw), "\r\n"), nil
	case cfg.Server.Password != "" || cfg.Server.Token != "":
		return cfg.Server.Password, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for password prompt (set CHATLINK_PASSWORD or --password-file)")
	}
	fmt.Fprintf(prompt, "Password for %s: ", cfg.Server.Account)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func runConnect(ctx context.Context, cfg config.Config, password string) error {
	log := observability.InitLogger("chatlinkctl")

	opts := cfg.ClientOptions()
	opts.Dialer = transport.NewWebSocketDialer()
	opts.Sinks = []notice.Sink{noticeLogger(log)}
	client := im.NewClient(opts)
	defer client.Close()
	client.Bus().On(im.EventServerError, func(payload any) {
		if e, ok := payload.(im.ServerError); ok {
			log.Warn().Str("code", e.Code).Msg(e.Message)
		}
	})
	client.Bus().On(events.EventUserLogout, func(payload any) {
		if ev, ok := payload.(im.LogoutEvent); ok {
			log.Info().Str("reason", ev.Close.Reason).Bool("unexpected", ev.Close.Unexpected).Msg("signed out")
		}
	})

	user := cfg.User(password)
	if err := client.Login(ctx, user); err != nil {
		return fmt.Errorf("login %s: %w", cfg.Server.Account, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.Supervise(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.Status.Addr != "" {
		srv := server.New(client, server.Options{
			Name:        "chatlinkctl",
			Addr:        cfg.Status.Addr,
			CORSOrigins: cfg.Status.CORSOrigins,
			Token:       cfg.Status.Token,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}
	runErr := g.Wait()

	logoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := client.Logout(logoutCtx); err != nil {
		log.Debug().Err(err).Msg("logout")
	}
	return runErr
}

func noticeLogger(log zerolog.Logger) notice.Sink {
	return notice.SinkFunc(func(s notice.Snapshot) {
		ev := log.Info()
		if !s.Sound && !s.Popup && !s.TrayFlash {
			ev = log.Debug()
		}
		ev.Int("total", s.Total).
			Int("muted", s.MutedCount).
			Bool("sound", s.Sound).
			Bool("popup", s.Popup).
			Bool("flash", s.TrayFlash).
			Str("tray", s.TrayLabel).
			Msg("notices")
		if s.Popup && s.Content != nil {
			log.Info().Str("conversation", s.Content.ConversationID).Str("title", s.Content.Title).Msg(s.Content.Body)
		}
	})
}
