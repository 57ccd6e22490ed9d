package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/codec"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/session"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/paths"
)

const shutdownTimeout = 5 * time.Second

// app carries the flags shared by every subcommand.
type app struct {
	profile     string
	namespace   string
	metricsAddr string
	wait        time.Duration
	persist     bool

	// newSession is swapped in tests.
	newSession func(session.Options) (*session.Session, error)
}

func newRootCmd() *cobra.Command {
	return newRootCmdFor(&app{newSession: session.New})
}

func newRootCmdFor(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentlink",
		Short:         "Realtime client for the agent gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.profile, "profile", "", "TOML profile file or profile name layered over environment settings")
	flags.StringVarP(&a.namespace, "namespace", "n", "default", "gateway namespace")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.DurationVar(&a.wait, "wait", 15*time.Second, "how long to wait for the connection to open")
	flags.BoolVar(&a.persist, "persist", false, "keep conversations in the user cache directory across runs")

	root.AddCommand(
		newChatCmd(a),
		newLogsCmd(a),
		newAskCmd(a),
		newExecCmd(a),
		newConfigCmd(a),
		newGatewayCmd(a),
	)
	return root
}

// config loads the environment, layers the profile over it and applies
// the per-user file layout where asked. A bare profile name resolves under
// the user config directory.
func (a *app) config() (*config.Config, error) {
	var layout *paths.Layout
	userLayout := func() (paths.Layout, error) {
		if layout == nil {
			l, err := paths.Default()
			if err != nil {
				return paths.Layout{}, err
			}
			layout = &l
		}
		return *layout, nil
	}

	profile := a.profile
	if paths.IsProfileName(profile) {
		l, err := userLayout()
		if err != nil {
			return nil, err
		}
		if profile, err = l.Profile(profile); err != nil {
			return nil, err
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if profile != "" {
		cfg, err = config.LoadFile(profile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if a.persist && cfg.Conversation.SnapshotPath == "" {
		l, err := userLayout()
		if err != nil {
			return nil, err
		}
		cfg.Conversation.SnapshotPath = l.Snapshot()
	}
	return cfg, nil
}

// open starts a session and, if requested, its metrics endpoint. The
// returned function closes both.
func (a *app) open(cmd *cobra.Command) (*session.Session, func(), error) {
	cfg, err := a.config()
	if err != nil {
		return nil, nil, err
	}
	s, err := a.newSession(session.Options{Config: cfg})
	if err != nil {
		return nil, nil, err
	}

	var srv *http.Server
	if a.metricsAddr != "" && s.Metrics() != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.Metrics().Handler())
		srv = &http.Server{Addr: a.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "metrics server: %v\n", err)
			}
		}()
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
		if err := s.Close(ctx); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "close session: %v\n", err)
		}
	}
	return s, closeFn, nil
}

// connect opens key and waits at most a.wait for it.
func (a *app) connect(ctx context.Context, s *session.Session, key protocol.ConnectionKey) error {
	ctx, cancel := context.WithTimeout(ctx, a.wait)
	defer cancel()
	if _, err := s.Connect(ctx, key, session.NewSubscriberID()); err != nil {
		return fmt.Errorf("connect %s: %w", key, err)
	}
	return nil
}

// frameWriter prints frames as JSON lines. Listeners of different keys
// run on different goroutines.
type frameWriter struct {
	mu  sync.Mutex
	out io.Writer
	log *zap.Logger
}

func (w *frameWriter) write(f protocol.Frame) {
	data, err := codec.Encode(f)
	if err != nil {
		w.log.Warn("encode frame for output", zap.String("type", f.Type), zap.Error(err))
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = fmt.Fprintln(w.out, string(data))
}
