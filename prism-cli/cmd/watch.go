package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"prism-plan/domain"
	"prism-plan/matrix"
	"prism-plan/realtime"
)

const clearScreen = "\x1b[H\x1b[2J"

type watchOptions struct {
	scope    string
	clear    bool
	duration time.Duration
}

func newWatchCmd(v *viper.Viper) *cobra.Command {
	var opts watchOptions
	c := &cobra.Command{
		Use:   "watch",
		Short: "Show the matrix and keep it in sync with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			return runWatch(cmd, s, opts)
		},
	}
	c.Flags().StringVar(&opts.scope, "scope", "active", "which tasks to show (all|active)")
	c.Flags().BoolVar(&opts.clear, "clear", true, "clear the screen before each redraw")
	c.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return c
}

func runWatch(cmd *cobra.Command, s settings, opts watchOptions) error {
	scope, err := domain.ParseScope(opts.scope)
	if err != nil {
		return err
	}
	tr, err := s.transport()
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	api := s.client()
	loadCtx, cancel := requestContext(ctx, s)
	tasks, err := api.ListTasks(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	logger := log.StandardLogger()
	session := matrix.NewSession(api, append(s.sessionOptions(),
		matrix.WithLogger(logger),
		matrix.WithResync(api.ListTasks),
	)...)
	channel := realtime.NewChannel(tr, "", realtime.WithBackoff(s.backoff()), realtime.WithChannelLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := session.Run(gctx, channel.Start(gctx))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer channel.Close()
		if err := session.Load(gctx, tasks); err != nil {
			return ignoreDone(gctx, err)
		}
		return redrawLoop(gctx, cmd, session, scope, opts.clear)
	})
	return g.Wait()
}

func redrawLoop(ctx context.Context, cmd *cobra.Command, session *matrix.Session, scope domain.Scope, clear bool) error {
	out := cmd.OutOrStdout()
	draw := func() error {
		g, err := session.Group(ctx, scope)
		if err != nil {
			return err
		}
		st, err := session.Status(ctx)
		if err != nil {
			return err
		}
		if clear {
			fmt.Fprint(out, clearScreen)
		}
		fmt.Fprintln(out, renderHeader(scope)+"  "+renderStatus(st))
		fmt.Fprintln(out, renderGrouping(g))
		return nil
	}
	if err := draw(); err != nil {
		return ignoreDone(ctx, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Changes():
			if err := draw(); err != nil {
				return ignoreDone(ctx, err)
			}
		}
	}
}

func ignoreDone(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, matrix.ErrSessionClosed) {
		return nil
	}
	return err
}
