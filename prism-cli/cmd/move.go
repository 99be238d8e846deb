package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prism-plan/domain"
	"prism-plan/matrix"
)

func newMoveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "move <task-id> <quadrant>",
		Short: "Reassign a task to spade, heart, diamond, club or unassigned",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			target, err := domain.ParseQuadrant(args[1])
			if err != nil {
				return err
			}
			return runMove(cmd, s, args[0], target)
		},
	}
}

// runMove performs the reassignment through a session so that the same
// optimistic and revert rules apply as in watch mode.
func runMove(cmd *cobra.Command, s settings, taskID string, target domain.Quadrant) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	api := s.client()

	loadCtx, cancel := requestContext(ctx, s)
	task, err := api.GetTask(loadCtx, taskID)
	cancel()
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	session := matrix.NewSession(api, s.sessionOptions()...)
	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx, nil) }()
	defer func() {
		session.Close()
		<-runErr
	}()

	if err := session.Load(ctx, []domain.Task{task}); err != nil {
		return err
	}
	h, err := session.Reassign(ctx, taskID, target)
	if err != nil {
		return err
	}
	outcome, err := h.Wait(ctx)
	out := cmd.OutOrStdout()
	switch outcome {
	case matrix.OutcomeConfirmed:
		fmt.Fprintf(out, "moved %s from %s to %s\n", taskID, task.Quadrant, target)
		return nil
	case matrix.OutcomeReverted:
		fmt.Fprintf(out, "move reverted, %s stays in %s\n", taskID, task.Quadrant)
	case matrix.OutcomeRemoved:
		fmt.Fprintf(out, "%s no longer exists\n", taskID)
	}
	if err == nil {
		err = errors.New(outcome.String())
	}
	return fmt.Errorf("move %s: %w", taskID, err)
}
