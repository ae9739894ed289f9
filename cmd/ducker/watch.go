package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Yoak3n/ducker/internal/calendar"
	"github.com/Yoak3n/ducker/internal/progress"
	"github.com/Yoak3n/ducker/internal/task"
	"github.com/Yoak3n/ducker/internal/ui"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reprint the Today view whenever tasks change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				render := func(snap task.Snapshot) {
					now := time.Now()
					tasks := calendar.Today(snap.Tasks, now)
					fmt.Fprint(os.Stdout, "\033[H\033[2J")
					ui.Today(os.Stdout, tasks, progress.Aggregate(tasks), now)
					fmt.Fprintln(os.Stdout, ui.Dim(fmt.Sprintf("synced %s (seq %d)", snap.At.Format("15:04:05"), snap.Seq)))
				}
				unsubscribe := s.repo.Subscribe(render)
				defer unsubscribe()
				render(s.repo.State())

				sources := append([]task.ChangeSource{s.backend}, s.sources...)
				err := s.repo.Watch(ctx, task.Merge(sources...))
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}
