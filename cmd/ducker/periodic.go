package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/ui"
)

func periodicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "periodic",
		Aliases: []string{"p"},
		Short:   "Manage periodic rules",
	}
	cmd.AddCommand(periodicListCmd())
	cmd.AddCommand(periodicAddCmd())
	cmd.AddCommand(periodicToggleCmd("enable", true))
	cmd.AddCommand(periodicToggleCmd("disable", false))
	return cmd
}

func periodicListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedulable rules, or every rule with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				rules := s.repo.PeriodicRules()
				if all {
					var err error
					if rules, err = s.backend.ListPeriodicTasks(ctx); err != nil {
						return err
					}
				}
				if flagJSON {
					return outputJSON(rules)
				}
				ui.Rules(os.Stdout, rules)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include disabled rules")
	return cmd
}

func periodicAddCmd() *cobra.Command {
	var (
		f        taskFlags
		interval string
	)
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a periodic rule with its template task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iv, err := model.IntervalFromName(interval)
			if err != nil {
				return err
			}
			name := strings.Join(args, " ")
			data := model.PeriodicTaskData{
				Name:     name,
				Interval: iv,
				Task:     model.TaskData{Name: name},
			}
			if err := f.apply(cmd, &data.Task, time.Now()); err != nil {
				return err
			}
			return withSession(func(ctx context.Context, s *session) error {
				id, err := s.backend.CreatePeriodicTask(ctx, data)
				if err != nil {
					return err
				}
				if _, err := s.repo.FetchAll(ctx); err != nil {
					return err
				}
				if flagJSON {
					return outputJSON(map[string]string{"id": id})
				}
				fmt.Println(ui.BoldGreen("added"), ui.Bold(name), ui.Cyan(iv.String()), ui.Dim(id))
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&interval, "interval", "daily", "on_start, daily, weekly, monthly or once_started")
	return cmd
}

func periodicToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a periodic rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				if err := s.backend.SetPeriodicTaskEnabled(ctx, args[0], enabled); err != nil {
					return err
				}
				_, err := s.repo.FetchAll(ctx)
				return err
			})
		},
	}
}
