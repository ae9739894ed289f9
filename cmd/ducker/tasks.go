package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Yoak3n/ducker/internal/calendar"
	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/progress"
	"github.com/Yoak3n/ducker/internal/task"
	"github.com/Yoak3n/ducker/internal/ui"
)

func todayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show tasks due today and overdue tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				now := time.Now()
				tasks := calendar.Today(s.repo.Snapshot(), now)
				sum := progress.Aggregate(tasks)
				if flagJSON {
					return outputJSON(map[string]any{"tasks": tasks, "summary": sum})
				}
				ui.Today(os.Stdout, tasks, sum, now)
				return nil
			})
		},
	}
}

func weekCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Show the Monday to Sunday week",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			anchor, err := parseDate(date, now)
			if err != nil {
				return err
			}
			return withSession(func(ctx context.Context, s *session) error {
				days := calendar.Week(s.repo.Snapshot(), anchor)
				if flagJSON {
					return outputJSON(days)
				}
				ui.Week(os.Stdout, days, now)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Any day of the week to show (YYYY-MM-DD)")
	return cmd
}

func monthCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Show the month grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			ref, err := parseDate(date, now)
			if err != nil {
				return err
			}
			return withSession(func(ctx context.Context, s *session) error {
				cells := calendar.MonthCells(s.repo.Snapshot(), ref, now)
				if flagJSON {
					return outputJSON(cells)
				}
				fmt.Println(ui.Month(cells, ref))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Any day of the month to show (YYYY-MM-DD)")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts and value progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				st := progress.Stats(s.repo.Snapshot(), time.Now())
				if flagJSON {
					return outputJSON(st)
				}
				ui.Stats(os.Stdout, st)
				return nil
			})
		},
	}
}

type taskFlags struct {
	name     string
	value    float64
	due      string
	reminder string
	parent   string
	actions  []string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.value, "value", 1, "Weight of the task in progress totals")
	cmd.Flags().StringVar(&f.due, "due", "", "Due time: HH:MM, YYYY-MM-DD or YYYY-MM-DD HH:MM")
	cmd.Flags().StringVar(&f.reminder, "reminder", "", "Reminder time, same formats as --due")
	cmd.Flags().StringSliceVar(&f.actions, "action", nil, "Action id to attach (repeatable)")
}

// apply copies the flags the user set onto data.
func (f *taskFlags) apply(cmd *cobra.Command, data *model.TaskData, now time.Time) error {
	if cmd.Flags().Changed("name") {
		data.Name = f.name
	}
	if cmd.Flags().Changed("value") || data.Value == nil {
		v := f.value
		data.Value = &v
	}
	if f.due != "" {
		due, err := parseWhen(f.due, now)
		if err != nil {
			return fmt.Errorf("--due: %w", err)
		}
		data.DueTo = due
	}
	if f.reminder != "" {
		rem, err := parseWhen(f.reminder, now)
		if err != nil {
			return fmt.Errorf("--reminder: %w", err)
		}
		data.Reminder = rem
	}
	if f.parent != "" {
		p := f.parent
		data.ParentID = &p
	}
	if cmd.Flags().Changed("action") {
		data.Actions = make([]model.ActionRef, len(f.actions))
		for i, a := range f.actions {
			data.Actions[i] = model.ActionRef(a)
		}
	}
	return nil
}

func addCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := model.TaskData{Name: strings.Join(args, " ")}
			if err := f.apply(cmd, &data, time.Now()); err != nil {
				return err
			}
			return withSession(func(ctx context.Context, s *session) error {
				t, err := s.repo.Create(ctx, data)
				if errors.Is(err, task.ErrNotFound) {
					// Created, but hidden by its periodic rule.
					fmt.Println(ui.Dim("created; not shown in the current view"))
					return nil
				}
				if err != nil {
					return err
				}
				if flagJSON {
					return outputJSON(t)
				}
				fmt.Println(ui.BoldGreen("added"), ui.TaskLine(t, time.Now()))
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.parent, "parent", "", "Parent task id")
	return cmd
}

func editCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Update a task; unset flags keep their current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				known, ok := s.repo.Get(args[0])
				if !ok {
					return fmt.Errorf("%w: %s", task.ErrNotFound, args[0])
				}
				data := model.DataFromTask(known)
				if err := f.apply(cmd, &data, time.Now()); err != nil {
					return err
				}
				t, err := s.repo.Update(ctx, known.ID, data)
				if err != nil {
					return err
				}
				if flagJSON {
					return outputJSON(t)
				}
				fmt.Println(ui.BoldGreen("updated"), ui.TaskLine(t, time.Now()))
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.name, "name", "", "New name")
	return cmd
}

func doneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done [id]",
		Short: "Toggle completion of a task or one of its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				id, err := progress.Toggle(ctx, s.repo, args[0], s.repo.Snapshot())
				if err != nil {
					return err
				}
				t, _ := s.repo.Get(id)
				if flagJSON {
					return outputJSON(t)
				}
				fmt.Println(ui.TaskLine(t, time.Now()))
				return nil
			})
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [id...]",
		Short: "Delete tasks with their subtasks and periodic rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				if len(args) == 1 {
					return s.repo.Delete(ctx, args[0])
				}
				return s.repo.BulkDelete(ctx, args)
			})
		},
	}
}

func exportICSCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-ics",
		Short: "Export dated tasks as an iCalendar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				body, err := calendar.BuildICS(s.repo.Snapshot(), s.repo.PeriodicRules(), time.Now())
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = os.Stdout.WriteString(body)
					return err
				}
				if err := os.WriteFile(out, []byte(body), 0o644); err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}
