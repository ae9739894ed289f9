package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Yoak3n/ducker/internal/config"
	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/serverapp"
	"github.com/Yoak3n/ducker/internal/task"
)

const PORT = "42069"

// Dev server: in-memory backend with a few seeded tasks and rules.
func main() {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Server.Addr = ":" + PORT
	cfg.Storage.Backend = config.BackendMemory
	cfg.Log.Format = "console"
	cfg.Log.Level = "debug"
	config.ApplyEnv(cfg)

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	backend := task.NewMemoryBackend()
	if err := SeedTasks(ctx, backend, time.Now()); err != nil {
		log.Fatal(err)
	}

	app, err := serverapp.NewApp(ctx, serverapp.Options{
		Config:  cfg,
		Backend: backend,
		Logger:  logger,
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("ducker dev server listening on %s (routes at /_/admin)\n", cfg.Server.Addr)
	logger.Fatal("server stopped", zap.Error(http.ListenAndServe(cfg.Server.Addr, app.Handler)))
}

func SeedTasks(ctx context.Context, b task.Backend, now time.Time) error {
	at := func(days, hour int) *time.Time {
		t := time.Date(now.Year(), now.Month(), now.Day()+days, hour, 0, 0, 0, now.Location())
		return &t
	}
	val := func(v float64) *float64 { return &v }
	done := true

	report, err := b.CreateTask(ctx, model.TaskData{Name: "Write weekly report", Value: val(3), DueTo: at(0, 18)})
	if err != nil {
		return err
	}
	for _, name := range []string{"Collect numbers", "Draft summary"} {
		if _, err := b.CreateTask(ctx, model.TaskData{Name: name, Value: val(1), ParentID: &report, DueTo: at(0, 17)}); err != nil {
			return err
		}
	}

	// Overdue until resolved.
	if _, err := b.CreateTask(ctx, model.TaskData{Name: "Pay electricity bill", Value: val(2), DueTo: at(-1, 12)}); err != nil {
		return err
	}
	if _, err := b.CreateTask(ctx, model.TaskData{Name: "Book dentist", Value: val(1), DueTo: at(2, 10)}); err != nil {
		return err
	}
	if _, err := b.CreateTask(ctx, model.TaskData{Name: "Read a chapter", Value: val(1), Completed: &done, DueTo: at(0, 9)}); err != nil {
		return err
	}

	rules := []model.PeriodicTaskData{
		{Name: "Standup", Interval: model.Daily, Task: model.TaskData{Name: "Standup", Value: val(1), DueTo: at(0, 10)}},
		{Name: "Water plants", Interval: model.Weekly, Task: model.TaskData{Name: "Water plants", Value: val(1), DueTo: at(1, 8)}},
		// Startup triggers stay out of every view.
		{Name: "Check inbox on launch", Interval: model.OnStart, Task: model.TaskData{Name: "Check inbox on launch", Value: val(1), DueTo: at(0, 8)}},
	}
	for _, r := range rules {
		if _, err := b.CreatePeriodicTask(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
