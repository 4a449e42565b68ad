package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"

	"github.com/hackgods/trial-visit-scheduling/internal/app"
	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "seed",
		Short:        "Seed trial enrollments and their visit schedules",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(enrollCmd(), migrationsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func enrollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll fake subjects and generate their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			subjects, _ := cmd.Flags().GetInt("subjects")
			visitSchedule, _ := cmd.Flags().GetString("visit-schedule")
			schedule, _ := cmd.Flags().GetString("schedule")
			spread, _ := cmd.Flags().GetInt("anchor-spread")
			seed, _ := cmd.Flags().GetInt64("seed")
			return runEnroll(cmd.Context(), enrollOptions{
				Subjects:      subjects,
				VisitSchedule: visitSchedule,
				Schedule:      schedule,
				SpreadDays:    spread,
				Seed:          seed,
			})
		},
	}
	cmd.Flags().Int("subjects", 100, "Number of subjects to enroll")
	cmd.Flags().String("visit-schedule", "", "Visit schedule name (defaults to the first configured)")
	cmd.Flags().String("schedule", "", "Schedule name (defaults to the first configured)")
	cmd.Flags().Int("anchor-spread", 60, "Anchors are drawn from the last N days")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks one from the clock)")
	return cmd
}

func migrationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrations",
		Short: "List the embedded migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations, err := db.LoadMigrations()
			if err != nil {
				return err
			}
			for _, m := range migrations {
				fmt.Printf("%03d  %s\n", m.Version, m.Name)
			}
			return nil
		},
	}
}

type enrollOptions struct {
	Subjects      int
	VisitSchedule string
	Schedule      string
	SpreadDays    int
	Seed          int64
}

func runEnroll(ctx context.Context, opts enrollOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger := config.NewLogger(cfg, "seed")

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	scope, err := pickSchedule(a, opts)
	if err != nil {
		return err
	}

	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(uint64(opts.Seed))

	logger.Info().Int("subjects", opts.Subjects).Str("schedule", scope.VisitScheduleName+"/"+scope.ScheduleName).
		Int64("seed", opts.Seed).Msg("seeding enrollments")

	now := time.Now().UTC()
	created := 0
	for i := 0; i < opts.Subjects; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := scope
		s.SubjectIdentifier = faker.Numerify("###-####-####")
		anchor := faker.DateRange(now.AddDate(0, 0, -opts.SpreadDays), now)
		anchor = time.Date(anchor.Year(), anchor.Month(), anchor.Day(), faker.Number(8, 16), 0, 0, 0, time.UTC)

		appts, err := a.Service.CreateSchedule(ctx, s, anchor)
		if err != nil {
			logger.Warn().Err(err).Str("subject", s.SubjectIdentifier).Msg("enroll failed")
			continue
		}
		created += len(appts)
		if (i+1)%50 == 0 {
			logger.Info().Int("done", i+1).Int("total", opts.Subjects).Msg("progress")
		}
	}

	logger.Info().Int("appointments", created).Msg("seed complete")
	return nil
}

func pickSchedule(a *app.App, opts enrollOptions) (appointment.Scope, error) {
	if opts.VisitSchedule != "" && opts.Schedule != "" {
		if _, err := a.Schedules.Schedule(opts.VisitSchedule, opts.Schedule); err != nil {
			return appointment.Scope{}, err
		}
		return appointment.Scope{VisitScheduleName: opts.VisitSchedule, ScheduleName: opts.Schedule}, nil
	}
	all := a.Schedules.All()
	if len(all) == 0 {
		return appointment.Scope{}, fmt.Errorf("no visit schedules configured")
	}
	return appointment.Scope{VisitScheduleName: all[0].VisitScheduleName, ScheduleName: all[0].Name}, nil
}
