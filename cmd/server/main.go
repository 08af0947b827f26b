package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go-lookflow/internal/limiter"
	"go-lookflow/internal/log"
	"go-lookflow/internal/retry"
	"go-lookflow/internal/worker"

	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "lookflow-server",
		Usage: "Run the look generation workflow engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "http-addr",
				Usage:   "Address the HTTP adapter listens on",
				Value:   ":8080",
				Sources: cli.EnvVars("HTTP_ADDR"),
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Backend for runs, looks and queues (postgres, memory)",
				Value:   "postgres",
				Sources: cli.EnvVars("STORE"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL DSN for the postgres store",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.BoolFlag{
				Name:    "migrate-collaborators",
				Usage:   "Also create catalog and profile tables (local development)",
				Sources: cli.EnvVars("MIGRATE_COLLABORATORS"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the run queue and event bus",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.IntFlag{
				Name:    "run-workers",
				Usage:   "Runs driven concurrently by this process",
				Value:   20,
				Sources: cli.EnvVars("RUN_WORKERS"),
			},
			&cli.DurationFlag{
				Name:    "run-resume-delay",
				Usage:   "Wait before a run blocked by a step held elsewhere is driven again",
				Value:   worker.DefaultResumeDelay,
				Sources: cli.EnvVars("RUN_RESUME_DELAY"),
			},
			&cli.IntFlag{
				Name:    "limiter-capacity",
				Usage:   "Concurrent model calls allowed across all runs",
				Value:   limiter.DefaultCapacity,
				Sources: cli.EnvVars("LIMITER_CAPACITY"),
			},
			&cli.DurationFlag{
				Name:    "limiter-wait",
				Usage:   "How long a step waits for a model slot before retrying",
				Value:   time.Minute,
				Sources: cli.EnvVars("LIMITER_WAIT"),
			},
			&cli.IntFlag{
				Name:    "step-max-attempts",
				Usage:   "Attempts per step before it fails terminally",
				Value:   retry.DefaultMaxAttempts,
				Sources: cli.EnvVars("STEP_MAX_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "step-base-delay",
				Usage:   "First retry delay",
				Value:   retry.DefaultBaseDelay,
				Sources: cli.EnvVars("STEP_BASE_DELAY"),
			},
			&cli.DurationFlag{
				Name:    "step-max-delay",
				Usage:   "Retry delay cap",
				Value:   retry.DefaultMaxDelay,
				Sources: cli.EnvVars("STEP_MAX_DELAY"),
			},
			&cli.DurationFlag{
				Name:    "step-timeout",
				Usage:   "Timeout of one step attempt",
				Value:   retry.DefaultAttemptTimeout,
				Sources: cli.EnvVars("STEP_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "text-model-url",
				Usage:   "Base URL of the outfit composition model",
				Sources: cli.EnvVars("TEXT_MODEL_URL"),
			},
			&cli.StringFlag{
				Name:    "image-model-url",
				Usage:   "Base URL of the try-on image model",
				Sources: cli.EnvVars("IMAGE_MODEL_URL"),
			},
			&cli.StringFlag{
				Name:    "model-api-key",
				Usage:   "Bearer token for both model services",
				Sources: cli.EnvVars("MODEL_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			return run(ctx, configFrom(command))
		},
	}
}

type config struct {
	HTTPAddr             string
	Store                string
	DatabaseURL          string
	MigrateCollaborators bool
	RedisAddr            string
	RunWorkers           int
	RunResumeDelay       time.Duration
	LimiterCapacity      int
	LimiterWait          time.Duration
	StepPolicy           retry.Policy
	TextModelURL         string
	ImageModelURL        string
	ModelAPIKey          string
}

func configFrom(command *cli.Command) config {
	return config{
		HTTPAddr:             command.String("http-addr"),
		Store:                command.String("store"),
		DatabaseURL:          command.String("database-url"),
		MigrateCollaborators: command.Bool("migrate-collaborators"),
		RedisAddr:            command.String("redis-addr"),
		RunWorkers:           int(command.Int("run-workers")),
		RunResumeDelay:       command.Duration("run-resume-delay"),
		LimiterCapacity:      int(command.Int("limiter-capacity")),
		LimiterWait:          command.Duration("limiter-wait"),
		StepPolicy: retry.Policy{
			MaxAttempts:    int(command.Int("step-max-attempts")),
			Backoff:        retry.NewExponentialJitter(command.Duration("step-base-delay"), command.Duration("step-max-delay")),
			AttemptTimeout: command.Duration("step-timeout"),
		}.WithDefaults(),
		TextModelURL:  command.String("text-model-url"),
		ImageModelURL: command.String("image-model-url"),
		ModelAPIKey:   command.String("model-api-key"),
	}
}
