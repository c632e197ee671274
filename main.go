package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v3"

	"sqsmover/internal/mover"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := root.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

var root = &cli.Command{
	Name:  "sqsmover",
	Usage: "Move messages, attributes included, between SQS queues in the same account",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "source",
			Aliases:  []string{"s"},
			Usage:    "Source queue name",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "dest",
			Aliases: []string{"d"},
			Usage:   "Destination queue name",
		},
		&cli.BoolFlag{
			Name:    "poll",
			Aliases: []string{"p"},
			Usage:   "Print messages from the source queue without moving them",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Messages per receive call (the service caps this at 10)",
			Value: mover.DefaultBatchSize,
		},
		&cli.IntFlag{
			Name:  "empty-receives",
			Usage: "Consecutive empty receives before the source is considered drained",
			Value: mover.DefaultMaxEmptyReceives,
		},
		&cli.IntFlag{
			Name:  "max-messages-per-second",
			Usage: "Move rate limit; 0 disables limiting",
		},
		&cli.IntFlag{
			Name:  "parallelism",
			Usage: "Concurrent per-message workers within a batch",
			Value: 1,
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "The aws region to configure the client with",
			Sources: cli.EnvVars("AWS_REGION"),
		},
		&cli.StringFlag{
			Name:    "profile",
			Usage:   "The shared credentials profile to configure the client with",
			Sources: cli.EnvVars("AWS_PROFILE"),
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "Optional endpoint override (e.g. for localstack)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "The log level (debug|info|warn|error)",
			Value: slog.LevelInfo.String(),
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "The log format (json|text)",
			Value: "text",
		},
	},
	Action: run,
}

func run(ctx context.Context, c *cli.Command) error {
	if err := setupLogging(c.String("log-level"), c.String("log-format")); err != nil {
		return err
	}
	if !c.Bool("poll") && c.String("dest") == "" {
		return errors.New("--dest is required unless polling")
	}
	client, err := newSQSClient(ctx, c)
	if err != nil {
		return err
	}
	m := mover.New(client, c.String("source"), c.String("dest"), mover.Options{
		BatchSize:            int32(c.Int("batch-size")),
		MaxEmptyReceives:     int(c.Int("empty-receives")),
		MaxMessagesPerSecond: int(c.Int("max-messages-per-second")),
		Parallelism:          int(c.Int("parallelism")),
		Clock:                clockwork.NewRealClock(),
		Output:               os.Stdout,
	})
	if c.Bool("poll") {
		return m.Poll(ctx)
	}
	// per-message failures are reported in the summary but do not fail the
	// run; they stay on the source for a later retry
	_, err = m.Move(ctx)
	return err
}

func newSQSClient(ctx context.Context, c *cli.Command) (*mover.SQSClient, error) {
	var loadOptions []func(*awsconfig.LoadOptions) error
	if region := c.String("region"); region != "" {
		loadOptions = append(loadOptions, awsconfig.WithRegion(region))
	}
	if profile := c.String("profile"); profile != "" {
		loadOptions = append(loadOptions, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint := c.String("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.AppID = "sqsmover"
	})
	return mover.NewSQSClient(sqsClient), nil
}

// setupLogging configures the default slog logger. Logs go to stderr so poll
// mode's stdout stays machine-readable.
func setupLogging(level, format string) error {
	logLeveler := new(slog.LevelVar)
	if err := logLeveler.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{
		AddSource: false,
		Level:     logLeveler,
	}
	switch format {
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("invalid log format: %q", format)
	}
	return nil
}
