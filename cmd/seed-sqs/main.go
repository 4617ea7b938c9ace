// Command seed-sqs pushes one submission intake message onto the SQS queue
// the judged daemon's bridge reads from. Handy for smoke-testing a deployed
// core end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/codeproof/judge/api"
)

func main() {
	cmd := &cli.Command{
		Name:      "seed-sqs",
		Usage:     "enqueue one submission via the SQS intake bridge",
		ArgsUsage: "<source-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "queue", Required: true, Usage: "intake SQS queue URL"},
			&cli.StringFlag{Name: "problem", Required: true},
			&cli.StringFlag{Name: "lang", Required: true},
			&cli.IntFlag{Name: "user", Value: 1},
			&cli.StringFlag{Name: "region", Value: "eu-central-1"},
		},
		Action: seed,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one source file argument")
	}
	src, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(c.String("region")))
	if err != nil {
		return fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	intake := api.SubmIntake{
		SubmUuid:  uuid.NewString(),
		UserID:    int64(c.Int("user")),
		ProblemID: c.String("problem"),
		LangID:    c.String("lang"),
		SrcCode:   string(src),
		Submitted: time.Now().UTC(),
	}
	body, err := json.Marshal(intake)
	if err != nil {
		return err
	}

	_, err = sqs.NewFromConfig(cfg).SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.String("queue")),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send intake message: %w", err)
	}

	fmt.Println(intake.SubmUuid)
	return nil
}
