// Package sqsintake bridges an SQS queue into the submission store.
// External layers that cannot reach Postgres directly push api.SubmIntake
// messages; the bridge inserts the PENDING rows and nudges the dispatcher.
package sqsintake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/codeproof/judge/api"
	"github.com/codeproof/judge/internal/store"
)

type Bridge struct {
	sqsClient *sqs.Client
	queueUrl  string
	store     store.Store
	wake      func()
	logger    *slog.Logger
}

func New(ctx context.Context, region, queueUrl string, st store.Store, wake func(), logger *slog.Logger) (*Bridge, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return &Bridge{
		sqsClient: sqs.NewFromConfig(cfg),
		queueUrl:  queueUrl,
		store:     st,
		wake:      wake,
		logger:    logger,
	}, nil
}

// Run long-polls the intake queue until ctx is cancelled. Messages are
// deleted only after the row is durably inserted; SQS redelivery makes the
// bridge at-least-once, and the uuid primary key deduplicates replays.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := b.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(b.queueUrl),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     10,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error("failed to receive from intake queue", "err", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range out.Messages {
			if err := b.handle(ctx, *msg.Body); err != nil {
				b.logger.Error("failed to handle intake message", "err", err)
				continue // leave on queue for redelivery
			}
			_, err := b.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(b.queueUrl),
				ReceiptHandle: msg.ReceiptHandle,
			})
			if err != nil {
				b.logger.Error("failed to delete intake message", "err", err)
			}
		}
	}
}

func (b *Bridge) handle(ctx context.Context, body string) error {
	var in api.SubmIntake
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return fmt.Errorf("malformed intake message: %w", err)
	}
	if in.SubmUuid == "" {
		in.SubmUuid = uuid.NewString()
	}
	if in.UserID == 0 || in.ProblemID == "" || in.LangID == "" {
		return fmt.Errorf("intake message missing required fields")
	}

	err := b.store.Enqueue(ctx, &store.Submission{
		Uuid:        in.SubmUuid,
		UserID:      in.UserID,
		ProblemID:   in.ProblemID,
		LangID:      in.LangID,
		SrcCode:     in.SrcCode,
		SubmittedAt: in.Submitted,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue submission %s: %w", in.SubmUuid, err)
	}

	b.logger.Info("enqueued submission", "subm", in.SubmUuid, "problem", in.ProblemID)
	if b.wake != nil {
		b.wake()
	}
	return nil
}
