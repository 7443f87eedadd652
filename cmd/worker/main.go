package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
	"github.com/imrishuroy/go-flow-scheduler/internal/config"
	"github.com/imrishuroy/go-flow-scheduler/internal/logging"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logrus.WithError(err).Fatal("failed to init aws clients")
	}
	p := NewProcessor(clients, cfg.Tables.Orders, cfg.Tables.OrdersExternalIdx, cfg.Tables.Idempotency)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"external_order_id":"R-local-1","status":"in_progress"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil {
			logrus.WithError(err).Fatal("local handler error")
		}
		logrus.WithField("failures", len(resp.BatchItemFailures)).Info("local event processed")
		return
	}

	lambda.Start(p.Handle)
}
