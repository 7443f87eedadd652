package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
	"github.com/imrishuroy/go-flow-scheduler/internal/catalog"
	"github.com/imrishuroy/go-flow-scheduler/internal/config"
	"github.com/imrishuroy/go-flow-scheduler/internal/customers"
	"github.com/imrishuroy/go-flow-scheduler/internal/flows"
	"github.com/imrishuroy/go-flow-scheduler/internal/handlers"
	"github.com/imrishuroy/go-flow-scheduler/internal/idempotency"
	"github.com/imrishuroy/go-flow-scheduler/internal/lease"
	"github.com/imrishuroy/go-flow-scheduler/internal/logging"
	"github.com/imrishuroy/go-flow-scheduler/internal/orders"
	"github.com/imrishuroy/go-flow-scheduler/internal/partner"
	"github.com/imrishuroy/go-flow-scheduler/internal/scheduler"
	"github.com/imrishuroy/go-flow-scheduler/internal/validation"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func buildRunner(cfg *config.Config, clients *aws.AWSClients) (*scheduler.Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	v := validation.New()
	db := clients.DynamoDB

	flowStore := flows.NewStore(db, cfg.Tables.Flows, cfg.Tables.FlowsDueIndex)
	customerStore := customers.NewStore(db, cfg.Tables.Customers, cfg.Tables.Addresses)
	intentStore := idempotency.NewStore(db, cfg.Tables.Idempotency, cfg.Schedule.IntentTTL)
	orderStore := orders.NewStore(db, cfg.Tables.Orders, cfg.Tables.OrdersExternalIdx, cfg.Tables.Idempotency)

	partnerClient := partner.NewClient(partner.Options{
		BaseURL:   cfg.Partner.BaseURL,
		APIKey:    cfg.Partner.APIKey,
		Timeout:   cfg.Partner.Timeout,
		RateLimit: cfg.Partner.RateLimit,
		Burst:     cfg.Partner.Burst,
		Validator: v,
	})

	deps := scheduler.Deps{
		Selector: scheduler.NewSelector(flowStore,
			customers.NewTierPolicy(customerStore, customers.Tier(cfg.Schedule.MinimumTier)),
			scheduler.SelectorOptions{
				Location:     loc,
				ClockSkew:    cfg.Schedule.ClockSkew,
				OverdueGrace: cfg.Schedule.OverdueGrace,
			}),
		Builder: scheduler.NewPayloadBuilder(catalog.NewStore(db, cfg.Tables.Products), customerStore, v,
			scheduler.PayloadOptions{
				DefaultWindow:  cfg.Schedule.DefaultWindow,
				DefaultAddress: cfg.Schedule.DefaultAddress,
			}),
		Dispatcher: scheduler.NewDispatcher(partnerClient, intentStore, orderStore, cfg.Schedule.IntentStaleAfter),
		Advancer:   scheduler.NewAdvancer(flowStore, loc),
		Failures:   flowStore,
		Metrics:    aws.NewMetricsPublisher(clients.CloudWatch, cfg.MetricsNamespace),
	}
	if cfg.EventsQueueURL != "" {
		deps.Events = aws.NewPublisher(clients.SQS, cfg.EventsQueueURL)
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deps.Lock = lease.New(rdb, lease.DefaultKey, cfg.RunLockTTL)
	}

	return scheduler.NewRunner(deps, scheduler.RunnerOptions{
		MaxRetries:  cfg.Schedule.MaxRetries,
		Concurrency: cfg.Schedule.Concurrency,
	}), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logrus.WithError(err).Fatal("failed to init aws clients")
	}

	runner, err := buildRunner(cfg, clients)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build scheduler")
	}

	r := handlers.NewRouter(runner, validation.New())

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		logrus.WithField("addr", cfg.LocalAddr).Info("running local server")
		if err := r.Run(cfg.LocalAddr); err != nil {
			logrus.WithError(err).Fatal("failed to run local server")
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
