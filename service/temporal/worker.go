package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/basketswap/service/basket"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig wires the order workflow to its collaborators.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// MaxConcurrentOrders bounds ExecuteOrder activities running at once.
	// Zero means 10.
	MaxConcurrentOrders int

	// Dependencies
	Engine    EngineInterface
	Catalog   CatalogInterface
	Signer    basket.Signer
	Store     StoreInterface
	Publisher PublisherInterface // Optional: if nil, order events are not published
	Logger    *slog.Logger
}

// Worker runs basket orders pulled from the task queue.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker dials Temporal and registers BasketOrderWorkflow and its activities.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Engine == nil || config.Catalog == nil || config.Signer == nil || config.Store == nil {
		return nil, fmt.Errorf("engine, catalog, signer and store are required")
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	concurrency := config.MaxConcurrentOrders
	if concurrency <= 0 {
		concurrency = 10
	}
	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	w.RegisterWorkflow(BasketOrderWorkflow)
	logger.Info("registered workflow", "name", "BasketOrderWorkflow")

	activities := NewActivities(
		config.Engine,
		config.Catalog,
		config.Signer,
		config.Store,
		config.Publisher,
		logger,
	)

	w.RegisterActivity(activities.ExecuteOrder)
	w.RegisterActivity(activities.RecordPurchase)
	w.RegisterActivity(activities.PublishOrderEvent)

	logger.Info("registered activities",
		"activities", []string{"ExecuteOrder", "RecordPurchase", "PublishOrderEvent"},
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Start blocks until the worker is stopped or interrupted.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	err := w.worker.Run(worker.InterruptCh())
	if err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop drains in-flight tasks and closes the Temporal connection.
func (w *Worker) Stop() {
	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
