package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"aggregator/internal/broker"
	"aggregator/internal/config"
	"aggregator/internal/constants"
	"aggregator/internal/event"
	"aggregator/internal/logger"
	"aggregator/pkg/logging"
)

type options struct {
	url            string
	events         int
	duplicateRatio float64
	batchSize      int
	workers        int
	rps            float64
	topic          string
	kafkaBrokers   string
	kafkaTopic     string
	seed           uint64
}

type sendStats struct {
	sent      atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "publisher",
		Short: "At-least-once load generator for the aggregator",
		Long:  "Publisher sends a mix of unique events and redeliveries to the aggregator over HTTP or Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.url, "url", "http://localhost:8080", "Aggregator base URL")
	flags.IntVar(&opts.events, "events", 1000, "Total events to send, redeliveries included")
	flags.Float64Var(&opts.duplicateRatio, "duplicate-ratio", 0.2, "Share of sends that are redeliveries (0-1)")
	flags.IntVar(&opts.batchSize, "batch-size", 1, "Events per request")
	flags.IntVar(&opts.workers, "workers", 5, "Concurrent senders")
	flags.Float64Var(&opts.rps, "rps", 0, "Requests per second limit, 0 for unlimited")
	flags.StringVar(&opts.topic, "topic", "", "Fixed topic, random per event when empty")
	flags.StringVar(&opts.kafkaBrokers, "kafka-brokers", "", "Comma separated brokers; publishes to Kafka instead of HTTP")
	flags.StringVar(&opts.kafkaTopic, "kafka-topic", constants.DefaultInputTopic, "Kafka topic used with --kafka-brokers")
	flags.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "Random seed")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (o *options) validate() error {
	if o.events < 1 {
		return fmt.Errorf("--events must be positive")
	}
	if o.duplicateRatio < 0 || o.duplicateRatio >= 1 {
		return fmt.Errorf("--duplicate-ratio must be in [0, 1)")
	}
	if o.batchSize < 1 || o.workers < 1 {
		return fmt.Errorf("--batch-size and --workers must be positive")
	}
	return nil
}

func run(ctx context.Context, opts *options) error {
	earlyLog := logging.NewEarlyLog(constants.PublisherName)
	if err := opts.validate(); err != nil {
		earlyLog.Error("%v", err)
		return err
	}

	log, err := logger.New("info", "console")
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return err
	}
	defer log.Sync()

	httpClient := &http.Client{Timeout: constants.DefaultHTTPTimeout}
	httpTransport := newHTTPSender(httpClient, opts.url)

	var sender Sender = httpTransport
	transport := "http"
	if opts.kafkaBrokers != "" {
		brokers := strings.Split(opts.kafkaBrokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		sender = &kafkaSender{
			producer: broker.NewKafkaProducer(config.KafkaConfig{Brokers: brokers}, log),
			topic:    opts.kafkaTopic,
		}
		transport = "kafka"
	}
	defer sender.Close()

	runID := uuid.NewString()[:8]
	plan := NewPlan(opts.events, opts.duplicateRatio)
	recs := NewGenerator(runID, opts.topic, opts.seed).Generate(plan)
	batches := Batches(recs, opts.batchSize)

	log.Infow("Publishing events",
		"run", runID,
		"transport", transport,
		"unique", plan.Unique,
		"duplicates", plan.Duplicates,
		"batches", len(batches),
		"workers", opts.workers,
	)

	limit := rate.Inf
	if opts.rps > 0 {
		limit = rate.Limit(opts.rps)
	}
	limiter := rate.NewLimiter(limit, opts.workers)

	stats := &sendStats{}
	start := time.Now()
	sendAll(ctx, sender, batches, opts.workers, limiter, stats, log)
	elapsed := time.Since(start)

	throughput := float64(stats.sent.Load()) / elapsed.Seconds()
	log.Infow("Publishing finished",
		"sent", stats.sent.Load(),
		"succeeded", stats.succeeded.Load(),
		"failed", stats.failed.Load(),
		"elapsed", elapsed.String(),
		"events_per_second", fmt.Sprintf("%.1f", throughput),
	)

	// Give the aggregator one flush window before reading its totals.
	time.Sleep(constants.DefaultFirstItemTimeout + 500*time.Millisecond)

	aggStats, err := httpTransport.FetchStats(ctx)
	if err != nil {
		log.Warnw("Could not fetch aggregator stats", "error", err)
		return nil
	}
	log.Infow("Aggregator stats",
		"received", aggStats["received"],
		"unique_processed", aggStats["unique_processed"],
		"duplicate_dropped", aggStats["duplicate_dropped"],
		"queue_size", aggStats["queue_size"],
		"topics", aggStats["topics"],
	)

	if stats.failed.Load() > 0 {
		return fmt.Errorf("%d events failed to send", stats.failed.Load())
	}
	return nil
}

// sendAll fans batches out over a bounded pool. A failed batch is counted and
// logged; it does not stop the run.
func sendAll(ctx context.Context, sender Sender, batches [][]event.Record, workers int, limiter *rate.Limiter, stats *sendStats, log logger.Logger) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, batch := range batches {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := limiter.Wait(gCtx); err != nil {
				return nil
			}
			stats.sent.Add(int64(len(batch)))
			if err := sender.Send(gCtx, batch); err != nil {
				stats.failed.Add(int64(len(batch)))
				log.Warnw("Send failed", "error", err, "count", len(batch))
				return nil
			}
			stats.succeeded.Add(int64(len(batch)))
			return nil
		})
	}
	_ = g.Wait()
}
