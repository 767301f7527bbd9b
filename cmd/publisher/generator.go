package main

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"aggregator/internal/event"
)

var defaultTopics = []string{
	"user.created",
	"order.placed",
	"payment.processed",
	"notification.sent",
	"audit.logged",
	"inventory.updated",
	"shipping.dispatched",
	"review.submitted",
	"refund.processed",
	"subscription.activated",
}

// Plan splits a send total into first deliveries and redeliveries.
type Plan struct {
	Unique     int
	Duplicates int
}

func NewPlan(total int, duplicateRatio float64) Plan {
	unique := int(float64(total) * (1 - duplicateRatio))
	if unique < 1 && total > 0 {
		unique = 1
	}
	return Plan{Unique: unique, Duplicates: total - unique}
}

func (p Plan) Total() int {
	return p.Unique + p.Duplicates
}

type Generator struct {
	run   string
	topic string
	rng   *rand.Rand
	now   func() time.Time
}

// NewGenerator builds events for one run. An empty topic picks a random one
// per event.
func NewGenerator(run, topic string, seed uint64) *Generator {
	return &Generator{
		run:   run,
		topic: topic,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:   time.Now,
	}
}

func (g *Generator) Event(i int) event.Record {
	topic := g.topic
	if topic == "" {
		topic = defaultTopics[g.rng.IntN(len(defaultTopics))]
	}

	now := g.now().UTC()
	payload, _ := json.Marshal(map[string]interface{}{
		"index": i,
		"data":  fmt.Sprintf("test-data-%d", i),
		"sent":  now.UnixMilli(),
	})

	return event.Record{
		Topic:     topic,
		EventID:   fmt.Sprintf("evt-%s-%d", g.run, i),
		Timestamp: now,
		Source:    strings.SplitN(topic, ".", 2)[0] + "-service",
		Payload:   event.Payload(payload),
	}
}

// Generate returns plan.Unique distinct events plus plan.Duplicates exact
// copies of randomly chosen ones, shuffled together.
func (g *Generator) Generate(plan Plan) []event.Record {
	recs := make([]event.Record, 0, plan.Total())
	for i := 0; i < plan.Unique; i++ {
		recs = append(recs, g.Event(i))
	}
	for i := 0; i < plan.Duplicates && plan.Unique > 0; i++ {
		recs = append(recs, recs[g.rng.IntN(plan.Unique)])
	}
	g.rng.Shuffle(len(recs), func(i, j int) {
		recs[i], recs[j] = recs[j], recs[i]
	})
	return recs
}

func Batches(recs []event.Record, size int) [][]event.Record {
	if size < 1 {
		size = 1
	}
	batches := make([][]event.Record, 0, (len(recs)+size-1)/size)
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		batches = append(batches, recs[start:end])
	}
	return batches
}
