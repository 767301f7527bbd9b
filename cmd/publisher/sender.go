package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"aggregator/internal/broker"
	"aggregator/internal/event"
)

type Sender interface {
	Send(ctx context.Context, batch []event.Record) error
	Close() error
}

type httpSender struct {
	client  *http.Client
	baseURL string
}

func newHTTPSender(client *http.Client, baseURL string) *httpSender {
	return &httpSender{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Send posts a single object for one event and a bare array otherwise.
func (s *httpSender) Send(ctx context.Context, batch []event.Record) error {
	var (
		body []byte
		err  error
	)
	if len(batch) == 1 {
		body, err = json.Marshal(batch[0])
	} else {
		body, err = json.Marshal(batch)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/publish", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("publish rejected: %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (s *httpSender) Close() error {
	return nil
}

// FetchStats returns the aggregator's /stats body as a generic map.
func (s *httpSender) FetchStats(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats request returned %d", resp.StatusCode)
	}

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

type kafkaSender struct {
	producer broker.Producer
	topic    string
}

func (s *kafkaSender) Send(ctx context.Context, batch []event.Record) error {
	return s.producer.Publish(ctx, s.topic, batch...)
}

func (s *kafkaSender) Close() error {
	return s.producer.Close()
}
