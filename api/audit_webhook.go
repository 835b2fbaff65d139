package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize bounds the outbound audit queue. A full queue drops
// events; request handling never waits on the collector.
const webhookQueueSize = 1024

// auditWebhook forwards audit entries to an external collector. A single
// background goroutine drains a bounded channel and POSTs each entry, with
// one retry on transport errors and 5xx answers.
type auditWebhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	entries    chan auditEntry
	wg         sync.WaitGroup
}

func newAuditWebhook(url, authHeader string) *auditWebhook {
	w := &auditWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		entries:    make(chan auditEntry, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// enqueue never blocks. When the queue is full the entry is dropped and the
// drop itself is logged.
func (w *auditWebhook) enqueue(entry auditEntry) {
	select {
	case w.entries <- entry:
	default:
		slog.Warn("audit webhook: queue full, dropping entry", "event", entry.Event)
	}
}

// close drains the queue and stops the dispatch goroutine.
func (w *auditWebhook) close() {
	close(w.entries)
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for entry := range w.entries {
		w.send(entry)
	}
}

func (w *auditWebhook) send(entry auditEntry) {
	body, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("audit webhook: marshal failed", "error", err)
		return
	}
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Second)
		}
		retryable, err := w.post(body)
		if err == nil {
			return
		}
		slog.Warn("audit webhook: delivery failed",
			"error", err, "attempt", attempt, "retryable", retryable)
		if !retryable {
			return
		}
	}
}

// post performs one delivery attempt. Transport failures and 5xx answers
// are retryable; a 4xx means the collector rejected the payload and a retry
// would not help.
func (w *auditWebhook) post(body []byte) (retryable bool, err error) {
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Gatehouse-Audit-Webhook/1.0")
	if w.authHeader != "" {
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("collector answered %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("collector answered %d", resp.StatusCode)
	}
}
