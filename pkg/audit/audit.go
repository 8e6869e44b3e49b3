package audit

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// Entry is one verdict's audit record. Evidence and redacted text are
// already PII-masked by the time an entry reaches a sink.
type Entry struct {
	RequestID     string    `json:"request_id"`
	AppID         string    `json:"app_id,omitempty"`
	Origin        string    `json:"origin,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Direction     string    `json:"direction"`
	IsBlocked     bool      `json:"is_blocked"`
	BlockReason   string    `json:"block_reason,omitempty"`
	CombinedScore float64   `json:"combined_score"`
	Escalated     bool      `json:"escalated"`
	ModelStageRan bool      `json:"model_stage_ran"`
	Categories    []string  `json:"categories,omitempty"`
	PIICategories []string  `json:"pii_categories,omitempty"`
	DurationMs    float64   `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Sink persists audit entries. Record is fire-and-forget from the
// pipeline's perspective: sinks log their own failures and never block a
// verdict.
type Sink interface {
	Record(ctx context.Context, e Entry)
	Close() error
}

// MultiSink fans an entry out to several sinks.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e Entry) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FileSink writes JSON lines to a local file.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Record(_ context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		log.Printf("[AUDIT] marshal failed for %s: %v", e.RequestID, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		log.Printf("[AUDIT] write failed for %s: %v", e.RequestID, err)
	}
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
