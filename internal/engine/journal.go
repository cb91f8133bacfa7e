package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	ActionBuy    = "buy"
	ActionSell   = "sell"
	ActionCancel = "cancel"
	ActionClose  = "close"
)

const (
	ResultSubmitted = "submitted"
	ResultDryRun    = "dry_run"
	ResultFailed    = "failed"
	ResultCanceled  = "canceled"
	ResultRejected  = "rejected"
)

// Entry is one order action as written to the trade journal.
type Entry struct {
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Instrument string    `json:"instrument"`
	OrderID    string    `json:"order_id,omitempty"`
	Qty        float64   `json:"qty,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Profit     *float64  `json:"profit,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
}

// Journal appends entries as NDJSON and keeps the latest ones in memory for
// the status API. An empty path keeps the in-memory tail only.
type Journal struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	recent *RingBuffer[Entry]
	log    zerolog.Logger
	mu     sync.Mutex
}

func NewJournal(path, runID string, recentSize int, log zerolog.Logger) (*Journal, error) {
	j := &Journal{
		runID:  runID,
		recent: NewRingBuffer[Entry](recentSize),
		log:    log,
	}
	if path == "" {
		return j, nil
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	j.file = file
	j.writer = bufio.NewWriter(file)
	return j, nil
}

func (j *Journal) RunID() string {
	return j.runID
}

func (j *Journal) Append(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry.RunID = j.runID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	j.recent.Add(entry)
	if j.writer == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		j.log.Error().Err(err).Msg("failed to marshal journal entry")
		return
	}
	if _, err := j.writer.Write(append(payload, '\n')); err != nil {
		j.log.Error().Err(err).Msg("failed to write journal entry")
		return
	}
	if err := j.writer.Flush(); err != nil {
		j.log.Error().Err(err).Msg("failed to flush journal")
	}
}

// Recent returns the latest entries, oldest first.
func (j *Journal) Recent() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.recent.Values()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	if err := j.writer.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}
