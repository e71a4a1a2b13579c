package telemetry

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

var csvHeader = []string{"timestamp", "session_id", "user_id", "event_type", "event_name", "event_value", "event_context"}

// CSVWriter appends documents to a CSV file. event_value and event_context
// are written as JSON so a null value stays distinguishable from "".
type CSVWriter struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenCSV creates (truncating) path and writes the header row.
func OpenCSV(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv log: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	w.Flush()
	return &CSVWriter{f: f, w: w}, nil
}

func (c *CSVWriter) Write(_ context.Context, docs []Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, doc := range docs {
		sid := ""
		if doc.SessionID != nil {
			sid = *doc.SessionID
		}
		value, _ := json.Marshal(doc.EventValue)
		ctx, _ := json.Marshal(doc.EventContext)
		rec := []string{
			doc.Timestamp.Format(time.RFC3339Nano),
			sid,
			doc.UserID,
			doc.EventType,
			doc.EventName,
			string(value),
			string(ctx),
		}
		if err := c.w.Write(rec); err != nil {
			return &SinkError{Kind: KindTransport, Err: err}
		}
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return &SinkError{Kind: KindTransport, Err: err}
	}
	return nil
}

func (c *CSVWriter) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	return c.f.Close()
}
