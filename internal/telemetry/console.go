package telemetry

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ConsoleWriter prints one status line per document.
type ConsoleWriter struct {
	out io.Writer
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

func (c *ConsoleWriter) Write(_ context.Context, docs []Document) error {
	for _, doc := range docs {
		sid := "--------"
		if doc.SessionID != nil && len(*doc.SessionID) >= 8 {
			sid = (*doc.SessionID)[:8]
		}
		user := doc.UserID
		if user == "" {
			user = "-"
		}
		value := "null"
		if doc.EventValue != nil {
			value = fmt.Sprint(doc.EventValue)
		}
		fmt.Fprintf(c.out, "%s = [%s] %-12s => Session: %s, User: %s, value=%s\n",
			doc.Timestamp.Format("Jan 02 15:04:05.000"),
			center(doc.EventType, 12),
			doc.EventName,
			sid,
			user,
			value,
		)
	}
	return nil
}

// center pads str to width with the slack split around it.
func center(str string, width int) string {
	if len(str) >= width {
		return str
	}
	spaces := (width - len(str)) / 2
	return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
}
