package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// LogEmitter writes structured log output to a writer.
//
// Two output modes:
//   - Text (default): human-readable lines with key=value pairs
//   - JSON: one JSON object per line (JSONL)
//
// Example text output:
//
//	[wave_start] thread=debate-7 step=3 nodes=devil_advocate,socratic_questioner
//
// Example JSON output:
//
//	{"threadID":"debate-7","step":3,"nodes":["devil_advocate"],"msg":"wave_start","meta":null}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout if nil).
// jsonMode selects JSONL output over the text format.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes one event in the configured format. Safe for concurrent use;
// each event is written as a single line.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		ThreadID string         `json:"threadID"`
		Step     int            `json:"step"`
		Nodes    []string       `json:"nodes"`
		Msg      string         `json:"msg"`
		Meta     map[string]any `json:"meta"`
	}{
		ThreadID: event.ThreadID,
		Step:     event.Step,
		Nodes:    event.Nodes,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] thread=%s step=%d", event.Msg, event.ThreadID, event.Step)

	if len(event.Nodes) > 0 {
		fmt.Fprintf(l.writer, " nodes=%s", strings.Join(event.Nodes, ","))
	}

	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
