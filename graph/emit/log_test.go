package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitterTextFormat(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		ThreadID: "t1",
		Step:     3,
		Nodes:    []string{"devil_advocate", "argument_scorer"},
		Msg:      "wave_start",
	})

	line := buf.String()
	if !strings.HasPrefix(line, "[wave_start] thread=t1 step=3") {
		t.Errorf("unexpected text line: %q", line)
	}
	if !strings.Contains(line, "nodes=devil_advocate,argument_scorer") {
		t.Errorf("nodes missing from line: %q", line)
	}
}

func TestLogEmitterTextIncludesMeta(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{ThreadID: "t1", Step: 1, Msg: "merge", Meta: map[string]any{"round": 2}})

	if !strings.Contains(buf.String(), `meta={"round":2}`) {
		t.Errorf("meta missing: %q", buf.String())
	}
}

func TestLogEmitterJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{ThreadID: "t1", Step: 1, Nodes: []string{"intake"}, Msg: "node_end",
		Meta: map[string]any{"duration_ms": int64(12)}})
	emitter.Emit(Event{ThreadID: "t1", Step: 2, Msg: "checkpoint"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("line count = %d, want 2", len(lines))
	}

	var decoded struct {
		ThreadID string         `json:"threadID"`
		Step     int            `json:"step"`
		Nodes    []string       `json:"nodes"`
		Msg      string         `json:"msg"`
		Meta     map[string]any `json:"meta"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded.ThreadID != "t1" || decoded.Msg != "node_end" || decoded.Nodes[0] != "intake" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestNullEmitterDiscards(t *testing.T) {
	// Must simply not panic.
	NewNullEmitter().Emit(Event{ThreadID: "t1", Msg: "anything"})
}
