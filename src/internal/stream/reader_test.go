package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/admi-n/excavator-audit/src/internal/ai/parser"
)

func buildStream(t *testing.T, events ...func(w *Writer) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, ev := range events {
		if err := ev(w); err != nil {
			t.Fatalf("build stream: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close stream: %v", err)
	}
	return buf.Bytes()
}

func send(t EventType, data any) func(w *Writer) error {
	return func(w *Writer) error { return w.Send(t, data) }
}

func successStream(t *testing.T) []byte {
	return buildStream(t,
		send(EventFinding, parser.Finding{Severity: parser.SeverityLow, Title: "A"}),
		send(EventFinding, parser.Finding{Severity: parser.SeverityCritical, Title: "B"}),
		send(EventScore, 60),
		send(EventSummary, "s"),
		send(EventID, "abc123def456"),
	)
}

func checkSuccessState(t *testing.T, st State) {
	t.Helper()
	if len(st.Findings) != 2 || st.Findings[0].Title != "B" || st.Findings[1].Title != "A" {
		t.Fatalf("unexpected findings %+v", st.Findings)
	}
	if st.Score == nil || *st.Score != 60 {
		t.Errorf("unexpected score %v", st.Score)
	}
	if st.Summary != "s" || st.ID != "abc123def456" {
		t.Errorf("unexpected summary/id %q/%q", st.Summary, st.ID)
	}
	if st.Error != "" {
		t.Errorf("unexpected error %q", st.Error)
	}
	if !st.Done {
		t.Error("expected Done after terminal unit")
	}
}

func TestReassembler_ChunkBoundaries(t *testing.T) {
	data := successStream(t)

	for _, size := range []int{1, 2, 3, 7, 16, len(data)} {
		r := NewReassembler(nil)
		done := false
		for i := 0; i < len(data) && !done; i += size {
			end := i + size
			if end > len(data) {
				end = len(data)
			}
			done = r.Feed(data[i:end])
		}
		if !done {
			t.Fatalf("chunk size %d: terminal unit not detected", size)
		}
		checkSuccessState(t, r.State())
	}
}

func TestReassembler_OnUpdate(t *testing.T) {
	var snapshots []State
	r := NewReassembler(func(s State) { snapshots = append(snapshots, s) })
	r.Feed(successStream(t))

	if len(snapshots) != 5 {
		t.Fatalf("expected 5 updates, got %d", len(snapshots))
	}
	if len(snapshots[0].Findings) != 1 || snapshots[0].Findings[0].Title != "A" {
		t.Errorf("first snapshot should hold only the first finding: %+v", snapshots[0].Findings)
	}
	// 快照与内部状态互不影响
	snapshots[4].Findings[0].Title = "mutated"
	if r.State().Findings[0].Title != "B" {
		t.Error("snapshot shares memory with reassembler state")
	}
}

func TestReassembler_SkipsMalformed(t *testing.T) {
	input := strings.Join([]string{
		"data: {not json",
		"",
		": keep-alive comment",
		"event: finding",
		`data: {"type":"unknown","data":1}`,
		`data: {"type":"finding","data":"not an object"}`,
		`data: {"type":"score","data":"high"}`,
		`data: {"type":"finding","data":{"severity":"Bogus","title":"X"}}`,
		`data: {"type":"finding","data":{"severity":"Info","title":"Y"}}`,
		"data: ",
		`data: {"type":"error","data":"Failed to parse audit results. Please try again."}`,
		"data: [DONE]",
		`data: {"type":"id","data":"after-done"}`,
		"",
	}, "\r\n")

	r := NewReassembler(nil)
	if !r.Feed([]byte(input)) {
		t.Fatal("expected terminal unit")
	}

	st := r.State()
	if len(st.Findings) != 2 || st.Findings[0].Title != "Y" || st.Findings[1].Title != "X" {
		t.Errorf("unknown severity should sort last, got %+v", st.Findings)
	}
	if st.Score != nil {
		t.Errorf("malformed score should be ignored, got %d", *st.Score)
	}
	if st.Error != "Failed to parse audit results. Please try again." {
		t.Errorf("unexpected error %q", st.Error)
	}
	if st.ID != "" {
		t.Errorf("events after terminal unit must be ignored, got id %q", st.ID)
	}
	if !r.Feed([]byte(`data: {"type":"id","data":"x"}` + "\n")) {
		t.Error("Feed after Done should keep reporting done")
	}
}

func TestReassembler_ErrorDoesNotStop(t *testing.T) {
	data := buildStream(t,
		send(EventError, "upstream timeout"),
		send(EventSummary, "still folded"),
	)

	r := NewReassembler(nil)
	r.Feed(data)
	st := r.State()
	if st.Error != "upstream timeout" || st.Summary != "still folded" || !st.Done {
		t.Errorf("unexpected state %+v", st)
	}
	if len(st.Findings) != 0 || st.Score != nil {
		t.Errorf("error stream should not produce findings or score: %+v", st)
	}
}

func TestConsume(t *testing.T) {
	r := NewReassembler(nil)
	st, err := r.Consume(context.Background(), io.NopCloser(bytes.NewReader(successStream(t))))
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	checkSuccessState(t, st)
}

func TestConsume_EOFWithoutTerminal(t *testing.T) {
	input := `data: {"type":"score","data":42}` + "\n\n" + `data: {"type":"summ`
	st, err := NewReassembler(nil).Consume(context.Background(), io.NopCloser(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if st.Done || st.Aborted {
		t.Errorf("stream without terminal unit is neither done nor aborted: %+v", st)
	}
	if st.Score == nil || *st.Score != 42 {
		t.Errorf("unexpected score %v", st.Score)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingReader) Close() error             { return nil }

func TestConsume_ReadError(t *testing.T) {
	_, err := NewReassembler(nil).Consume(context.Background(), failingReader{})
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestConsume_CancelIsCleanAbort(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReassembler(func(s State) {
		if len(s.Findings) == 2 {
			cancel()
		}
	})

	go func() {
		w := NewWriter(pw)
		_ = w.Send(EventFinding, parser.Finding{Severity: parser.SeverityMedium, Title: "one"})
		_ = w.Send(EventFinding, parser.Finding{Severity: parser.SeverityHigh, Title: "two"})
		// 读端关闭后写入失败，goroutine 随之退出
		_ = w.Send(EventScore, 10)
	}()

	st, err := r.Consume(ctx, pr)
	if err != nil {
		t.Fatalf("cancellation should not be reported as an error: %v", err)
	}
	if !st.Aborted {
		t.Error("expected Aborted")
	}
	if st.Done || st.Error != "" {
		t.Errorf("aborted stream should not be done or errored: %+v", st)
	}
	if len(st.Findings) != 2 || st.Findings[0].Title != "two" {
		t.Errorf("accumulated findings should be kept, got %+v", st.Findings)
	}
}
