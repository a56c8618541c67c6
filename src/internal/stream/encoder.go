package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// EventType 流事件类型
type EventType string

const (
	EventFinding EventType = "finding"
	EventScore   EventType = "score"
	EventSummary EventType = "summary"
	EventID      EventType = "id"
	EventError   EventType = "error"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// ErrClosed 终止标记已写出后继续发送
var ErrClosed = errors.New("stream already closed")

// Event 单条流事件，Data 保留原始 JSON 以便按类型解码
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type envelope struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Encode 把事件编码为一个完整的传输单元: data: {"type":..,"data":..}\n\n
func Encode(t EventType, data any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(dataPrefix)

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(envelope{Type: t, Data: data}); err != nil {
		return nil, fmt.Errorf("encode %s event: %w", t, err)
	}

	// json.Encoder 已追加一个换行
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Terminal 返回终止单元
func Terminal() []byte {
	return []byte(dataPrefix + doneSentinel + "\n\n")
}

type flusher interface {
	Flush()
}

// Writer 顺序写出事件，每个单元写完立即 flush，终止单元只写一次
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	flush  flusher
	closed bool
}

// NewWriter 包装底层 writer；若其实现 Flush() 则每个单元后刷新
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(flusher); ok {
		sw.flush = f
	}
	return sw
}

// Send 编码并写出一个事件
func (sw *Writer) Send(t EventType, data any) error {
	unit, err := Encode(t, data)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrClosed
	}
	return sw.write(unit)
}

// SendError 写出 error 事件，消息为空时使用 fallback
func (sw *Writer) SendError(message, fallback string) error {
	if message == "" {
		message = fallback
	}
	return sw.Send(EventError, message)
}

// Close 写出终止单元，重复调用无副作用
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return nil
	}
	sw.closed = true
	return sw.write(Terminal())
}

func (sw *Writer) write(unit []byte) error {
	if _, err := sw.w.Write(unit); err != nil {
		return fmt.Errorf("write stream unit: %w", err)
	}
	if sw.flush != nil {
		sw.flush.Flush()
	}
	return nil
}
