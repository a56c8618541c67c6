package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/admi-n/excavator-audit/src/internal/ai/parser"
)

const readBufferSize = 4096

// State 客户端累积的分析状态
type State struct {
	Findings []parser.Finding `json:"findings"`
	Score    *int             `json:"score,omitempty"`
	Summary  string           `json:"summary,omitempty"`
	ID       string           `json:"id,omitempty"`
	Error    string           `json:"error,omitempty"`
	Done     bool             `json:"done"`
	Aborted  bool             `json:"aborted,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Findings = append([]parser.Finding(nil), s.Findings...)
	if s.Score != nil {
		score := *s.Score
		out.Score = &score
	}
	return out
}

// Reassembler 把任意切分的字节块还原为事件并折叠进 State。
// 非并发安全，每个流使用一个实例。
type Reassembler struct {
	buf   []byte
	state State

	// OnUpdate 每处理一个事件后收到一份快照
	OnUpdate func(State)
}

// NewReassembler 创建新的重组器
func NewReassembler(onUpdate func(State)) *Reassembler {
	return &Reassembler{
		state:    State{Findings: make([]parser.Finding, 0)},
		OnUpdate: onUpdate,
	}
}

// State 返回当前状态快照
func (r *Reassembler) State() State {
	return r.state.clone()
}

// Feed 追加一个字节块并处理其中所有完整的行；收到终止标记后返回 true
func (r *Reassembler) Feed(chunk []byte) bool {
	if r.state.Done {
		return true
	}

	r.buf = append(r.buf, chunk...)
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			break
		}
		line := r.buf[:i]
		r.buf = r.buf[i+1:]

		if r.dispatch(line) {
			r.state.Done = true
			r.buf = nil
			return true
		}
	}

	// 残留的半行挪到新的底层数组，避免旧数据一直被引用
	if len(r.buf) > 0 {
		r.buf = append([]byte(nil), r.buf...)
	} else {
		r.buf = nil
	}
	return false
}

// dispatch 处理一行，返回是否遇到终止标记
func (r *Reassembler) dispatch(line []byte) bool {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return false
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return false
	}
	if string(payload) == doneSentinel {
		return true
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return false
	}

	if !r.apply(ev) {
		return false
	}
	if r.OnUpdate != nil {
		r.OnUpdate(r.State())
	}
	return false
}

// apply 把事件折叠进状态；无法解码或未知类型的事件直接丢弃
func (r *Reassembler) apply(ev Event) bool {
	switch ev.Type {
	case EventFinding:
		var f parser.Finding
		if err := json.Unmarshal(ev.Data, &f); err != nil {
			return false
		}
		r.state.Findings = append(r.state.Findings, f)
		parser.SortFindings(r.state.Findings)

	case EventScore:
		var v float64
		if err := json.Unmarshal(ev.Data, &v); err != nil {
			return false
		}
		score := int(math.Round(v))
		r.state.Score = &score

	case EventSummary:
		return decodeString(ev.Data, &r.state.Summary)

	case EventID:
		return decodeString(ev.Data, &r.state.ID)

	case EventError:
		return decodeString(ev.Data, &r.state.Error)

	default:
		return false
	}
	return true
}

func decodeString(data json.RawMessage, dst *string) bool {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return false
	}
	*dst = s
	return true
}

// Consume 读取整个流直到终止标记或 EOF。ctx 取消视为正常中止：
// 不记录错误，已累积的 findings 保持不变，State.Aborted 置为 true。
func (r *Reassembler) Consume(ctx context.Context, rc io.ReadCloser) (State, error) {
	defer rc.Close()

	// 取消时关闭 reader 以打断阻塞中的 Read
	stop := context.AfterFunc(ctx, func() {
		rc.Close()
	})
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			r.state.Aborted = true
			return r.State(), nil
		}

		n, err := rc.Read(buf)
		if n > 0 && r.Feed(buf[:n]) {
			return r.State(), nil
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			r.state.Aborted = true
			return r.State(), nil
		}
		if errors.Is(err, io.EOF) {
			return r.State(), nil
		}
		return r.State(), fmt.Errorf("read stream: %w", err)
	}
}
