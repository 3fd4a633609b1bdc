// Package conversation keeps per-thread assistant history and answers the
// turns no flow or document request claims.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/collaborators/llm"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

// DefaultKeep is how many messages a thread file retains.
const DefaultKeep = 200

// History persists assistant conversations, one JSON file per thread.
type History struct {
	dir  string
	keep int
	log  *zap.Logger
	mu   sync.Mutex
}

// NewHistory creates dir if needed. keep bounds the stored messages per
// thread; older ones are dropped on append.
func NewHistory(dir string, keep int, log *zap.Logger) (*History, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &History{dir: dir, keep: keep, log: log}, nil
}

func (h *History) path(threadID string) (string, error) {
	if err := utils.ValidateThreadID(threadID); err != nil {
		return "", err
	}
	return filepath.Join(h.dir, "conversation_"+threadID+".json"), nil
}

// Load returns every stored message of the thread, oldest first. A
// corrupt file is removed and reported as empty.
func (h *History) Load(ctx context.Context, threadID string) ([]llm.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(threadID)
}

func (h *History) load(threadID string) ([]llm.ChatMessage, error) {
	p, err := h.path(threadID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var msgs []llm.ChatMessage
	if err := sonic.Unmarshal(data, &msgs); err != nil {
		h.log.Warn("removing corrupt history", zap.String("thread_id", threadID), zap.Error(err))
		_ = os.Remove(p)
		return nil, nil
	}
	return msgs, nil
}

// Append adds messages to the thread's history.
func (h *History) Append(ctx context.Context, threadID string, msgs ...llm.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, err := h.load(threadID)
	if err != nil {
		return err
	}
	existing = append(existing, msgs...)
	if len(existing) > h.keep {
		existing = existing[len(existing)-h.keep:]
	}

	data, err := sonic.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	p, _ := h.path(threadID)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// Clear forgets the thread.
func (h *History) Clear(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.path(threadID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// Split divides msgs into the older part and the n most recent messages.
func Split(msgs []llm.ChatMessage, n int) (older, recent []llm.ChatMessage) {
	if n <= 0 || len(msgs) <= n {
		return nil, msgs
	}
	return msgs[:len(msgs)-n], msgs[len(msgs)-n:]
}

// Condense renders older messages as tagged lines, cut at limit bytes.
func Condense(msgs []llm.ChatMessage, limit int) string {
	var b []byte
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		var tag string
		switch m.Role {
		case llm.RoleUser:
			tag = "[U] "
		case llm.RoleAssistant:
			tag = "[A] "
		default:
			continue
		}
		if len(b) > 0 {
			b = append(b, '\n')
		}
		b = append(b, tag...)
		b = append(b, m.Content...)
	}
	if limit > 0 && len(b) > limit {
		return string(b[:limit]) + "\n..."
	}
	return string(b)
}
