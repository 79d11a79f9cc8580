// Package chat はops chatのセッション単位のトランスクリプトを保持する。
// トランスクリプトはプロセス内メモリのみに置き、再起動で消える。
package chat

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ecomlabs/toolsportal/internal/model"
	"github.com/ecomlabs/toolsportal/internal/security"
)

// Role はメッセージの発言者。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// DefaultMaxMessages はセッションあたりに保持する最大メッセージ数。
	DefaultMaxMessages = 50
	// DefaultMaxSessions は保持する最大セッション数。超えた場合は最も古く更新されたものから捨てる。
	DefaultMaxSessions = 1000
	// maxContentRunes はメッセージ本文の最大文字数。
	maxContentRunes = 500
)

// Message はトランスクリプトの1メッセージ。
type Message struct {
	ID        string
	Role      Role
	Name      string
	Content   string
	Summary   *model.OpsStatusSummary // assistantの集計結果。なければnil
	CreatedAt time.Time
}

// IsUser はユーザーの発言かを返す。テンプレートから使う。
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

type transcript struct {
	messages  []Message
	updatedAt time.Time
}

// Store はセッションIDごとのトランスクリプトを保持する。並行利用に安全。
type Store struct {
	mu          sync.Mutex
	transcripts map[string]*transcript
	maxMessages int
	maxSessions int
	sanitizer   security.TextSanitizer
	entropy     *ulid.MonotonicEntropy
	now         func() time.Time
}

// NewStore はStoreを生成する。0以下の上限はデフォルト値を使う。
func NewStore(maxMessages, maxSessions int, sanitizer security.TextSanitizer) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Store{
		transcripts: make(map[string]*transcript),
		maxMessages: maxMessages,
		maxSessions: maxSessions,
		sanitizer:   sanitizer,
		entropy:     ulid.Monotonic(rand.Reader, 0),
		now:         time.Now,
	}
}

// Append はメッセージを追加し、保存した値を返す。
// IDと作成日時は採番し直す。ユーザーの発言は名前と本文をサニタイズする。
// 上限を超えた古いメッセージは捨てられる。
func (s *Store) Append(sessionID string, msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	msg.ID = ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
	if msg.Role == RoleUser {
		msg.Name = s.sanitizer.Sanitize(msg.Name, maxContentRunes)
		msg.Content = s.sanitizer.Sanitize(msg.Content, maxContentRunes)
	}
	msg.CreatedAt = now

	t, ok := s.transcripts[sessionID]
	if !ok {
		s.evictLocked()
		t = &transcript{}
		s.transcripts[sessionID] = t
	}
	t.messages = append(t.messages, msg)
	if over := len(t.messages) - s.maxMessages; over > 0 {
		t.messages = append([]Message(nil), t.messages[over:]...)
	}
	t.updatedAt = now

	return msg
}

// Messages はトランスクリプトのコピーを古い順に返す。
func (s *Store) Messages(sessionID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transcripts[sessionID]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// LatestSummary は集計結果を持つ最新のassistantメッセージの集計を返す。
func (s *Store) LatestSummary(sessionID string) *model.OpsStatusSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transcripts[sessionID]
	if !ok {
		return nil
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		if m := t.messages[i]; m.Role == RoleAssistant && m.Summary != nil {
			return m.Summary
		}
	}
	return nil
}

// Clear はセッションのトランスクリプトを削除する。サインアウト時に呼ぶ。
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, sessionID)
}

// Len は保持しているセッション数を返す。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcripts)
}

// evictLocked はセッション数が上限に達している場合、最も古く更新されたものを捨てる。
// 呼び出し側でmuを保持していること。
func (s *Store) evictLocked() {
	if len(s.transcripts) < s.maxSessions {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, t := range s.transcripts {
		if oldestID == "" || t.updatedAt.Before(oldest) {
			oldestID, oldest = id, t.updatedAt
		}
	}
	delete(s.transcripts, oldestID)
}
