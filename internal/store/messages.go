package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reivaj/flowstate/pkg/schema"
)

// Append writes a message to the conversation history, allocating the next
// per-conversation sequence number inside a transaction so concurrent writers
// never collide.
func (s *LibSQLStore) Append(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		m.ConversationID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("allocate seq: %w", err)
	}
	m.Seq = seq

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.Seq, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// Recent returns up to limit messages for the conversation in chronological
// order, ending with the most recent.
func (s *LibSQLStore) Recent(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, seq, created_at
		 FROM (SELECT id, conversation_id, role, content, seq, created_at
		       FROM messages WHERE conversation_id = ?
		       ORDER BY seq DESC LIMIT ?)
		 ORDER BY seq ASC`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = schema.MessageRole(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
