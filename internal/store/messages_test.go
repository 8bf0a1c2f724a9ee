package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reivaj/flowstate/pkg/schema"
)

func TestAppendAssignsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m1 := &Message{ConversationID: "conv-1", Role: schema.RoleUser, Content: "hello"}
	m2 := &Message{ConversationID: "conv-1", Role: schema.RoleAssistant, Content: "hi there"}
	m3 := &Message{ConversationID: "conv-2", Role: schema.RoleUser, Content: "other"}

	require.NoError(t, s.Append(ctx, m1))
	require.NoError(t, s.Append(ctx, m2))
	require.NoError(t, s.Append(ctx, m3))

	assert.Equal(t, int64(1), m1.Seq)
	assert.Equal(t, int64(2), m2.Seq)
	// Sequences are per conversation.
	assert.Equal(t, int64(1), m3.Seq)
	assert.NotEmpty(t, m1.ID)
}

func TestRecentReturnsChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contents := []string{"one", "two", "three", "four"}
	for i, c := range contents {
		role := schema.RoleUser
		if i%2 == 1 {
			role = schema.RoleAssistant
		}
		require.NoError(t, s.Append(ctx, &Message{
			ConversationID: "conv-1", Role: role, Content: c,
		}))
	}

	got, err := s.Recent(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Last 3 messages, oldest first.
	assert.Equal(t, "two", got[0].Content)
	assert.Equal(t, "three", got[1].Content)
	assert.Equal(t, "four", got[2].Content)
}

func TestRecentEmptyConversation(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Recent(context.Background(), "no-such-conv", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
