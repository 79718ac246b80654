package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/storage/memory"
	"github.com/impnet/service_layer/pkg/logger"
	"github.com/impnet/service_layer/pkg/testutil"
)

func TestPostStoresAndPublishes(t *testing.T) {
	svc := New(memory.New(), logger.NewDiscard())
	pub := &testutil.RecordingPublisher{}
	svc.AttachPublisher(pub)

	msg, err := svc.Post(context.Background(), "alice", "  hello  ", "")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, chat.TypeText, msg.Type)

	require.Len(t, pub.Messages(), 1)
	assert.Equal(t, msg.ID, pub.Messages()[0].ID)
}

func TestPostValidation(t *testing.T) {
	svc := New(memory.New(), logger.NewDiscard())
	pub := &testutil.RecordingPublisher{}
	svc.AttachPublisher(pub)
	ctx := context.Background()

	_, err := svc.Post(ctx, "alice", "   ", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Post(ctx, "", "hi", "")
	assert.ErrorIs(t, err, ErrMissingSender)

	_, err = svc.Post(ctx, "alice", strings.Repeat("я", MaxMessageLength+1), "")
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = svc.Post(ctx, "alice", "hi", "image")
	assert.ErrorIs(t, err, ErrInvalidType)
	assert.True(t, IsValidationError(err))

	assert.Empty(t, pub.Messages())
}

func TestListNewestFirst(t *testing.T) {
	svc := New(memory.New(), logger.NewDiscard())
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		_, err := svc.Post(ctx, "bob", body, chat.TypeText)
		require.NoError(t, err)
	}

	msgs, err := svc.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Body)
	assert.Equal(t, "two", msgs[1].Body)
}
