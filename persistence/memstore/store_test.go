package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busterhq/agentcore/persistence"
)

func TestUpsertChatThenListed(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertChat(ctx, persistence.Chat{ID: "chat_1", Title: "first"}))
	require.NoError(t, s.UpsertChat(ctx, persistence.Chat{ID: "chat_1", Title: "updated"}))

	chats := s.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "updated", chats[0].Title)
}

func TestInsertMessageAppendsInOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.InsertMessage(ctx, persistence.Message{ID: "m1", ChatID: "c1", Sender: "user"}))
	require.NoError(t, s.InsertMessage(ctx, persistence.Message{ID: "m2", ChatID: "c1", Sender: "assistant"}))

	msgs, err := s.Messages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestMessagesUnknownChatErrors(t *testing.T) {
	s := New()
	_, err := s.Messages("nonexistent")
	assert.Error(t, err)
}

func TestGetDashboardContentReturnsHighestVersion(t *testing.T) {
	s := New()
	s.PutDashboardContent(persistence.DashboardContent{FileID: "f1", VersionNumber: 1, YML: "v1"})
	s.PutDashboardContent(persistence.DashboardContent{FileID: "f1", VersionNumber: 3, YML: "v3"})
	s.PutDashboardContent(persistence.DashboardContent{FileID: "f1", VersionNumber: 2, YML: "v2"})

	got, err := s.GetDashboardContent(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.VersionNumber)
	assert.Equal(t, "v3", got.YML)
}

func TestGetDashboardContentUnknownFileReturnsZeroValue(t *testing.T) {
	s := New()
	got, err := s.GetDashboardContent(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, persistence.DashboardContent{}, got)
}

func TestInsertFileAssociationsGroupsByMessage(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InsertFileAssociations(ctx, []persistence.FileAssociation{
		{ID: "a1", MessageID: "m1", FileID: "f1"},
		{ID: "a2", MessageID: "m1", FileID: "f2"},
	}))
	assert.Len(t, s.assocs["m1"], 2)
	var _ persistence.Store = s
}
