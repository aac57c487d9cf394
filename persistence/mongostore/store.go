// Package mongostore implements persistence.Store on top of MongoDB,
// grounded on the teacher's features/run/mongo/clients/mongo client: a
// thin collection wrapper, upsert-by-filter writes, and ErrNoDocuments
// translated to a zero-value result rather than an error.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/busterhq/agentcore/persistence"
)

const defaultOpTimeout = 5 * time.Second

// Options configures the store.
type Options struct {
	Client            *mongodriver.Client
	Database          string
	ChatsCollection    string
	MessagesCollection string
	AssocsCollection   string
	FilesCollection    string
	Timeout            time.Duration
}

type store struct {
	chats    *mongodriver.Collection
	messages *mongodriver.Collection
	assocs   *mongodriver.Collection
	files    *mongodriver.Collection
	timeout  time.Duration
}

// New returns a persistence.Store backed by MongoDB.
func New(opts Options) (persistence.Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	chats := nonEmpty(opts.ChatsCollection, "chats")
	messages := nonEmpty(opts.MessagesCollection, "messages")
	assocs := nonEmpty(opts.AssocsCollection, "message_files")
	files := nonEmpty(opts.FilesCollection, "dashboard_versions")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	return &store{
		chats:    db.Collection(chats),
		messages: db.Collection(messages),
		assocs:   db.Collection(assocs),
		files:    db.Collection(files),
		timeout:  timeout,
	}, nil
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (s *store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

type chatDocument struct {
	ID                      string    `bson:"_id"`
	Title                   string    `bson:"title"`
	OwnerID                 string    `bson:"owner_id"`
	CreatedAt               time.Time `bson:"created_at"`
	UpdatedAt               time.Time `bson:"updated_at"`
	MostRecentFileID        string    `bson:"most_recent_file_id,omitempty"`
	MostRecentFileType      string    `bson:"most_recent_file_type,omitempty"`
	MostRecentVersionNumber int       `bson:"most_recent_version_number,omitempty"`
	WorkspaceSharing        string    `bson:"workspace_sharing,omitempty"`
}

func (s *store) UpsertChat(ctx context.Context, chat persistence.Chat) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := chatDocument{
		ID:                      chat.ID,
		Title:                   chat.Title,
		OwnerID:                 chat.OwnerID,
		CreatedAt:               chat.CreatedAt.UTC(),
		UpdatedAt:               chat.UpdatedAt.UTC(),
		MostRecentFileID:        chat.MostRecentFileID,
		MostRecentFileType:      chat.MostRecentFileType,
		MostRecentVersionNumber: chat.MostRecentVersionNumber,
		WorkspaceSharing:        chat.WorkspaceSharing,
	}
	filter := bson.M{"_id": chat.ID}
	update := bson.M{"$set": doc}
	_, err := s.chats.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

type messageDocument struct {
	ID                    string `bson:"_id"`
	ChatID                string `bson:"chat_id"`
	Sender                string `bson:"sender"`
	RequestMessage        string `bson:"request_message,omitempty"`
	ResponseMessages      []byte `bson:"response_messages,omitempty"`
	ReasoningMessages     []byte `bson:"reasoning_messages,omitempty"`
	FinalReasoningMessage string `bson:"final_reasoning_message,omitempty"`
	RawLLMMessages        []byte `bson:"raw_llm_messages,omitempty"`
	Title                 string `bson:"title,omitempty"`
	IsCompleted           bool   `bson:"is_completed"`
	Feedback              *string `bson:"feedback,omitempty"`
	PostProcessing        *string `bson:"post_processing,omitempty"`
}

func (s *store) InsertMessage(ctx context.Context, msg persistence.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := messageDocument{
		ID:                    msg.ID,
		ChatID:                msg.ChatID,
		Sender:                msg.Sender,
		RequestMessage:        msg.RequestMessage,
		ResponseMessages:      msg.ResponseMessages,
		ReasoningMessages:     msg.ReasoningMessages,
		FinalReasoningMessage: msg.FinalReasoningMessage,
		RawLLMMessages:        msg.RawLLMMessages,
		Title:                 msg.Title,
		IsCompleted:           msg.IsCompleted,
		Feedback:              msg.Feedback,
		PostProcessing:        msg.PostProcessing,
	}
	_, err := s.messages.InsertOne(ctx, doc)
	return err
}

type assocDocument struct {
	ID            string `bson:"_id"`
	MessageID     string `bson:"message_id"`
	FileID        string `bson:"file_id"`
	VersionNumber int    `bson:"version_number"`
	IsDuplicate   bool   `bson:"is_duplicate"`
}

func (s *store) InsertFileAssociations(ctx context.Context, assocs []persistence.FileAssociation) error {
	if len(assocs) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	docs := make([]any, 0, len(assocs))
	for _, a := range assocs {
		docs = append(docs, assocDocument{
			ID:            a.ID,
			MessageID:     a.MessageID,
			FileID:        a.FileID,
			VersionNumber: a.VersionNumber,
			IsDuplicate:   a.IsDuplicate,
		})
	}
	_, err := s.assocs.InsertMany(ctx, docs)
	return err
}

type dashboardDocument struct {
	FileID        string `bson:"file_id"`
	VersionNumber int    `bson:"version_number"`
	YML           string `bson:"yml"`
}

func (s *store) GetDashboardContent(ctx context.Context, fileID string) (persistence.DashboardContent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"file_id": fileID}
	opts := options.FindOne().SetSort(bson.D{{Key: "version_number", Value: -1}})
	var doc dashboardDocument
	if err := s.files.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return persistence.DashboardContent{}, nil
		}
		return persistence.DashboardContent{}, err
	}
	return persistence.DashboardContent{
		FileID:        doc.FileID,
		VersionNumber: doc.VersionNumber,
		YML:           doc.YML,
	}, nil
}
