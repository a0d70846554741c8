package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatrelay/models"
)

// ErrChatNotFound is returned by lookups of a missing or deleted chat.
var ErrChatNotFound = errors.New("chat not found")

// Gateway is the persistence layer for chats and messages. It performs
// single writes with no automatic retries; retry policy belongs to the
// caller, which is safe because message inserts are idempotent by id.
type Gateway struct {
	db *gorm.DB
}

func NewGateway(db *gorm.DB) *Gateway {
	return &Gateway{db: db}
}

// EnsureChat looks up the chat and inserts it when absent. The created
// flag tells the relay whether to notify the client that a new chat now
// exists (the client navigates to it).
func (g *Gateway) EnsureChat(ctx context.Context, chatID, title string) (created bool, err error) {
	db := g.db.WithContext(ctx)

	var chat models.Chat
	err = db.Select("id").Where("id = ?", chatID).First(&chat).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup chat %s: %w", chatID, err)
	}

	chat = models.Chat{ID: chatID, Title: title}
	// two concurrent first requests can race here; losing the race is the
	// same outcome as finding the row above
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&chat)
	if res.Error != nil {
		return false, fmt.Errorf("create chat %s: %w", chatID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordUserMessage inserts a user turn. Inserting an id that already
// exists is a no-op so retried requests stay idempotent.
func (g *Gateway) RecordUserMessage(ctx context.Context, msg models.Message) error {
	msg.Role = models.RoleUser
	return g.insertMessage(ctx, msg)
}

// RecordAssistantMessage inserts an assistant turn under the message id the
// relay generated before the model call, so the id already streamed to the
// client matches the persisted row.
func (g *Gateway) RecordAssistantMessage(ctx context.Context, msg models.Message) error {
	msg.Role = models.RoleAssistant
	return g.insertMessage(ctx, msg)
}

func (g *Gateway) insertMessage(ctx context.Context, msg models.Message) error {
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&msg)
	if res.Error != nil {
		return fmt.Errorf("insert %s message %s: %w", msg.Role, msg.ID, res.Error)
	}
	return nil
}

// FirstModelID returns the model id recorded on the earliest message of a
// chat. Follow-up turns that omit a model selection continue with whatever
// model the conversation was started with.
func (g *Gateway) FirstModelID(ctx context.Context, chatID string) (string, error) {
	var msg models.Message
	err := g.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at asc").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrChatNotFound
	}
	if err != nil {
		return "", fmt.Errorf("first message of chat %s: %w", chatID, err)
	}
	return msg.ModelID, nil
}

// GetChat loads a chat with its transcript ordered by creation time.
func (g *Gateway) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := g.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("messages.created_at asc")
		}).
		Where("id = ?", chatID).
		First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	return &chat, nil
}

// ChatSummary is one sidebar entry of the chat list.
type ChatSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	MessagesCount int       `json:"messages_count"`
}

// ListChats returns chats newest-activity-first, optionally filtered by a
// case-insensitive substring over titles and message text.
func (g *Gateway) ListChats(ctx context.Context, query string) ([]ChatSummary, error) {
	var chats []models.Chat
	if err := g.db.WithContext(ctx).Preload("Messages").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	q := strings.ToLower(strings.TrimSpace(query))
	filtered := chats[:0]
	if q == "" {
		filtered = chats
	} else {
		for _, chat := range chats {
			if strings.Contains(strings.ToLower(chat.Title), q) {
				filtered = append(filtered, chat)
				continue
			}
			for _, m := range chat.Messages {
				if strings.Contains(strings.ToLower(m.Text), q) {
					filtered = append(filtered, chat)
					break
				}
			}
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return latestActivity(filtered[j]).Before(latestActivity(filtered[i]))
	})

	out := make([]ChatSummary, 0, len(filtered))
	for _, chat := range filtered {
		out = append(out, ChatSummary{
			ID:            chat.ID,
			Title:         chat.Title,
			CreatedAt:     chat.CreatedAt,
			MessagesCount: len(chat.Messages),
		})
	}
	return out, nil
}

func latestActivity(chat models.Chat) time.Time {
	t := chat.CreatedAt
	for _, m := range chat.Messages {
		if m.CreatedAt.After(t) {
			t = m.CreatedAt
		}
	}
	return t
}

// DeleteChat removes a chat and, via the cascade constraint, every message
// it owns.
func (g *Gateway) DeleteChat(ctx context.Context, chatID string) error {
	res := g.db.WithContext(ctx).Where("id = ?", chatID).Delete(&models.Chat{})
	if res.Error != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteAllChats wipes every chat (and cascaded messages).
func (g *Gateway) DeleteAllChats(ctx context.Context) (int64, error) {
	res := g.db.WithContext(ctx).Where("1 = 1").Delete(&models.Chat{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete all chats: %w", res.Error)
	}
	return res.RowsAffected, nil
}
