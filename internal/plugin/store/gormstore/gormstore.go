// Package gormstore implements the history store over any GORM dialect.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/swarm-sync/internal/model"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Interaction is one persisted history node.
type Interaction struct {
	Account         string `gorm:"primaryKey;column:account"`
	ConversationURI string `gorm:"primaryKey;column:conversation_uri"`
	MessageKey      string `gorm:"primaryKey;column:message_key"`
	ParentID        string `gorm:"column:parent_id"`
	Kind            string `gorm:"column:kind"`
	SentAt          int64  `gorm:"column:sent_at"`
	Payload         string `gorm:"column:payload"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Interaction) TableName() string { return "interactions" }

// Store implements registrystore.HistoryStore on a *gorm.DB.
type Store struct {
	db *gorm.DB
	// mapError translates driver errors into registry errors.
	mapError func(error) error
}

// New wraps db. mapError may be nil.
func New(db *gorm.DB, mapError func(error) error) *Store {
	if mapError == nil {
		mapError = func(err error) error { return err }
	}
	return &Store{db: db, mapError: mapError}
}

// DB exposes the underlying connection for migrations and tests.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) LoadHistory(ctx context.Context, account string, uri model.URI) ([]model.Interaction, error) {
	var rows []Interaction
	err := s.db.WithContext(ctx).
		Where("account = ? AND conversation_uri = ?", account, uri.String()).
		Order("sent_at ASC").Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", s.mapError(err))
	}
	out := make([]model.Interaction, 0, len(rows))
	for _, r := range rows {
		var n model.Interaction
		if err := json.Unmarshal([]byte(r.Payload), &n); err != nil {
			return nil, fmt.Errorf("failed to decode interaction %s: %w", r.MessageKey, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) SaveInteraction(ctx context.Context, account string, uri model.URI, n model.Interaction) error {
	if err := registrystore.Validate(account, uri); err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode interaction: %w", err)
	}
	row := Interaction{
		Account:         account,
		ConversationURI: uri.String(),
		MessageKey:      registrystore.Key(n),
		ParentID:        n.ParentID,
		Kind:            string(n.Type),
		SentAt:          n.Timestamp,
		Payload:         string(payload),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}, {Name: "conversation_uri"}, {Name: "message_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"parent_id", "kind", "sent_at", "payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save interaction: %w", s.mapError(err))
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, account string, uri model.URI, key, peer string, st model.InteractionStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Interaction
		err := tx.Where("account = ? AND conversation_uri = ? AND message_key = ?", account, uri.String(), key).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &registrystore.NotFoundError{Resource: "interaction", ID: key}
		}
		if err != nil {
			return fmt.Errorf("failed to read interaction: %w", s.mapError(err))
		}
		var n model.Interaction
		if err := json.Unmarshal([]byte(row.Payload), &n); err != nil {
			return fmt.Errorf("failed to decode interaction %s: %w", key, err)
		}
		registrystore.MergeStatus(&n, peer, st)
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to encode interaction: %w", err)
		}
		err = tx.Model(&Interaction{}).
			Where("account = ? AND conversation_uri = ? AND message_key = ?", account, uri.String(), key).
			Updates(map[string]any{"payload": string(payload), "updated_at": time.Now()}).Error
		if err != nil {
			return fmt.Errorf("failed to update status: %w", s.mapError(err))
		}
		return nil
	})
}

func (s *Store) RemoveInteraction(ctx context.Context, account string, uri model.URI, key string) error {
	result := s.db.WithContext(ctx).
		Where("account = ? AND conversation_uri = ? AND message_key = ?", account, uri.String(), key).
		Delete(&Interaction{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove interaction: %w", s.mapError(result.Error))
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "interaction", ID: key}
	}
	return nil
}

func (s *Store) ClearHistory(ctx context.Context, account string, uri model.URI) error {
	err := s.db.WithContext(ctx).
		Where("account = ? AND conversation_uri = ?", account, uri.String()).
		Delete(&Interaction{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", s.mapError(err))
	}
	return nil
}

func (s *Store) ListConversations(ctx context.Context, account string) ([]model.URI, error) {
	var uris []string
	err := s.db.WithContext(ctx).Model(&Interaction{}).
		Where("account = ?", account).
		Distinct("conversation_uri").
		Order("conversation_uri ASC").
		Pluck("conversation_uri", &uris).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", s.mapError(err))
	}
	out := make([]model.URI, len(uris))
	for i, u := range uris {
		out[i] = model.ParseURI(u)
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
