package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sitter-safety/internal/models"
)

const contactPrefix = "contact:"

// ContactBook 紧急联系人存储，每个联系人一个 JSON 值
type ContactBook struct {
	kv KV
}

func NewContactBook(kv KV) *ContactBook { return &ContactBook{kv: kv} }

// SaveContact 新增或覆盖联系人
func (b *ContactBook) SaveContact(ctx context.Context, c models.EmergencyContact) error {
	if c.ID == "" {
		return fmt.Errorf("contact id is required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.kv.Set(ctx, contactPrefix+c.ID, string(data), 0)
}

// EmergencyContacts 按 ID 顺序解析联系人，未知 ID 跳过
func (b *ContactBook) EmergencyContacts(ctx context.Context, ids []string) ([]models.EmergencyContact, error) {
	contacts := make([]models.EmergencyContact, 0, len(ids))
	for _, id := range ids {
		raw, err := b.kv.Get(ctx, contactPrefix+id)
		if errors.Is(err, ErrMiss) {
			continue
		}
		if err != nil {
			return contacts, fmt.Errorf("failed to load contact %s: %w", id, err)
		}
		var c models.EmergencyContact
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return contacts, fmt.Errorf("failed to decode contact %s: %w", id, err)
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}
