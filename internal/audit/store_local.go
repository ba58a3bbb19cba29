package audit

import (
	"context"
	"encoding/json"
	"fmt"

	dErrors "veil/pkg/domain-errors"

	"veil/internal/platform/localstore"
)

// auditPrefix namespaces audit keys inside the shared local store.
const auditPrefix = "audit/"

// LocalStore persists audit entries in the encrypted on-device store. Keys
// embed the timestamp so prefix iteration yields chronological order.
type LocalStore struct {
	db *localstore.DB
}

func NewLocalStore(db *localstore.DB) *LocalStore {
	return &LocalStore{db: db}
}

func (s *LocalStore) Append(ctx context.Context, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode audit entry")
	}
	key := fmt.Sprintf("%s%020d/%s", auditPrefix, entry.Timestamp.UnixNano(), entry.ID)
	if err := s.db.Put(ctx, []byte(key), value); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist audit entry")
	}
	return nil
}

func (s *LocalStore) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []Entry
	stop := fmt.Errorf("stop")
	err := s.db.IteratePrefix(ctx, []byte(auditPrefix), true, func(key, value []byte) error {
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "decode audit entry")
		}
		entries = append(entries, entry)
		if len(entries) >= limit {
			return stop
		}
		return nil
	})
	if err != nil && err != stop {
		return nil, err
	}
	return entries, nil
}
