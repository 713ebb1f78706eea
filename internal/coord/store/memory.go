package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/models"
)

const memoryColumns = `id, namespace, key, value, type, metadata, is_compressed,
	size, created_at, last_updated_at, accessed_at, access_count`

// GetMemoryEntry retrieves the entry for (namespace, key), or nil when
// absent. Absence is an expected outcome, not an error.
func (q *queries) GetMemoryEntry(ctx context.Context, namespace, key string) (*models.MemoryEntry, error) {
	var entry models.MemoryEntry
	err := sqlx.GetContext(ctx, q.ext, &entry,
		`SELECT `+memoryColumns+` FROM memory_entries WHERE namespace = ? AND key = ?`,
		namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Internal(err, "failed to load memory entry %s/%s", namespace, key)
	}
	return &entry, nil
}

// ListMemoryEntries returns a snapshot of a namespace (or every
// namespace when empty), ordered by namespace then key.
func (q *queries) ListMemoryEntries(ctx context.Context, namespace string) ([]*models.MemoryEntry, error) {
	query := `SELECT ` + memoryColumns + ` FROM memory_entries`
	var args []any
	if namespace != "" {
		query += ` WHERE namespace = ?`
		args = append(args, namespace)
	}
	query += ` ORDER BY namespace ASC, key ASC`

	var entries []*models.MemoryEntry
	if err := sqlx.SelectContext(ctx, q.ext, &entries, query, args...); err != nil {
		return nil, errs.Internal(err, "failed to list memory entries")
	}
	return entries, nil
}

// UpsertMemoryEntry inserts or updates the entry keyed by (namespace,
// key). Returns the stored entry and whether the write was an update of
// an existing key.
func (w *WriteScope) UpsertMemoryEntry(ctx context.Context, entry *models.MemoryEntry, now time.Time) (*models.MemoryEntry, bool, error) {
	existing, err := w.GetMemoryEntry(ctx, entry.Namespace, entry.Key)
	if err != nil {
		return nil, false, err
	}

	entry.Size = int64(len(entry.Value))
	entry.LastUpdatedAt = now

	if existing == nil {
		entry.CreatedAt = now
		entry.AccessCount = 0
		_, err := w.ext.ExecContext(ctx, `
			INSERT INTO memory_entries (
				id, namespace, key, value, type, metadata, is_compressed,
				size, created_at, last_updated_at, accessed_at, access_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.Namespace, entry.Key, entry.Value, entry.Type,
			entry.Metadata, entry.IsCompressed, entry.Size, entry.CreatedAt,
			entry.LastUpdatedAt, entry.AccessedAt, entry.AccessCount)
		if err != nil {
			return nil, false, errs.Internal(err, "failed to insert memory entry %s/%s", entry.Namespace, entry.Key)
		}
		return entry, false, nil
	}

	// Preserve identity and history of the existing row.
	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	entry.AccessedAt = existing.AccessedAt
	entry.AccessCount = existing.AccessCount
	_, err = w.ext.ExecContext(ctx, `
		UPDATE memory_entries
		SET value = ?, type = ?, metadata = ?, is_compressed = ?, size = ?, last_updated_at = ?
		WHERE namespace = ? AND key = ?`,
		entry.Value, entry.Type, entry.Metadata, entry.IsCompressed, entry.Size,
		entry.LastUpdatedAt, entry.Namespace, entry.Key)
	if err != nil {
		return nil, false, errs.Internal(err, "failed to update memory entry %s/%s", entry.Namespace, entry.Key)
	}
	return entry, true, nil
}

// TouchMemoryAccess records a read: accessed_at = now, access_count + 1.
func (w *WriteScope) TouchMemoryAccess(ctx context.Context, namespace, key string, now time.Time) error {
	_, err := w.ext.ExecContext(ctx, `
		UPDATE memory_entries
		SET accessed_at = ?, access_count = access_count + 1
		WHERE namespace = ? AND key = ?`,
		now, namespace, key)
	if err != nil {
		return errs.Internal(err, "failed to record memory access %s/%s", namespace, key)
	}
	return nil
}

// DeleteMemoryEntry removes the entry for (namespace, key). Returns
// whether a row was deleted.
func (w *WriteScope) DeleteMemoryEntry(ctx context.Context, namespace, key string) (bool, error) {
	res, err := w.ext.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return false, errs.Internal(err, "failed to delete memory entry %s/%s", namespace, key)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}
