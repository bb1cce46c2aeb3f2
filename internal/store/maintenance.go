package store

import (
	"context"
)

// StoreInfo summarizes what the database holds.
type StoreInfo struct {
	SchemaVersion int            `json:"schema_version"`
	TotalMessages int            `json:"total_messages"`
	MessageCounts map[string]int `json:"message_counts"`
	SavedMessages int            `json:"saved_messages"`
	Blobs         int            `json:"blobs"`
	BlobBytes     int64          `json:"blob_bytes"`
	Chunks        int            `json:"chunks"`
	Users         int            `json:"users"`
}

// StoreInfo returns schema version and row counts.
func (s *Store) StoreInfo(ctx context.Context) (*StoreInfo, error) {
	info := &StoreInfo{MessageCounts: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&info.SchemaVersion); err != nil {
		return nil, queryErr(ctx, "schema version", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT message_type, COUNT(*) FROM messages GROUP BY message_type")
	if err != nil {
		return nil, queryErr(ctx, "count messages", err)
	}
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			_ = rows.Close()
			return nil, storageErr("scan message count", err)
		}
		info.MessageCounts[kind] = count
		info.TotalMessages += count
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, queryErr(ctx, "count messages", err)
	}
	_ = rows.Close()

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM saved_messages").Scan(&info.SavedMessages); err != nil {
		return nil, queryErr(ctx, "count saved messages", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(total_size), 0) FROM blobs").Scan(&info.Blobs, &info.BlobBytes); err != nil {
		return nil, queryErr(ctx, "count blobs", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&info.Chunks); err != nil {
		return nil, queryErr(ctx, "count chunks", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&info.Users); err != nil {
		return nil, queryErr(ctx, "count users", err)
	}

	return info, nil
}
