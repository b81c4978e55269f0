package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hkdb/foldercache/internal/cache"
)

// Store adapts a *DB to cache.Store. Each Upsert* method reports whether
// the row existed from inside its own transaction, so the Cache never
// has to issue a separate, racy SELECT to find out.
type Store struct {
	db *DB
}

// New wraps an already-opened, already-migrated *DB.
func New(db *DB) *Store {
	return &Store{db: db}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func (s *Store) SelectIndex(ctx context.Context, userID, mailbox string) (*cache.IndexRow, bool, error) {
	var data string
	var expires sql.NullTime
	var valid bool
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires, valid FROM cache_index WHERE user_id = ? AND mailbox = ?`,
		userID, mailbox,
	).Scan(&data, &expires, &valid)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	row := cache.DecodeIndexData(data, fromNullTime(expires))
	row.Valid = valid
	return row, true, nil
}

func (s *Store) SelectThread(ctx context.Context, userID, mailbox string) (*cache.ThreadRow, bool, error) {
	var data string
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires FROM cache_thread WHERE user_id = ? AND mailbox = ?`,
		userID, mailbox,
	).Scan(&data, &expires)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cache.DecodeThreadData(data, fromNullTime(expires)), true, nil
}

func (s *Store) SelectMessage(ctx context.Context, userID, mailbox string, uid uint32) (*cache.MessageRow, bool, error) {
	var header []byte
	var flags uint32
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT header, flags, expires FROM cache_messages WHERE user_id = ? AND mailbox = ? AND uid = ?`,
		userID, mailbox, uid,
	).Scan(&header, &flags, &expires)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &cache.MessageRow{UID: uid, Header: header, Flags: flags, Expires: fromNullTime(expires)}, true, nil
}

func (s *Store) SelectMessages(ctx context.Context, userID, mailbox string, uids []uint32) ([]*cache.MessageRow, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	query, args := buildUIDQuery(
		`SELECT uid, header, flags, expires FROM cache_messages WHERE user_id = ? AND mailbox = ? AND uid IN (`,
		userID, mailbox, uids,
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cache.MessageRow
	for rows.Next() {
		var uid uint32
		var header []byte
		var flags uint32
		var expires sql.NullTime
		if err := rows.Scan(&uid, &header, &flags, &expires); err != nil {
			return nil, err
		}
		out = append(out, &cache.MessageRow{UID: uid, Header: header, Flags: flags, Expires: fromNullTime(expires)})
	}
	return out, rows.Err()
}

func (s *Store) SelectAllUIDs(ctx context.Context, userID, mailbox string) ([]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid FROM cache_messages WHERE user_id = ? AND mailbox = ?`,
		userID, mailbox,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []uint32
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// upsertAtomic runs a single INSERT ... ON CONFLICT ... DO UPDATE statement
// (SQLite's atomic single-row upsert primitive) and reports whether the row
// already existed, without a separate SELECT the Cache would otherwise have
// to issue first and that a second writer could race between.
//
// SQLite only advances last_insert_rowid() down the INSERT branch of an
// upsert; the ON CONFLICT DO UPDATE branch leaves it untouched. Sampling it
// immediately before and after the statement on the same pinned connection
// therefore tells insert and update apart with no extra round trip.
func upsertAtomic(ctx context.Context, db *DB, upsertStmt string, args []any) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var before int64
	if err := tx.QueryRowContext(ctx, `SELECT last_insert_rowid()`).Scan(&before); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, upsertStmt, args...); err != nil {
		return false, err
	}

	var after int64
	if err := tx.QueryRowContext(ctx, `SELECT last_insert_rowid()`).Scan(&after); err != nil {
		return false, err
	}

	existed := after == before
	return existed, tx.Commit()
}

func (s *Store) UpsertIndex(ctx context.Context, userID, mailbox string, row *cache.IndexRow) (bool, error) {
	data, err := cache.EncodeIndexData(row)
	if err != nil {
		return false, err
	}
	expires := nullTime(row.Expires)
	return upsertAtomic(ctx, s.db,
		`INSERT INTO cache_index (user_id, mailbox, data, expires, valid) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, mailbox) DO UPDATE SET data = excluded.data, expires = excluded.expires, valid = excluded.valid`,
		[]any{userID, mailbox, data, expires, row.Valid},
	)
}

func (s *Store) UpsertThread(ctx context.Context, userID, mailbox string, row *cache.ThreadRow) (bool, error) {
	data, err := cache.EncodeThreadData(row)
	if err != nil {
		return false, err
	}
	expires := nullTime(row.Expires)
	return upsertAtomic(ctx, s.db,
		`INSERT INTO cache_thread (user_id, mailbox, data, expires) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, mailbox) DO UPDATE SET data = excluded.data, expires = excluded.expires`,
		[]any{userID, mailbox, data, expires},
	)
}

func (s *Store) UpsertMessage(ctx context.Context, userID, mailbox string, row *cache.MessageRow) (bool, error) {
	expires := nullTime(row.Expires)
	header := []byte(row.Header)
	return upsertAtomic(ctx, s.db,
		`INSERT INTO cache_messages (user_id, mailbox, uid, header, flags, expires) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, mailbox, uid) DO UPDATE SET header = excluded.header, flags = excluded.flags, expires = excluded.expires`,
		[]any{userID, mailbox, row.UID, header, row.Flags, expires},
	)
}

func (s *Store) SetIndexInvalid(ctx context.Context, userID, mailbox string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_index SET valid = 0 WHERE user_id = ? AND mailbox = ?`,
		userID, mailbox,
	)
	return err
}

func (s *Store) UpdateFlags(ctx context.Context, userID, mailbox string, uids []uint32, key uint32, enabled bool) error {
	if len(uids) == 0 {
		return nil
	}
	var guard, mutation string
	if enabled {
		guard = "(flags & ?) = 0"
		mutation = "flags = flags + ?"
	} else {
		guard = "(flags & ?) = ?"
		mutation = "flags = flags - ?"
	}

	placeholders := uidPlaceholders(len(uids))
	stmt := "UPDATE cache_messages SET " + mutation + " WHERE user_id = ? AND mailbox = ? AND " + guard + " AND uid IN (" + placeholders + ")"

	callArgs := make([]any, 0, len(uids)+4)
	callArgs = append(callArgs, key, userID, mailbox, key)
	if !enabled {
		callArgs = append(callArgs, key)
	}
	for _, u := range uids {
		callArgs = append(callArgs, u)
	}

	_, err := s.db.ExecContext(ctx, stmt, callArgs...)
	return err
}

func (s *Store) SetFlags(ctx context.Context, userID, mailbox string, uid uint32, bits uint32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_messages SET flags = ? WHERE user_id = ? AND mailbox = ? AND uid = ? AND flags <> ?`,
		bits, userID, mailbox, uid, bits,
	)
	return err
}

func (s *Store) DeleteIndex(ctx context.Context, userID, mailbox string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_index WHERE user_id = ? AND mailbox = ?`, userID, mailbox)
	return err
}

func (s *Store) DeleteThread(ctx context.Context, userID, mailbox string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_thread WHERE user_id = ? AND mailbox = ?`, userID, mailbox)
	return err
}

func (s *Store) DeleteMessages(ctx context.Context, userID, mailbox string, uids []uint32) error {
	if mailbox == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cache_messages WHERE user_id = ?`, userID)
		return err
	}
	if uids == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cache_messages WHERE user_id = ? AND mailbox = ?`, userID, mailbox)
		return err
	}
	if len(uids) == 0 {
		return nil
	}
	query, args := buildUIDQuery(
		`DELETE FROM cache_messages WHERE user_id = ? AND mailbox = ? AND uid IN (`,
		userID, mailbox, uids,
	)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) GCExpired(ctx context.Context, now time.Time) (cache.GCStats, error) {
	var stats cache.GCStats

	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_index WHERE expires IS NOT NULL AND expires < ?`, now)
	if err != nil {
		return stats, err
	}
	if rc, err := res.RowsAffected(); err == nil {
		stats.IndexRows = int(rc)
	}

	res, err = s.db.ExecContext(ctx, `DELETE FROM cache_thread WHERE expires IS NOT NULL AND expires < ?`, now)
	if err != nil {
		return stats, err
	}
	if rc, err := res.RowsAffected(); err == nil {
		stats.ThreadRows = int(rc)
	}

	res, err = s.db.ExecContext(ctx, `DELETE FROM cache_messages WHERE expires IS NOT NULL AND expires < ?`, now)
	if err != nil {
		return stats, err
	}
	if rc, err := res.RowsAffected(); err == nil {
		stats.MessageRows = int(rc)
	}

	return stats, nil
}

// CountExpired reports the row counts GCExpired would delete at now,
// without deleting anything.
func (s *Store) CountExpired(ctx context.Context, now time.Time) (cache.GCStats, error) {
	var stats cache.GCStats

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_index WHERE expires IS NOT NULL AND expires < ?`, now,
	).Scan(&stats.IndexRows); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_thread WHERE expires IS NOT NULL AND expires < ?`, now,
	).Scan(&stats.ThreadRows); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_messages WHERE expires IS NOT NULL AND expires < ?`, now,
	).Scan(&stats.MessageRows); err != nil {
		return stats, err
	}

	return stats, nil
}

func uidPlaceholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func buildUIDQuery(prefix, userID, mailbox string, uids []uint32) (string, []any) {
	stmt := prefix + uidPlaceholders(len(uids)) + ")"
	args := make([]any, 0, len(uids)+2)
	args = append(args, userID, mailbox)
	for _, u := range uids {
		args = append(args, u)
	}
	return stmt, args
}
