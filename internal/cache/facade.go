package cache

import (
	"context"
	"time"

	"github.com/hkdb/foldercache/internal/digest"
	"github.com/hkdb/foldercache/internal/logging"
	"github.com/rs/zerolog"
)

// maxTTL is the 30-day clamp spec invariant 5 requires.
const maxTTL = 30 * 24 * time.Hour

// Cache is the public contract (component G / §4.G): a single stateful
// object constructed once per user session, bound to one user
// identifier, one IMAP client handle, and one persistent store handle.
type Cache struct {
	userID      string
	store       Store
	imap        IMAPClient
	ttl         time.Duration
	skipDeleted bool
	ws          *workingSet
	log         zerolog.Logger
}

// New constructs a Cache. ttl is clamped to 30 days; ttl == 0 means rows
// never expire.
func New(userID string, store Store, imapClient IMAPClient, ttl time.Duration, skipDeleted bool) *Cache {
	if ttl > maxTTL {
		ttl = maxTTL
	}
	return &Cache{
		userID:      userID,
		store:       store,
		imap:        imapClient,
		ttl:         ttl,
		skipDeleted: skipDeleted,
		ws:          newWorkingSet(),
		log:         logging.WithComponent("cache"),
	}
}

func (c *Cache) expiresAt() *time.Time {
	if c.ttl == 0 {
		return nil
	}
	t := time.Now().Add(c.ttl)
	return &t
}

func reversedIndex(row *IndexRow, order SortOrder) *IndexRow {
	if row == nil || order != SortDesc {
		return row
	}
	out := *row
	out.UIDs = make([]uint32, len(row.UIDs))
	for i, u := range row.UIDs {
		out.UIDs[len(row.UIDs)-1-i] = u
	}
	return &out
}

// GetIndex implements spec §4.G get_index.
func (c *Cache) GetIndex(ctx context.Context, folder string, sortField SortField, sortOrder SortOrder, existingOnly bool) (*IndexRow, error) {
	fs := c.ws.folder(folder)

	if fs.index != nil && !fs.index.validated {
		return reversedIndex(fs.index.row, sortOrder), nil
	}
	if fs.index != nil && fs.index.validated && (fs.index.row.SortField == sortField || sortField == SortAny) {
		return reversedIndex(fs.index.row, sortOrder), nil
	}

	var row *IndexRow
	var found bool
	var err error
	if !fs.indexQueried {
		row, found, err = c.store.SelectIndex(ctx, c.userID, folder)
		if err != nil {
			return nil, wrapStore("SelectIndex", err)
		}
		fs.indexQueried = true
	}

	effectiveSort := sortField
	if effectiveSort == SortAny {
		if found {
			effectiveSort = row.SortField
		} else {
			effectiveSort = SortDate
		}
	}

	if found && row.SortField == effectiveSort {
		live, err := c.imap.FolderData(ctx, folder)
		if err != nil {
			return nil, wrapIMAP("FolderData", err)
		}
		outcome, err := ValidateIndex(ctx, folder, row, live, c.skipDeleted, c.imap)
		if err != nil {
			return nil, err
		}
		switch {
		case outcome.Purge:
			if err := c.Clear(ctx, folder, nil); err != nil {
				return nil, err
			}
			fs = c.ws.folder(folder)
			found = false
		case outcome.DropSlot:
			fs.index = nil
			found = false
		}
		if outcome.Valid {
			fs.index = &indexSlot{row: row, validated: true}
			return reversedIndex(row, sortOrder), nil
		}
	}

	if !found && existingOnly {
		return nil, nil
	}

	uids, err := c.imap.IndexDirect(ctx, folder, effectiveSort, SortAsc)
	if err != nil {
		return nil, wrapIMAP("IndexDirect", err)
	}
	live, err := c.imap.FolderData(ctx, folder)
	if err != nil {
		return nil, wrapIMAP("FolderData", err)
	}
	newRow := &IndexRow{
		UIDs:        uids,
		Valid:       true,
		SortField:   effectiveSort,
		SkipDeleted: c.skipDeleted,
		UIDValidity: live.UIDValidity,
		UIDNext:     live.UIDNext,
		HasModSeq:   live.HasModSeq,
		ModSeq:      live.HighestModSeq,
		Expires:     c.expiresAt(),
	}
	if _, err := c.store.UpsertIndex(ctx, c.userID, folder, newRow); err != nil {
		return nil, wrapStore("UpsertIndex", err)
	}
	fs.index = &indexSlot{row: newRow, validated: true}
	return reversedIndex(newRow, sortOrder), nil
}

// GetThread implements spec §4.G get_thread.
func (c *Cache) GetThread(ctx context.Context, folder string) (*ThreadRow, error) {
	fs := c.ws.folder(folder)
	if fs.thread != nil {
		return fs.thread, nil
	}

	var row *ThreadRow
	var found bool
	var err error
	if !fs.threadQueried {
		row, found, err = c.store.SelectThread(ctx, c.userID, folder)
		if err != nil {
			return nil, wrapStore("SelectThread", err)
		}
		fs.threadQueried = true
	}

	if found {
		live, err := c.imap.FolderData(ctx, folder)
		if err != nil {
			return nil, wrapIMAP("FolderData", err)
		}
		outcome := ValidateThread(ctx, folder, row, live, c.skipDeleted)
		switch {
		case outcome.Purge:
			if err := c.Clear(ctx, folder, nil); err != nil {
				return nil, err
			}
			fs = c.ws.folder(folder)
			found = false
		case outcome.DropSlot:
			found = false
		}
		if outcome.Valid {
			fs.thread = row
			return row, nil
		}
	}

	tree, err := c.imap.ThreadsDirect(ctx, folder)
	if err != nil {
		return nil, wrapIMAP("ThreadsDirect", err)
	}
	live, err := c.imap.FolderData(ctx, folder)
	if err != nil {
		return nil, wrapIMAP("FolderData", err)
	}
	newRow := &ThreadRow{
		Tree:        tree,
		SkipDeleted: c.skipDeleted,
		UIDValidity: live.UIDValidity,
		UIDNext:     live.UIDNext,
		Expires:     c.expiresAt(),
	}
	if _, err := c.store.UpsertThread(ctx, c.userID, folder, newRow); err != nil {
		return nil, wrapStore("UpsertThread", err)
	}
	fs.thread = newRow
	return newRow, nil
}

// flushCurrentIfDirty persists the current-message slot if its digest no
// longer matches what was last written, then always clears the slot
// (displacement policy, spec §4.C).
func (c *Cache) flushCurrentIfDirty(ctx context.Context) error {
	cur := c.ws.current
	if cur == nil {
		return nil
	}
	if cur.dirty() {
		if _, err := c.store.UpsertMessage(ctx, c.userID, cur.folder, cur.row); err != nil {
			return wrapStore("UpsertMessage", err)
		}
	}
	c.ws.current = nil
	return nil
}

// GetMessage implements spec §4.G get_message.
func (c *Cache) GetMessage(ctx context.Context, folder string, uid uint32, update, cacheResult bool) (*MessageRow, error) {
	if cur := c.ws.current; cur != nil && cur.folder == folder && cur.uid == uid {
		return cur.row, nil
	}

	row, found, err := c.store.SelectMessage(ctx, c.userID, folder, uid)
	if err != nil {
		return nil, wrapStore("SelectMessage", err)
	}
	if !found {
		if !update {
			return nil, nil
		}
		header, err := c.imap.GetMessageHeaders(ctx, folder, uid)
		if err != nil {
			return nil, wrapIMAP("GetMessageHeaders", err)
		}
		row = &MessageRow{UID: uid, Header: header, Expires: c.expiresAt()}
	}

	if cacheResult {
		if err := c.flushCurrentIfDirty(ctx); err != nil {
			return nil, err
		}
		baseline := messageDigest(row)
		if !found {
			baseline = digest.Zero // not yet persisted: close() must flush it
		}
		c.ws.current = &currentMessage{
			folder:          folder,
			uid:             uid,
			row:             row,
			existedInStore:  found,
			persistedDigest: baseline,
		}
	}
	return row, nil
}

// GetMessages implements spec §4.G get_messages.
func (c *Cache) GetMessages(ctx context.Context, folder string, uids []uint32) ([]*MessageRow, error) {
	rows, err := c.store.SelectMessages(ctx, c.userID, folder, uids)
	if err != nil {
		return nil, wrapStore("SelectMessages", err)
	}

	have := make(map[uint32]bool, len(rows))
	for _, r := range rows {
		have[r.UID] = true
	}
	var missing []uint32
	for _, u := range uids {
		if !have[u] {
			missing = append(missing, u)
		}
	}
	if len(missing) == 0 {
		return rows, nil
	}

	headers, err := c.imap.FetchHeaders(ctx, folder, missing)
	if err != nil {
		return nil, wrapIMAP("FetchHeaders", err)
	}
	for i, u := range missing {
		if i >= len(headers) {
			break
		}
		row := &MessageRow{UID: u, Header: headers[i], Expires: c.expiresAt()}
		if _, err := c.store.UpsertMessage(ctx, c.userID, folder, row); err != nil {
			return nil, wrapStore("UpsertMessage", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AddMessage implements spec §4.G add_message.
func (c *Cache) AddMessage(ctx context.Context, folder string, uid uint32, header HeaderObject, flags []Flag, force bool) error {
	_ = force // upserts are always unconditional at the store layer
	row := &MessageRow{
		UID:     uid,
		Header:  header,
		Flags:   PackFlags(flags),
		Expires: c.expiresAt(),
	}
	if _, err := c.store.UpsertMessage(ctx, c.userID, folder, row); err != nil {
		return wrapStore("UpsertMessage", err)
	}
	return nil
}

// ChangeFlag implements spec §4.G change_flag.
func (c *Cache) ChangeFlag(ctx context.Context, folder string, uids []uint32, flag Flag, enabled bool) error {
	key, ok := flagBit(flag)
	if !ok {
		return nil // unknown flag: silent no-op, spec §7 error kind 5
	}

	cur := c.ws.current
	currentInSet := false
	if cur != nil && cur.folder == folder {
		for _, u := range uids {
			if u == cur.uid {
				currentInSet = true
				applyFlagBit(&cur.row.Flags, key, enabled)
				break
			}
		}
	}

	if len(uids) == 1 && currentInSet {
		return nil // close() flush will persist it
	}

	return wrapStore("UpdateFlags", c.store.UpdateFlags(ctx, c.userID, folder, uids, key, enabled))
}

func applyFlagBit(bits *uint32, key uint32, enabled bool) {
	if enabled {
		if *bits&key != key {
			*bits += key
		}
	} else {
		if *bits&key == key {
			*bits -= key
		}
	}
}

// RemoveMessage implements spec §4.G remove_message. An empty folder
// deletes every message row for the user regardless of folder.
func (c *Cache) RemoveMessage(ctx context.Context, folder string, uids []uint32) error {
	if err := c.store.DeleteMessages(ctx, c.userID, folder, uids); err != nil {
		return wrapStore("DeleteMessages", err)
	}
	if cur := c.ws.current; cur != nil && (folder == "" || cur.folder == folder) && inUIDSet(cur.uid, uids) {
		c.ws.current = nil
	}
	return nil
}

func inUIDSet(uid uint32, uids []uint32) bool {
	if uids == nil {
		return true
	}
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}

// RemoveIndex implements spec §4.G remove_index.
func (c *Cache) RemoveIndex(ctx context.Context, folder string, remove bool) error {
	if remove {
		if err := c.store.DeleteIndex(ctx, c.userID, folder); err != nil {
			return wrapStore("DeleteIndex", err)
		}
	} else {
		if err := c.store.SetIndexInvalid(ctx, c.userID, folder); err != nil {
			return wrapStore("SetIndexInvalid", err)
		}
	}
	fs := c.ws.folder(folder)
	fs.index = nil
	fs.indexQueried = true
	return nil
}

// RemoveThread implements spec §4.G remove_thread: always a physical
// delete.
func (c *Cache) RemoveThread(ctx context.Context, folder string) error {
	if err := c.store.DeleteThread(ctx, c.userID, folder); err != nil {
		return wrapStore("DeleteThread", err)
	}
	fs := c.ws.folder(folder)
	fs.thread = nil
	fs.threadQueried = true
	return nil
}

// Clear implements spec §4.G clear.
func (c *Cache) Clear(ctx context.Context, folder string, uids []uint32) error {
	if err := c.RemoveIndex(ctx, folder, true); err != nil {
		return err
	}
	if err := c.RemoveThread(ctx, folder); err != nil {
		return err
	}
	return c.RemoveMessage(ctx, folder, uids)
}

// Close implements spec §4.G close: flush the current-message slot if
// dirty, then drop the entire working set.
func (c *Cache) Close(ctx context.Context) error {
	if err := c.flushCurrentIfDirty(ctx); err != nil {
		return err
	}
	c.ws = newWorkingSet()
	return nil
}

// GC implements spec §4.G gc: a static sweep, re-architected per the
// spec's design notes to take an explicit store parameter instead of a
// process-wide singleton accessor, so it can be exercised against a fake
// store in tests and run safely alongside live Cache sessions.
func GC(ctx context.Context, store Store, now time.Time) (GCStats, error) {
	stats, err := store.GCExpired(ctx, now)
	if err != nil {
		return GCStats{}, wrapStore("GCExpired", err)
	}
	return stats, nil
}

// CountGC reports how many rows a GC sweep would remove at now, without
// deleting anything, for a --dry-run style report.
func CountGC(ctx context.Context, store Store, now time.Time) (GCStats, error) {
	stats, err := store.CountExpired(ctx, now)
	if err != nil {
		return GCStats{}, wrapStore("CountExpired", err)
	}
	return stats, nil
}
