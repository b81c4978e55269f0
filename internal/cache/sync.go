package cache

import "context"

// Synchronize implements spec §4.F: incremental repair of one folder's
// index via CONDSTORE/QRESYNC, instead of a full rebuild. It runs only
// when the server advertises one of those capabilities; callers that
// already know a server lacks both should not call it.
func (c *Cache) Synchronize(ctx context.Context, folder string) error {
	// Step 1: load the persisted index row.
	row, found, err := c.store.SelectIndex(ctx, c.userID, folder)
	if err != nil {
		return wrapStore("SelectIndex", err)
	}
	fs := c.ws.folder(folder)
	fs.indexQueried = true
	if !found {
		return nil
	}

	// Step 2: no stored modseq means incremental sync is impossible.
	if !row.HasModSeq {
		return nil
	}

	// Step 3: prefer QRESYNC, fall back to CONDSTORE.
	qresync := c.imap.GetCapability("QRESYNC")
	if qresync {
		if err := c.imap.Enable(ctx, "QRESYNC"); err != nil {
			return c.abortOnIMAPError("Enable", err)
		}
	} else if c.imap.GetCapability("CONDSTORE") {
		if err := c.imap.Enable(ctx, "CONDSTORE"); err != nil {
			return c.abortOnIMAPError("Enable", err)
		}
	} else {
		return nil
	}

	// Step 4: forcing a fresh UIDVALIDITY/HIGHESTMODSEQ on reselect is the
	// IMAP adapter's responsibility (FolderData always reselects).

	// Step 5: fetch folder status.
	live, err := c.imap.FolderData(ctx, folder)
	if err != nil {
		return c.abortOnIMAPError("FolderData", err)
	}
	if row.UIDValidity != live.UIDValidity {
		return c.Clear(ctx, folder, nil)
	}

	// Step 6: nothing to do if NOMODSEQ or unchanged HIGHESTMODSEQ.
	if live.NoModSeq || live.HighestModSeq == row.ModSeq {
		return nil
	}

	// Step 7: selective FETCH (FLAGS) CHANGEDSINCE stored modseq.
	uids, err := c.store.SelectAllUIDs(ctx, c.userID, folder)
	if err != nil {
		return wrapStore("SelectAllUIDs", err)
	}
	result, err := c.imap.Fetch(ctx, folder, uids, true, []string{"FLAGS"}, row.ModSeq, qresync)
	if err != nil {
		return c.abortOnIMAPError("Fetch", err)
	}

	// Step 8: apply returned flag deltas.
	var removed []uint32
	invalid := false
	for uid, rawFlags := range result.Flags {
		deleted := false
		for _, f := range rawFlags {
			if Flag(f) == FlagDeleted {
				deleted = true
				break
			}
		}
		if row.SkipDeleted && deleted {
			removed = append(removed, uid)
			invalid = true
			continue
		}
		bits := PackFlags(namesToFlags(rawFlags))
		if err := c.store.SetFlags(ctx, c.userID, folder, uid, bits); err != nil {
			return wrapStore("SetFlags", err)
		}
	}

	// Step 9: union VANISHED UIDs into removed.
	if len(result.Vanished) > 0 {
		removed = append(removed, result.Vanished...)
		invalid = true
	}

	// Step 10: delete removed UIDs.
	if len(removed) > 0 {
		if err := c.store.DeleteMessages(ctx, c.userID, folder, removed); err != nil {
			return wrapStore("DeleteMessages", err)
		}
	}

	if invalid {
		row.Valid = false
	}

	// Step 11: re-run the Validator; rebuild via fresh SORT if still invalid.
	// Any error here comes from the Validator's own IMAP round trip (rule
	// 9c's SearchOnce fallback), so it aborts rather than surfaces too.
	outcome, err := ValidateIndex(ctx, folder, row, live, row.SkipDeleted, c.imap)
	if err != nil {
		return c.abortOnIMAPError("ValidateIndex", err)
	}
	if !outcome.Valid {
		rebuilt, err := c.imap.IndexDirect(ctx, folder, row.SortField, SortAsc)
		if err != nil {
			return c.abortOnIMAPError("IndexDirect", err)
		}
		row.UIDs = rebuilt
		row.Valid = true
		_, threadExisted, err := c.store.SelectThread(ctx, c.userID, folder)
		if err != nil {
			return wrapStore("SelectThread", err)
		}
		if threadExisted {
			if err := c.store.DeleteThread(ctx, c.userID, folder); err != nil {
				return wrapStore("DeleteThread", err)
			}
		}
		fs.thread = nil
		fs.threadQueried = true
	}

	// Step 12: upsert the index row with the updated HIGHESTMODSEQ.
	row.UIDNext = live.UIDNext
	row.HasModSeq = live.HasModSeq
	row.ModSeq = live.HighestModSeq
	row.Expires = c.expiresAt()
	if _, err := c.store.UpsertIndex(ctx, c.userID, folder, row); err != nil {
		return wrapStore("UpsertIndex", err)
	}
	fs.index = &indexSlot{row: row, validated: outcome.Valid}
	return nil
}

func namesToFlags(names []string) []Flag {
	out := make([]Flag, len(names))
	for i, n := range names {
		out[i] = Flag(n)
	}
	return out
}

// abortOnIMAPError implements spec §7 error kind 2: synchronize swallows
// IMAP-side failures and leaves the cache as-is (stale but consistent)
// instead of surfacing them, unlike get_index/get_thread/get_message.
func (c *Cache) abortOnIMAPError(op string, err error) error {
	c.log.Warn().Err(err).Str("op", op).Msg("synchronize: imap call failed, aborting incremental repair")
	return nil
}
