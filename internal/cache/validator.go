package cache

import (
	"context"
	"sort"
)

// Outcome is the Validator's verdict (spec §4.E): valid/invalid plus the
// side effects callers need to decide insert-vs-update and how much of
// the cached state to discard.
type Outcome struct {
	Valid bool
	// Purge means the entire persisted folder (index, thread, messages)
	// must be cleared — rules 1 and 2's "invalid" branch.
	Purge bool
	// DropSlot means only the in-memory working-set slot is discarded;
	// the persisted row is left alone.
	DropSlot bool
	ExistsInStore bool
}

func valid(existsInStore bool) Outcome {
	return Outcome{Valid: true, ExistsInStore: existsInStore}
}

func invalidPurge() Outcome {
	return Outcome{Valid: false, Purge: true, ExistsInStore: false}
}

func invalidDropSlot(existsInStore bool) Outcome {
	return Outcome{Valid: false, DropSlot: true, ExistsInStore: existsInStore}
}

// ValidateIndex runs the 10-rule decision tree of spec §4.E against a
// cached index row. cached may be nil (no persisted row at all, distinct
// from a persisted-but-empty row). skipDeleted is the caller's current
// setting, compared against the row's build-time setting (rule 5).
func ValidateIndex(ctx context.Context, mailbox string, cached *IndexRow, live FolderStatus, skipDeleted bool, imapClient IMAPClient) (Outcome, error) {
	existsInStore := cached != nil
	cachedEmpty := cached == nil || len(cached.UIDs) == 0

	// Rule 1: UIDVALIDITY missing or mismatched.
	if cached == nil || cached.UIDValidity == 0 || cached.UIDValidity != live.UIDValidity {
		return invalidPurge(), nil
	}

	// Rule 2: server reports an empty mailbox.
	if live.Exists == 0 {
		if cachedEmpty {
			return valid(existsInStore), nil
		}
		return invalidPurge(), nil
	}

	// Rule 3: cached empty but server non-empty.
	if cachedEmpty {
		return invalidDropSlot(existsInStore), nil
	}

	// Rule 4 (index only): persisted row already marked invalid.
	if !cached.Valid {
		return invalidDropSlot(existsInStore), nil
	}

	// Rule 5: skip_deleted setting changed since build time.
	if cached.SkipDeleted != skipDeleted {
		return invalidDropSlot(existsInStore), nil
	}

	// Rule 6: short-circuit on matching MODSEQ.
	if cached.HasModSeq && live.HasModSeq && cached.ModSeq == live.HighestModSeq {
		return valid(existsInStore), nil
	}

	// Rule 7: UIDNEXT mismatch.
	if cached.UIDNext != live.UIDNext {
		return invalidDropSlot(existsInStore), nil
	}

	// Rule 9 (index, skip_deleted == true).
	if skipDeleted {
		if live.UndeleteCount != nil {
			if *live.UndeleteCount != len(cached.UIDs) {
				return invalidDropSlot(existsInStore), nil
			}
			return valid(existsInStore), nil
		}
		if live.UndeleteUIDs != nil {
			if !sameUIDSet(live.UndeleteUIDs, cached.UIDs) {
				return invalidDropSlot(existsInStore), nil
			}
			return valid(existsInStore), nil
		}
		// Rule 9c: fall back to a single IMAP search.
		cachedSet := make([]uint32, len(cached.UIDs))
		copy(cachedSet, cached.UIDs)
		sort.Slice(cachedSet, func(i, j int) bool { return cachedSet[i] < cachedSet[j] })
		results, err := imapClient.SearchOnce(ctx, mailbox, "ALL UNDELETED NOT UID "+formatUIDSet(cachedSet))
		if err != nil {
			return Outcome{}, wrapIMAP("SearchOnce", err)
		}
		if len(results) > 0 {
			return invalidDropSlot(existsInStore), nil
		}
		return valid(existsInStore), nil
	}

	// Rule 10 (index, skip_deleted == false).
	if int(live.Exists) != len(cached.UIDs) {
		return invalidDropSlot(existsInStore), nil
	}
	if live.LastSeqUID == nil {
		// The adapter could not obtain the UID of the EXISTS-th message;
		// without it we cannot confirm rule 10 and rebuild defensively.
		return invalidDropSlot(existsInStore), nil
	}
	if maxOf(cached.UIDs) != *live.LastSeqUID {
		return invalidDropSlot(existsInStore), nil
	}
	return valid(existsInStore), nil
}

// ValidateThread runs the subset of the decision tree spec §4.E applies
// to thread rows (rules 1, 2, 3, 5, 7, 8). Thread rows store no modseq,
// so rule 6's short-circuit is not applied.
func ValidateThread(ctx context.Context, mailbox string, cached *ThreadRow, live FolderStatus, skipDeleted bool) Outcome {
	existsInStore := cached != nil
	cachedEmpty := cached == nil || cached.Tree.MessageCount() == 0

	if cached == nil || cached.UIDValidity == 0 || cached.UIDValidity != live.UIDValidity {
		return invalidPurge()
	}

	if live.Exists == 0 {
		if cachedEmpty {
			return valid(existsInStore)
		}
		return invalidPurge()
	}

	if cachedEmpty {
		return invalidDropSlot(existsInStore)
	}

	if cached.SkipDeleted != skipDeleted {
		return invalidDropSlot(existsInStore)
	}

	// Rule 6 has no modseq field on thread rows in this design (threads
	// are never incrementally repaired — §4.F step 11 — so a matching
	// MODSEQ short-circuit would never be observed); fall through to
	// rule 7 equivalent (UIDNEXT) and rule 8.
	if cached.UIDNext != live.UIDNext {
		return invalidDropSlot(existsInStore)
	}

	// Rule 8: cheap message-count check when skip_deleted is false.
	if !skipDeleted && int(live.Exists) != cached.Tree.MessageCount() {
		return invalidDropSlot(existsInStore)
	}

	return valid(existsInStore)
}

func sameUIDSet(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]uint32(nil), a...)
	bs := append([]uint32(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func maxOf(uids []uint32) uint32 {
	var m uint32
	for _, u := range uids {
		if u > m {
			m = u
		}
	}
	return m
}
