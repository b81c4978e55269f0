package cache

import (
	"context"
	"time"
)

// Store is the persistence adapter contract (component D / §4.D). All
// writes use insert-or-update semantics keyed on (user_id, mailbox) or
// (user_id, mailbox, uid); implementations MUST make Upsert* atomic
// single-row operations — the Cache never infers exists_in_store from a
// separate, racy SELECT.
type Store interface {
	SelectIndex(ctx context.Context, userID, mailbox string) (*IndexRow, bool, error)
	SelectThread(ctx context.Context, userID, mailbox string) (*ThreadRow, bool, error)
	SelectMessage(ctx context.Context, userID, mailbox string, uid uint32) (*MessageRow, bool, error)
	SelectMessages(ctx context.Context, userID, mailbox string, uids []uint32) ([]*MessageRow, error)
	SelectAllUIDs(ctx context.Context, userID, mailbox string) ([]uint32, error)

	// UpsertIndex reports existed=true if a row for (userID, mailbox)
	// already existed before this call.
	UpsertIndex(ctx context.Context, userID, mailbox string, row *IndexRow) (existed bool, err error)
	UpsertThread(ctx context.Context, userID, mailbox string, row *ThreadRow) (existed bool, err error)
	UpsertMessage(ctx context.Context, userID, mailbox string, row *MessageRow) (existed bool, err error)

	SetIndexInvalid(ctx context.Context, userID, mailbox string) error

	// UpdateFlags applies a single flag bit to every uid in uids, guarded
	// so a UID whose bit already matches the requested state is not
	// rewritten (spec §4.G change_flag: "guards with (flags & key) ==
	// (enabled ? 0 : key) to skip no-op writes").
	UpdateFlags(ctx context.Context, userID, mailbox string, uids []uint32, key uint32, enabled bool) error

	// SetFlags replaces the entire flag bitmap for one uid, guarded so a
	// row whose flags already equal bits is not rewritten (spec §4.F
	// step 8: "a conditional UPDATE (WHERE flags <> new) to avoid no-op
	// writes").
	SetFlags(ctx context.Context, userID, mailbox string, uid uint32, bits uint32) error

	DeleteIndex(ctx context.Context, userID, mailbox string) error
	DeleteThread(ctx context.Context, userID, mailbox string) error
	// DeleteMessages deletes by (userID, mailbox) when uids is nil, or the
	// given UIDs within that folder otherwise. If mailbox is "", it
	// deletes every message row for userID regardless of folder.
	DeleteMessages(ctx context.Context, userID, mailbox string, uids []uint32) error

	// GCExpired deletes rows with expires < now across all three tables;
	// rows with a NULL expiry are never removed.
	GCExpired(ctx context.Context, now time.Time) (GCStats, error)

	// CountExpired reports the same counts GCExpired would delete, without
	// deleting anything, for --dry-run style reporting.
	CountExpired(ctx context.Context, now time.Time) (GCStats, error)
}

// IMAPClient is the IMAP collaborator contract (§6). The Cache never
// constructs protocol messages itself; it only calls these methods.
type IMAPClient interface {
	FolderData(ctx context.Context, mailbox string) (FolderStatus, error)
	FetchHeaders(ctx context.Context, mailbox string, uids []uint32) ([]HeaderObject, error)
	GetMessageHeaders(ctx context.Context, mailbox string, uid uint32) (HeaderObject, error)
	IndexDirect(ctx context.Context, mailbox string, sortField SortField, sortOrder SortOrder) ([]uint32, error)
	ThreadsDirect(ctx context.Context, mailbox string) (ThreadObject, error)
	SearchOnce(ctx context.Context, mailbox, criteria string) ([]uint32, error)

	GetCapability(name string) bool
	CheckConnection(ctx context.Context) error
	Enable(ctx context.Context, caps ...string) error
	Close(ctx context.Context) error

	// Fetch issues a (possibly CHANGEDSINCE-qualified) FETCH for uids.
	// qresync requests a VANISHED piggyback when the connection has
	// QRESYNC enabled.
	Fetch(ctx context.Context, mailbox string, uids []uint32, flagsOnly bool, items []string, changedSince uint64, qresync bool) (FetchResult, error)
}
