// Package cache implements the IMAP folder cache core: per-folder sorted
// UID indexes, threaded indexes, and per-message header/flag objects,
// kept consistent with a live IMAP server through CONDSTORE/QRESYNC-aware
// validation and incremental synchronization.
//
// The package depends on its remote collaborators — the persistent store
// and the IMAP protocol client — only through the Store and IMAPClient
// interfaces below. Concrete adapters live in sibling packages
// (internal/store, internal/imapclient).
package cache

import "time"

// SortField is a tagged enum replacing the original's bare "ANY" magic
// string (spec design note): a cached index is built under exactly one
// concrete sort field, and SortAny is a request-side sentinel meaning
// "whatever the store already has."
type SortField string

const (
	SortAny     SortField = "ANY"
	SortDate    SortField = "DATE"
	SortSubject SortField = "SUBJECT"
	SortFrom    SortField = "FROM"
	SortTo      SortField = "TO"
	SortSize    SortField = "SIZE"
	SortArrival SortField = "ARRIVAL"
)

// SortOrder is the direction an index is returned in.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// HeaderObject is the opaque, serialized per-message header/structure
// object the IMAP client and the row codec exchange. The cache core never
// inspects its contents beyond byte-for-byte storage and digesting.
type HeaderObject []byte

// ThreadNode is one node of a thread tree: a message UID and the UIDs of
// messages that reference it.
type ThreadNode struct {
	UID      uint32        `json:"uid"`
	Children []*ThreadNode `json:"children,omitempty"`
}

// ThreadObject is an opaque thread tree for a folder.
type ThreadObject struct {
	Roots []*ThreadNode `json:"roots,omitempty"`
}

// MessageCount returns the number of UIDs present anywhere in the tree.
func (t *ThreadObject) MessageCount() int {
	if t == nil {
		return 0
	}
	var count func(nodes []*ThreadNode) int
	count = func(nodes []*ThreadNode) int {
		n := 0
		for _, node := range nodes {
			n += 1 + count(node.Children)
		}
		return n
	}
	return count(t.Roots)
}

// IndexRow is the persisted, per-(user, folder) sorted UID sequence.
type IndexRow struct {
	UIDs        []uint32
	Valid       bool
	SortField   SortField
	SkipDeleted bool
	UIDValidity uint32
	UIDNext     uint32
	HasModSeq   bool
	ModSeq      uint64
	Expires     *time.Time
}

// ThreadRow is the persisted, per-(user, folder) thread tree.
type ThreadRow struct {
	Tree        ThreadObject
	SkipDeleted bool
	UIDValidity uint32
	UIDNext     uint32
	Expires     *time.Time
}

// MessageRow is the persisted, per-(user, folder, uid) header object and
// flag bitmap.
type MessageRow struct {
	UID     uint32
	Header  HeaderObject
	Flags   uint32
	Expires *time.Time
}

// FolderStatus is a live snapshot of a folder's server-side state, as
// reported by the IMAP client's folder_data / conn.fetch operations.
type FolderStatus struct {
	UIDValidity uint32
	Exists      uint32
	UIDNext     uint32

	HasModSeq     bool
	HighestModSeq uint64
	NoModSeq      bool

	// UndeleteCount and UndeleteUIDs are optional: an IMAPClient that
	// fills them lets the Validator skip rule 9c's SEARCH round trip.
	// internal/imapclient leaves both unset, so rule 9 falls back to 9c.
	UndeleteCount *int
	UndeleteUIDs  []uint32

	// LastSeqUID is the UID of the message at sequence number Exists
	// (i.e. the last message in the mailbox), used by Validator rule 10
	// to confirm the cached UID set's tail without a second round trip.
	// nil when Exists == 0 or the adapter could not obtain it.
	LastSeqUID *uint32
}

// FetchResult is the result of a CHANGEDSINCE/VANISHED-aware flag fetch.
type FetchResult struct {
	// Flags maps UID to the raw flag names the server reported.
	Flags map[uint32][]string
	// Vanished holds UIDs the server reported via QRESYNC VANISHED.
	Vanished []uint32
}

// GCStats reports how many rows a GC sweep removed from each table.
type GCStats struct {
	IndexRows    int
	ThreadRows   int
	MessageRows  int
}
