package cache

import "github.com/hkdb/foldercache/internal/digest"

// indexSlot is the working set's in-memory index snapshot for one folder.
type indexSlot struct {
	row       *IndexRow
	validated bool
}

// folderState is the per-folder scratch record the working set keeps
// (spec §4.C): at most one index slot, one thread row, and the two
// "queried" sentinels that suppress repeat SELECTs within a session.
type folderState struct {
	index *indexSlot
	thread *ThreadRow

	indexQueried  bool
	threadQueried bool
}

// currentMessage is the single, process-wide current-message slot (spec
// §3): at most one entry, displaced whenever a different message is
// fetched, flushed to the store when its digest no longer matches what
// was last persisted.
type currentMessage struct {
	folder         string
	uid            uint32
	row            *MessageRow
	existedInStore bool
	persistedDigest digest.Digest
}

// dirty reports whether the slot's current content differs from what was
// last persisted. The digest covers both the header bytes and the packed
// flag bitmap, so a flag-only change is detected too.
func (c *currentMessage) dirty() bool {
	if c == nil {
		return false
	}
	return messageDigest(c.row) != c.persistedDigest
}

// workingSet is the Cache's in-memory scratch state (component C). It is
// never the source of truth — spec invariant 4 — and is dropped entirely
// on close() after any dirty current-message slot is flushed.
type workingSet struct {
	folders map[string]*folderState
	current *currentMessage
}

func newWorkingSet() *workingSet {
	return &workingSet{folders: make(map[string]*folderState)}
}

func (ws *workingSet) folder(name string) *folderState {
	f, ok := ws.folders[name]
	if !ok {
		f = &folderState{}
		ws.folders[name] = f
	}
	return f
}

func (ws *workingSet) dropFolder(name string) {
	delete(ws.folders, name)
}

// messageDigest computes the digest used to decide whether the current
// slot needs flushing. It covers both the header bytes and the packed
// flag bitmap, so a flag-only change is detected as dirty too.
func messageDigest(row *MessageRow) digest.Digest {
	buf := make([]byte, 0, len(row.Header)+4)
	buf = append(buf, row.Header...)
	buf = append(buf, byte(row.Flags), byte(row.Flags>>8), byte(row.Flags>>16), byte(row.Flags>>24))
	return digest.Of(buf)
}
