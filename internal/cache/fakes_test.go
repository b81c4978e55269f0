package cache

import (
	"context"
	"sort"
	"time"
)

// fakeStore is an in-memory cache.Store used to exercise the facade and
// synchronizer without a real database, matching the teacher's habit of
// testing against fakes rather than testify mocks.
type fakeStore struct {
	index    map[string]*IndexRow
	thread   map[string]*ThreadRow
	messages map[string]map[uint32]*MessageRow

	upsertIndexCalls   int
	upsertMessageCalls int
	updateFlagsCalls   int
	setFlagsCalls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		index:    make(map[string]*IndexRow),
		thread:   make(map[string]*ThreadRow),
		messages: make(map[string]map[uint32]*MessageRow),
	}
}

func fkey(userID, mailbox string) string { return userID + "\x00" + mailbox }

func cloneIndex(row *IndexRow) *IndexRow {
	if row == nil {
		return nil
	}
	out := *row
	out.UIDs = append([]uint32(nil), row.UIDs...)
	return &out
}

func cloneMessage(row *MessageRow) *MessageRow {
	if row == nil {
		return nil
	}
	out := *row
	out.Header = append(HeaderObject(nil), row.Header...)
	return &out
}

func (s *fakeStore) SelectIndex(ctx context.Context, userID, mailbox string) (*IndexRow, bool, error) {
	row, ok := s.index[fkey(userID, mailbox)]
	if !ok {
		return nil, false, nil
	}
	return cloneIndex(row), true, nil
}

func (s *fakeStore) SelectThread(ctx context.Context, userID, mailbox string) (*ThreadRow, bool, error) {
	row, ok := s.thread[fkey(userID, mailbox)]
	if !ok {
		return nil, false, nil
	}
	out := *row
	return &out, true, nil
}

func (s *fakeStore) SelectMessage(ctx context.Context, userID, mailbox string, uid uint32) (*MessageRow, bool, error) {
	byUID, ok := s.messages[fkey(userID, mailbox)]
	if !ok {
		return nil, false, nil
	}
	row, ok := byUID[uid]
	if !ok {
		return nil, false, nil
	}
	return cloneMessage(row), true, nil
}

func (s *fakeStore) SelectMessages(ctx context.Context, userID, mailbox string, uids []uint32) ([]*MessageRow, error) {
	byUID := s.messages[fkey(userID, mailbox)]
	var out []*MessageRow
	for _, u := range uids {
		if row, ok := byUID[u]; ok {
			out = append(out, cloneMessage(row))
		}
	}
	return out, nil
}

func (s *fakeStore) SelectAllUIDs(ctx context.Context, userID, mailbox string) ([]uint32, error) {
	byUID := s.messages[fkey(userID, mailbox)]
	out := make([]uint32, 0, len(byUID))
	for u := range byUID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fakeStore) UpsertIndex(ctx context.Context, userID, mailbox string, row *IndexRow) (bool, error) {
	s.upsertIndexCalls++
	k := fkey(userID, mailbox)
	_, existed := s.index[k]
	s.index[k] = cloneIndex(row)
	return existed, nil
}

func (s *fakeStore) UpsertThread(ctx context.Context, userID, mailbox string, row *ThreadRow) (bool, error) {
	k := fkey(userID, mailbox)
	_, existed := s.thread[k]
	out := *row
	s.thread[k] = &out
	return existed, nil
}

func (s *fakeStore) UpsertMessage(ctx context.Context, userID, mailbox string, row *MessageRow) (bool, error) {
	s.upsertMessageCalls++
	k := fkey(userID, mailbox)
	byUID, ok := s.messages[k]
	if !ok {
		byUID = make(map[uint32]*MessageRow)
		s.messages[k] = byUID
	}
	_, existed := byUID[row.UID]
	byUID[row.UID] = cloneMessage(row)
	return existed, nil
}

func (s *fakeStore) SetIndexInvalid(ctx context.Context, userID, mailbox string) error {
	if row, ok := s.index[fkey(userID, mailbox)]; ok {
		row.Valid = false
	}
	return nil
}

func (s *fakeStore) UpdateFlags(ctx context.Context, userID, mailbox string, uids []uint32, key uint32, enabled bool) error {
	s.updateFlagsCalls++
	byUID := s.messages[fkey(userID, mailbox)]
	for _, u := range uids {
		row, ok := byUID[u]
		if !ok {
			continue
		}
		if enabled {
			if row.Flags&key != key {
				row.Flags += key
			}
		} else if row.Flags&key == key {
			row.Flags -= key
		}
	}
	return nil
}

func (s *fakeStore) SetFlags(ctx context.Context, userID, mailbox string, uid uint32, bits uint32) error {
	s.setFlagsCalls++
	byUID := s.messages[fkey(userID, mailbox)]
	row, ok := byUID[uid]
	if !ok || row.Flags == bits {
		return nil
	}
	row.Flags = bits
	return nil
}

func (s *fakeStore) DeleteIndex(ctx context.Context, userID, mailbox string) error {
	delete(s.index, fkey(userID, mailbox))
	return nil
}

func (s *fakeStore) DeleteThread(ctx context.Context, userID, mailbox string) error {
	delete(s.thread, fkey(userID, mailbox))
	return nil
}

func (s *fakeStore) DeleteMessages(ctx context.Context, userID, mailbox string, uids []uint32) error {
	if mailbox == "" {
		for k := range s.messages {
			if len(k) >= len(userID) && k[:len(userID)] == userID {
				delete(s.messages, k)
			}
		}
		return nil
	}
	k := fkey(userID, mailbox)
	if uids == nil {
		delete(s.messages, k)
		return nil
	}
	byUID := s.messages[k]
	for _, u := range uids {
		delete(byUID, u)
	}
	return nil
}

func (s *fakeStore) GCExpired(ctx context.Context, now time.Time) (GCStats, error) {
	var stats GCStats
	for k, row := range s.index {
		if row.Expires != nil && row.Expires.Before(now) {
			delete(s.index, k)
			stats.IndexRows++
		}
	}
	for k, row := range s.thread {
		if row.Expires != nil && row.Expires.Before(now) {
			delete(s.thread, k)
			stats.ThreadRows++
		}
	}
	for k, byUID := range s.messages {
		for u, row := range byUID {
			if row.Expires != nil && row.Expires.Before(now) {
				delete(byUID, u)
				stats.MessageRows++
			}
		}
		_ = k
	}
	return stats, nil
}

func (s *fakeStore) CountExpired(ctx context.Context, now time.Time) (GCStats, error) {
	var stats GCStats
	for _, row := range s.index {
		if row.Expires != nil && row.Expires.Before(now) {
			stats.IndexRows++
		}
	}
	for _, row := range s.thread {
		if row.Expires != nil && row.Expires.Before(now) {
			stats.ThreadRows++
		}
	}
	for _, byUID := range s.messages {
		for _, row := range byUID {
			if row.Expires != nil && row.Expires.Before(now) {
				stats.MessageRows++
			}
		}
	}
	return stats, nil
}

// fakeIMAP is a scripted cache.IMAPClient.
type fakeIMAP struct {
	folderData      map[string]FolderStatus
	folderDataErr   error
	folderDataCalls int
	indexDirect     []uint32
	threadDirect    ThreadObject
	searchOnce      []uint32
	caps            map[string]bool
	fetchResult     FetchResult
	headers         map[uint32]HeaderObject

	enableCalls []string
}

func newFakeIMAP() *fakeIMAP {
	return &fakeIMAP{
		folderData: make(map[string]FolderStatus),
		caps:       make(map[string]bool),
		headers:    make(map[uint32]HeaderObject),
	}
}

func (f *fakeIMAP) FolderData(ctx context.Context, mailbox string) (FolderStatus, error) {
	f.folderDataCalls++
	if f.folderDataErr != nil {
		return FolderStatus{}, f.folderDataErr
	}
	return f.folderData[mailbox], nil
}

func (f *fakeIMAP) FetchHeaders(ctx context.Context, mailbox string, uids []uint32) ([]HeaderObject, error) {
	out := make([]HeaderObject, len(uids))
	for i, u := range uids {
		out[i] = f.headers[u]
	}
	return out, nil
}

func (f *fakeIMAP) GetMessageHeaders(ctx context.Context, mailbox string, uid uint32) (HeaderObject, error) {
	return f.headers[uid], nil
}

func (f *fakeIMAP) IndexDirect(ctx context.Context, mailbox string, sortField SortField, sortOrder SortOrder) ([]uint32, error) {
	return append([]uint32(nil), f.indexDirect...), nil
}

func (f *fakeIMAP) ThreadsDirect(ctx context.Context, mailbox string) (ThreadObject, error) {
	return f.threadDirect, nil
}

func (f *fakeIMAP) SearchOnce(ctx context.Context, mailbox, criteria string) ([]uint32, error) {
	return f.searchOnce, nil
}

func (f *fakeIMAP) GetCapability(name string) bool { return f.caps[name] }

func (f *fakeIMAP) CheckConnection(ctx context.Context) error { return nil }

func (f *fakeIMAP) Enable(ctx context.Context, caps ...string) error {
	f.enableCalls = append(f.enableCalls, caps...)
	return nil
}

func (f *fakeIMAP) Close(ctx context.Context) error { return nil }

func (f *fakeIMAP) Fetch(ctx context.Context, mailbox string, uids []uint32, flagsOnly bool, items []string, changedSince uint64, qresync bool) (FetchResult, error) {
	return f.fetchResult, nil
}
