package cache

import (
	"context"
	"testing"
)

func TestValidateIndex_UIDValidityMismatchPurges(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDNext: 10, UIDs: []uint32{9, 7, 3}, Valid: true}
	live := FolderStatus{UIDValidity: 43, Exists: 3, UIDNext: 10}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid || !out.Purge || out.ExistsInStore {
		t.Fatalf("got %+v, want invalid+purge+!existsInStore", out)
	}
}

func TestValidateIndex_MissingUIDValidityPurges(t *testing.T) {
	cached := &IndexRow{UIDs: []uint32{1}}
	live := FolderStatus{UIDValidity: 1, Exists: 1}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid || !out.Purge {
		t.Fatalf("got %+v, want invalid+purge", out)
	}
}

func TestValidateIndex_EmptyMailboxEmptyCacheValid(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDs: nil}
	live := FolderStatus{UIDValidity: 42, Exists: 0}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid {
		t.Fatalf("got %+v, want valid", out)
	}
}

func TestValidateIndex_EmptyMailboxNonEmptyCachePurges(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{1}}
	live := FolderStatus{UIDValidity: 42, Exists: 0}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid || !out.Purge {
		t.Fatalf("got %+v, want invalid+purge", out)
	}
}

func TestValidateIndex_CachedEmptyLiveNonEmptyDropsSlot(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDs: nil, Valid: true}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 10}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid || !out.DropSlot || out.Purge {
		t.Fatalf("got %+v, want invalid+dropSlot (not purge)", out)
	}
}

func TestValidateIndex_InvalidPersistedRow(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{1}, Valid: false, UIDNext: 10}
	live := FolderStatus{UIDValidity: 42, Exists: 1, UIDNext: 10}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid || !out.DropSlot {
		t.Fatalf("got %+v, want invalid+dropSlot", out)
	}
}

func TestValidateIndex_SkipDeletedChangedInvalidates(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{1}, Valid: true, SkipDeleted: true, UIDNext: 10}
	live := FolderStatus{UIDValidity: 42, Exists: 1, UIDNext: 10}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid {
		t.Fatalf("got %+v, want invalid (skip_deleted mismatch)", out)
	}
}

func TestValidateIndex_ModSeqShortCircuit(t *testing.T) {
	// UIDNext deliberately mismatched: if the modseq short-circuit (rule
	// 6) didn't fire first, rule 7 would invalidate.
	cached := &IndexRow{
		UIDValidity: 42, UIDs: []uint32{9, 7, 3}, Valid: true,
		UIDNext: 10, HasModSeq: true, ModSeq: 100,
	}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 999, HasModSeq: true, HighestModSeq: 100}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid {
		t.Fatalf("got %+v, want valid via modseq short-circuit", out)
	}
}

func TestValidateIndex_UIDNextMismatchInvalidates(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{9, 7, 3}, Valid: true, UIDNext: 10}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 11}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid || !out.DropSlot {
		t.Fatalf("got %+v, want invalid+dropSlot", out)
	}
}

func TestValidateIndex_SkipDeletedUndeleteCountMatch(t *testing.T) {
	count := 3
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{9, 7, 3}, Valid: true, UIDNext: 10, SkipDeleted: true}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 10, UndeleteCount: &count}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, true, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid {
		t.Fatalf("got %+v, want valid", out)
	}
}

func TestValidateIndex_SkipDeletedUndeleteCountMismatch(t *testing.T) {
	count := 2
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{9, 7, 3}, Valid: true, UIDNext: 10, SkipDeleted: true}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 10, UndeleteCount: &count}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, true, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid {
		t.Fatalf("got %+v, want invalid (undelete count mismatch)", out)
	}
}

func TestValidateIndex_SkipDeletedSearchFallback(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{9, 7, 3}, Valid: true, UIDNext: 10, SkipDeleted: true}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 10}
	imap := newFakeIMAP()
	imap.searchOnce = nil // search finds nothing outside the cached set
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, true, imap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid {
		t.Fatalf("got %+v, want valid (empty search result)", out)
	}

	imap2 := newFakeIMAP()
	imap2.searchOnce = []uint32{99}
	out2, err := ValidateIndex(context.Background(), "INBOX", cached, live, true, imap2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out2.Valid {
		t.Fatalf("got %+v, want invalid (non-empty search result)", out2)
	}
}

func TestValidateIndex_Rule10LastSeqUIDMatch(t *testing.T) {
	last := uint32(3)
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{1, 2, 3}, Valid: true, UIDNext: 10}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 10, LastSeqUID: &last}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid {
		t.Fatalf("got %+v, want valid", out)
	}
}

func TestValidateIndex_Rule10LastSeqUIDMismatch(t *testing.T) {
	last := uint32(99)
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{1, 2, 3}, Valid: true, UIDNext: 10}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 10, LastSeqUID: &last}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid {
		t.Fatalf("got %+v, want invalid (last-sequence UID mismatch)", out)
	}
}

func TestValidateIndex_Rule10MissingLastSeqUIDInvalidatesDefensively(t *testing.T) {
	cached := &IndexRow{UIDValidity: 42, UIDs: []uint32{1, 2, 3}, Valid: true, UIDNext: 10}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 10}
	out, err := ValidateIndex(context.Background(), "INBOX", cached, live, false, newFakeIMAP())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid {
		t.Fatal("missing LastSeqUID should invalidate defensively, not validate")
	}
}

func TestValidateThread_MessageCountCheck(t *testing.T) {
	tree := ThreadObject{Roots: []*ThreadNode{{UID: 1}, {UID: 2}}}
	cached := &ThreadRow{Tree: tree, UIDValidity: 42, UIDNext: 10}
	live := FolderStatus{UIDValidity: 42, Exists: 3, UIDNext: 10}
	out := ValidateThread(context.Background(), "INBOX", cached, live, false)
	if out.Valid {
		t.Fatalf("got %+v, want invalid (EXISTS != message count)", out)
	}

	live2 := FolderStatus{UIDValidity: 42, Exists: 2, UIDNext: 10}
	out2 := ValidateThread(context.Background(), "INBOX", cached, live2, false)
	if !out2.Valid {
		t.Fatalf("got %+v, want valid", out2)
	}
}

func TestFormatUIDSet(t *testing.T) {
	cases := []struct {
		in   []uint32
		want string
	}{
		{nil, ""},
		{[]uint32{7}, "7"},
		{[]uint32{7, 9, 10, 11, 20}, "7,9:11,20"},
		{[]uint32{3, 1, 2}, "1:3"},
	}
	for _, c := range cases {
		got := formatUIDSet(c.in)
		if got != c.want {
			t.Errorf("formatUIDSet(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
