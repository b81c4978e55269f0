package store

import "testing"

func TestUidPlaceholders(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, ""},
		{1, "?"},
		{3, "?,?,?"},
	}
	for _, c := range cases {
		if got := uidPlaceholders(c.n); got != c.want {
			t.Errorf("uidPlaceholders(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestBuildUIDQuery(t *testing.T) {
	stmt, args := buildUIDQuery("DELETE FROM cache_messages WHERE user_id = ? AND mailbox = ? AND uid IN (", "u1", "INBOX", []uint32{5, 6})
	wantStmt := "DELETE FROM cache_messages WHERE user_id = ? AND mailbox = ? AND uid IN (?,?)"
	if stmt != wantStmt {
		t.Errorf("stmt = %q, want %q", stmt, wantStmt)
	}
	if len(args) != 4 || args[0] != "u1" || args[1] != "INBOX" || args[2] != uint32(5) || args[3] != uint32(6) {
		t.Errorf("args = %v, want [u1 INBOX 5 6]", args)
	}
}
