package cache

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// blobVersion is the current versioned-envelope tag (spec design note:
// "define a stable versioned serializer and bump its version on schema
// change"). A decoder that meets an unrecognized version treats the row
// as corrupt rather than guessing at its shape.
const blobVersion = 1

type indexBlob struct {
	UIDs []uint32 `json:"uids"`
}

type threadBlob struct {
	Tree ThreadObject `json:"tree"`
}

// envelope wraps a JSON payload with a leading version tag so a future
// schema change can switch codecs per-version without a migration.
type envelope struct {
	Version int             `json:"v"`
	Payload json.RawMessage `json:"p"`
}

func encodeEnvelope(payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: blobVersion, Payload: p})
}

// decodeEnvelope reports ok=false for any malformed or version-mismatched
// envelope; callers treat that as "corrupt, proceed as empty" per §7
// error kind 4, never as a raised error.
func decodeEnvelope(raw []byte, out any) (ok bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	if env.Version != blobVersion {
		return false
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false
	}
	return true
}

// indexRowData is the single-text-column representation of an index row
// (spec §4.B / §6's "data" column), replacing the original's `@`-joined
// positional fields with a keyed JSON object while preserving every field
// §4.B names.
type indexRowData struct {
	UIDValidity uint32 `json:"uidvalidity"`
	UIDNext     uint32 `json:"uidnext"`
	HasModSeq   bool   `json:"has_modseq"`
	ModSeq      uint64 `json:"modseq"`
	Valid       bool   `json:"valid"`
	SkipDeleted bool   `json:"skip_deleted"`
	SortField   string `json:"sort_field"`
	Blob        string `json:"blob"` // base64 of the versioned envelope
}

// EncodeIndexData serializes an IndexRow's metadata+blob tuple into the
// text form the persistence adapter stores in its "data" column.
func EncodeIndexData(row *IndexRow) (string, error) {
	blob, err := encodeEnvelope(indexBlob{UIDs: row.UIDs})
	if err != nil {
		return "", err
	}
	data := indexRowData{
		UIDValidity: row.UIDValidity,
		UIDNext:     row.UIDNext,
		HasModSeq:   row.HasModSeq,
		ModSeq:      row.ModSeq,
		Valid:       row.Valid,
		SkipDeleted: row.SkipDeleted,
		SortField:   string(row.SortField),
		Blob:        base64.StdEncoding.EncodeToString(blob),
	}
	out, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeIndexData parses the text form back into an IndexRow. A corrupt
// or empty blob yields a fresh empty UID sequence while keeping whatever
// metadata parsed successfully, per §4.B.
func DecodeIndexData(text string, expires *time.Time) *IndexRow {
	row := &IndexRow{Expires: expires}
	if text == "" {
		return row
	}

	var data indexRowData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return row // wholly corrupt: fresh empty row, no metadata to keep
	}

	row.UIDValidity = data.UIDValidity
	row.UIDNext = data.UIDNext
	row.HasModSeq = data.HasModSeq
	row.ModSeq = data.ModSeq
	row.Valid = data.Valid
	row.SkipDeleted = data.SkipDeleted
	row.SortField = SortField(data.SortField)

	raw, err := base64.StdEncoding.DecodeString(data.Blob)
	if err != nil {
		return row // metadata kept, blob dropped
	}
	var blob indexBlob
	if !decodeEnvelope(raw, &blob) {
		return row
	}
	row.UIDs = blob.UIDs
	return row
}

type threadRowData struct {
	UIDValidity uint32 `json:"uidvalidity"`
	UIDNext     uint32 `json:"uidnext"`
	SkipDeleted bool   `json:"skip_deleted"`
	Blob        string `json:"blob"`
}

// EncodeThreadData mirrors EncodeIndexData for thread rows.
func EncodeThreadData(row *ThreadRow) (string, error) {
	blob, err := encodeEnvelope(threadBlob{Tree: row.Tree})
	if err != nil {
		return "", err
	}
	data := threadRowData{
		UIDValidity: row.UIDValidity,
		UIDNext:     row.UIDNext,
		SkipDeleted: row.SkipDeleted,
		Blob:        base64.StdEncoding.EncodeToString(blob),
	}
	out, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeThreadData mirrors DecodeIndexData for thread rows.
func DecodeThreadData(text string, expires *time.Time) *ThreadRow {
	row := &ThreadRow{Expires: expires}
	if text == "" {
		return row
	}

	var data threadRowData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return row
	}

	row.UIDValidity = data.UIDValidity
	row.UIDNext = data.UIDNext
	row.SkipDeleted = data.SkipDeleted

	raw, err := base64.StdEncoding.DecodeString(data.Blob)
	if err != nil {
		return row
	}
	var blob threadBlob
	if !decodeEnvelope(raw, &blob) {
		return row
	}
	row.Tree = blob.Tree
	return row
}
