package cache

// Flag is one of the fixed, process-wide registry of flag names a cached
// message row may carry. The registry is immutable and its integer keys
// are load-bearing on-disk; do not renumber.
type Flag string

const (
	FlagSeen           Flag = "SEEN"
	FlagDeleted        Flag = "DELETED"
	FlagAnswered       Flag = "ANSWERED"
	FlagFlagged        Flag = "FLAGGED"
	FlagDraft          Flag = "DRAFT"
	FlagMDNSent        Flag = "MDNSENT"
	FlagForwarded      Flag = "FORWARDED"
	FlagSubmitPending  Flag = "SUBMITPENDING"
	FlagSubmitted      Flag = "SUBMITTED"
	FlagJunk           Flag = "JUNK"
	FlagNonJunk        Flag = "NONJUNK"
	FlagLabel1         Flag = "LABEL1"
	FlagLabel2         Flag = "LABEL2"
	FlagLabel3         Flag = "LABEL3"
	FlagLabel4         Flag = "LABEL4"
	FlagLabel5         Flag = "LABEL5"
	FlagHasAttachment  Flag = "HASATTACHMENT"
	FlagHasNoAttachment Flag = "HASNOATTACHMENT"
)

// flagRegistry maps each known flag to its power-of-two bit. Unknown
// names are never produced or consumed.
var flagRegistry = map[Flag]uint32{
	FlagSeen:            1,
	FlagDeleted:         2,
	FlagAnswered:        4,
	FlagFlagged:         8,
	FlagDraft:           16,
	FlagMDNSent:         32,
	FlagForwarded:       64,
	FlagSubmitPending:   128,
	FlagSubmitted:       256,
	FlagJunk:            512,
	FlagNonJunk:         1024,
	FlagLabel1:          2048,
	FlagLabel2:          4096,
	FlagLabel3:          8192,
	FlagLabel4:          16384,
	FlagLabel5:          32768,
	FlagHasAttachment:   65536,
	FlagHasNoAttachment: 131072,
}

// PackFlags sums the registry keys of every known flag in flags. Names
// absent from the registry are dropped silently (spec §3: "unknown flags
// present on a message object are dropped silently when persisting").
func PackFlags(flags []Flag) uint32 {
	var bits uint32
	seen := make(map[Flag]bool, len(flags))
	for _, f := range flags {
		if seen[f] {
			continue // strict summation: each flag counts at most once
		}
		if key, ok := flagRegistry[f]; ok {
			bits += key
			seen[f] = true
		}
	}
	return bits
}

// UnpackFlags returns every registry flag whose bit is set in bits.
func UnpackFlags(bits uint32) []Flag {
	var flags []Flag
	for name, key := range flagRegistry {
		if bits&key == key {
			flags = append(flags, name)
		}
	}
	return flags
}

// HasFlag reports whether bits includes flag.
func HasFlag(bits uint32, flag Flag) bool {
	key, ok := flagRegistry[flag]
	if !ok {
		return false
	}
	return bits&key == key
}

// flagBit returns the registry bit for flag and whether flag is known.
func flagBit(flag Flag) (uint32, bool) {
	key, ok := flagRegistry[flag]
	return key, ok
}
