package layout

// SlabJournalEntryBytes is the packed size of a slab-journal entry (spec §3:
// "packed 3 bytes").
const SlabJournalEntryBytes = 3

const (
	sjeSBNBits       = 23
	sjeIncrementBits = 1
)

// SlabJournalEntry is one refcount adjustment recorded in a slab journal:
// an increment or decrement of the reference count at SBN.
type SlabJournalEntry struct {
	SBN       SBN
	Increment bool
}

// PackSlabJournalEntry encodes e into its 3-byte wire form.
func PackSlabJournalEntry(e SlabJournalEntry) [SlabJournalEntryBytes]byte {
	var buf [SlabJournalEntryBytes]byte
	setBits(buf[:], 0, sjeSBNBits, uint64(e.SBN))
	if e.Increment {
		setBits(buf[:], sjeSBNBits, sjeIncrementBits, 1)
	}
	return buf
}

// UnpackSlabJournalEntry decodes a packed slab-journal entry.
func UnpackSlabJournalEntry(buf [SlabJournalEntryBytes]byte) SlabJournalEntry {
	return SlabJournalEntry{
		SBN:       SBN(getBits(buf[:], 0, sjeSBNBits)),
		Increment: getBits(buf[:], sjeSBNBits, sjeIncrementBits) != 0,
	}
}
