package layout

import "testing"

func TestRecoveryEntryRoundTrip(t *testing.T) {
	cases := []RecoveryEntry{
		{Operation: OpDataRemap, Increment: true, Slot: 0, SlotPBN: 0, Mapping: Mapping{PBN: 0, State: MappingStateUnmapped}},
		{Operation: OpDataRemap, Increment: false, Slot: 811, SlotPBN: 9999, Mapping: Mapping{PBN: 42, State: MappingStateUncompressed}},
		{Operation: OpBlockMapRemap, Increment: true, Slot: 1023, SlotPBN: (1 << entrySlotPBNBits) - 1, Mapping: Mapping{PBN: (1 << mappingPBNBits) - 1, State: CompressedBase + 3}},
	}
	for _, e := range cases {
		buf := PackRecoveryEntry(e)
		if len(buf) != RecoveryEntryBytes {
			t.Fatalf("packed entry has wrong length %d", len(buf))
		}
		got := UnpackRecoveryEntry(buf)
		if got != e {
			t.Errorf("round trip mismatch: in=%+v out=%+v", e, got)
		}
	}
}

func TestRecoveryEntryIncrementFlagBit(t *testing.T) {
	// spec §8 testable property: bit 7 of byte 2 (absolute bit 23) is the
	// increment flag.
	withIncrement := PackRecoveryEntry(RecoveryEntry{Increment: true})
	withoutIncrement := PackRecoveryEntry(RecoveryEntry{Increment: false})

	if withIncrement[2]&0x80 == 0 {
		t.Error("expected bit 7 of byte 2 set when Increment is true")
	}
	if withoutIncrement[2]&0x80 != 0 {
		t.Error("expected bit 7 of byte 2 clear when Increment is false")
	}
}
