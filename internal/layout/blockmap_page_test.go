package layout

import "testing"

func TestBlockMapPageHeaderRoundTrip(t *testing.T) {
	h := BlockMapPageHeader{Nonce: 0xdeadbeefcafebabe, PBN: 123456, RecoveryLock: 77, Initialized: true, EntriesWritten: 42}
	var buf [BlockMapPageHeaderBytes]byte
	h.Encode(buf[:])
	got := DecodeBlockMapPageHeader(buf[:])
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestEncodeDecodePageRoundTrip(t *testing.T) {
	h := BlockMapPageHeader{Nonce: 7, PBN: 9, Initialized: true, EntriesWritten: 2}
	entries := make([]Mapping, EntriesPerPage)
	entries[0] = Mapping{PBN: 10, State: MappingStateUncompressed}
	entries[1] = Mapping{PBN: 0, State: MappingStateUnmapped}
	entries[EntriesPerPage-1] = Mapping{PBN: 999, State: CompressedBase + 3}

	buf := EncodePage(h, entries)
	gotHeader, gotEntries := DecodePage(buf)
	if gotHeader != h {
		t.Errorf("header mismatch: got %+v want %+v", gotHeader, h)
	}
	for i := range entries {
		if gotEntries[i] != entries[i] {
			t.Errorf("entry %d mismatch: got %+v want %+v", i, gotEntries[i], entries[i])
		}
	}
}
