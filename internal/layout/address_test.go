package layout

import "testing"

func TestAddressValid(t *testing.T) {
	if !LBN(0).Valid() {
		t.Error("zero LBN should be valid")
	}
	if !LBN(addrMask).Valid() {
		t.Error("max 48-bit LBN should be valid")
	}
	if LBN(addrMask + 1).Valid() {
		t.Error("49-bit LBN should be invalid")
	}
	if !PBN(addrMask).Valid() {
		t.Error("max 48-bit PBN should be valid")
	}
	if PBN(addrMask + 1).Valid() {
		t.Error("49-bit PBN should be invalid")
	}
}
