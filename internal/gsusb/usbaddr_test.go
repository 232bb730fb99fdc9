package gsusb

import "testing"

func sampleCandidates() []candidateInfo {
	return []candidateInfo{
		{addr: usbAddr{Bus: 1, Address: 5}, index: 0, serial: "ABC123", product: "candleLight"},
		{addr: usbAddr{Bus: 3, Address: 14}, index: 1, serial: "XYZ789", product: "CANable"},
	}
}

func TestMatchIdentifierAuto(t *testing.T) {
	c, err := matchIdentifier(sampleCandidates(), "auto")
	if err != nil {
		t.Fatal(err)
	}
	if c.index != 0 {
		t.Fatalf("auto should pick the first candidate, got index %d", c.index)
	}
}

func TestMatchIdentifierEmptyDefaultsToAuto(t *testing.T) {
	c, err := matchIdentifier(sampleCandidates(), "")
	if err != nil {
		t.Fatal(err)
	}
	if c.index != 0 {
		t.Fatalf("empty identifier should pick the first candidate, got index %d", c.index)
	}
}

func TestMatchIdentifierByIndex(t *testing.T) {
	c, err := matchIdentifier(sampleCandidates(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if c.serial != "XYZ789" {
		t.Fatalf("index 1 should resolve to XYZ789, got %s", c.serial)
	}
}

func TestMatchIdentifierByBusAddress(t *testing.T) {
	c, err := matchIdentifier(sampleCandidates(), "3:014")
	if err != nil {
		t.Fatal(err)
	}
	if c.serial != "XYZ789" {
		t.Fatalf("bus:address match should resolve to XYZ789, got %s", c.serial)
	}
}

func TestMatchIdentifierBySerial(t *testing.T) {
	c, err := matchIdentifier(sampleCandidates(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if c.index != 0 {
		t.Fatalf("case-insensitive serial match should resolve to index 0, got %d", c.index)
	}
}

func TestMatchIdentifierByProduct(t *testing.T) {
	c, err := matchIdentifier(sampleCandidates(), "canable")
	if err != nil {
		t.Fatal(err)
	}
	if c.index != 1 {
		t.Fatalf("case-insensitive product match should resolve to index 1, got %d", c.index)
	}
}

func TestMatchIdentifierNoMatch(t *testing.T) {
	if _, err := matchIdentifier(sampleCandidates(), "nonexistent"); err == nil {
		t.Fatal("expected an error for an unmatched identifier")
	}
}

func TestParseBusAddress(t *testing.T) {
	bus, addr, ok := parseBusAddress("3:014")
	if !ok || bus != 3 || addr != 14 {
		t.Fatalf("parseBusAddress(3:014) = (%d, %d, %v), want (3, 14, true)", bus, addr, ok)
	}
	if _, _, ok := parseBusAddress("not-an-address"); ok {
		t.Fatal("expected parseBusAddress to reject a non bus:address string")
	}
}
