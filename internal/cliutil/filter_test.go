package cliutil

import (
	"testing"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

func TestParseFilterTokensBareHexID(t *testing.T) {
	fs, err := ParseFilterTokens([]string{"123"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fs.Filters) != 1 || fs.Filters[0].ID != 0x123 || fs.Filters[0].Mask != 0xFFFFFFFF {
		t.Fatalf("got %+v", fs.Filters)
	}

	frame, _ := canframe.New(0x123, nil)
	if !fs.Match(frame) {
		t.Error("expected exact id match to pass")
	}
	other, _ := canframe.New(0x124, nil)
	if fs.Match(other) {
		t.Error("expected non-matching id to be rejected")
	}
}

func TestParseFilterTokensIDMask(t *testing.T) {
	fs, err := ParseFilterTokens([]string{"0x100:0x700"})
	if err != nil {
		t.Fatal(err)
	}
	frame, _ := canframe.New(0x123, nil)
	if !fs.Match(frame) {
		t.Error("expected 0x123 & 0x700 == 0x100 & 0x700 to match")
	}
}

func TestParseFilterTokensInvert(t *testing.T) {
	fs, err := ParseFilterTokens([]string{"0x100~0x700"})
	if err != nil {
		t.Fatal(err)
	}
	frame, _ := canframe.New(0x123, nil)
	if fs.Match(frame) {
		t.Error("expected inverted filter to reject a matching id")
	}
	other, _ := canframe.New(0x200, nil)
	if !fs.Match(other) {
		t.Error("expected inverted filter to admit a non-matching id")
	}
}

func TestParseFilterTokensErrorMask(t *testing.T) {
	fs, err := ParseFilterTokens([]string{"#20"})
	if err != nil {
		t.Fatal(err)
	}
	errFrame := canframe.NewError(0x20000020)
	if !fs.Match(errFrame) {
		t.Error("expected error frame to match its mask")
	}
	dataFrame, _ := canframe.New(0x100, nil)
	if fs.Match(dataFrame) {
		t.Error("a data frame must never match an error-mask filter")
	}
}

func TestParseFilterTokensJointAND(t *testing.T) {
	fs, err := ParseFilterTokens([]string{"0x100:0xFFFFFFFF", "0x200:0xFFFFFFFF", "j"})
	if err != nil {
		t.Fatal(err)
	}
	if !fs.Joint {
		t.Fatal("expected joint mode to be enabled by 'j'")
	}
	frame, _ := canframe.New(0x100, nil)
	if fs.Match(frame) {
		t.Error("joint AND of two mutually exclusive exact-id filters must match nothing")
	}
}

func TestParseSendFrameStandard(t *testing.T) {
	frame, err := ParseSendFrame("1F#112233")
	if err != nil {
		t.Fatal(err)
	}
	if frame.Extended || frame.ID != 0x1F {
		t.Fatalf("got %+v", frame)
	}
	if len(frame.Data) != 3 || frame.Data[0] != 0x11 {
		t.Fatalf("data = % x", frame.Data)
	}
}

func TestParseSendFrameExtended(t *testing.T) {
	frame, err := ParseSendFrame("1ABCDEF#0102")
	if err != nil {
		t.Fatal(err)
	}
	if !frame.Extended || frame.ID != 0x1ABCDEF {
		t.Fatalf("got %+v", frame)
	}
}

func TestParseSendFrameRejectsOddLengthData(t *testing.T) {
	if _, err := ParseSendFrame("100#112"); err == nil {
		t.Fatal("expected an error for odd-length data")
	}
}

func TestParseSendFrameRejectsMissingHash(t *testing.T) {
	if _, err := ParseSendFrame("100112233"); err == nil {
		t.Fatal("expected an error for a missing '#'")
	}
}
