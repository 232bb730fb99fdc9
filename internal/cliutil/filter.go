// Package cliutil holds small parsing helpers shared by the candump/cansend
// command-line front-ends: candump filter tokens and cansend's ID#DATA
// frame syntax.
package cliutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

// Filter is one parsed candump filter token.
type Filter struct {
	ID       uint32
	Mask     uint32
	Invert   bool // id~mask: frame must NOT match
	ErrFrame bool // #errmask: matches only error frames
}

// FilterSet is the full set of filters given for one interface, plus
// whether 'j'/'J' requested joint (AND) combination instead of the default
// OR combination.
type FilterSet struct {
	Filters []Filter
	Joint   bool
}

// Match reports whether frame passes the filter set. With no filters, every
// frame passes. Joint combines filters with AND; otherwise any single
// matching filter admits the frame.
func (fs FilterSet) Match(frame canframe.Frame) bool {
	if len(fs.Filters) == 0 {
		return true
	}
	if fs.Joint {
		for _, f := range fs.Filters {
			if !f.match(frame) {
				return false
			}
		}
		return true
	}
	for _, f := range fs.Filters {
		if f.match(frame) {
			return true
		}
	}
	return false
}

func (f Filter) match(frame canframe.Frame) bool {
	if f.ErrFrame {
		if !frame.Error {
			return false
		}
		return frame.ID&f.Mask != 0
	}
	hit := frame.ID&f.Mask == f.ID&f.Mask
	if f.Invert {
		return !hit
	}
	return hit
}

// ParseFilterTokens parses the comma-separated filter tokens following an
// interface name in candump's "<iface>[,filter]*" argument.
func ParseFilterTokens(tokens []string) (FilterSet, error) {
	var fs FilterSet
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch tok {
		case "j", "J":
			fs.Joint = true
			continue
		}

		filter, err := parseFilterToken(tok)
		if err != nil {
			return FilterSet{}, err
		}
		fs.Filters = append(fs.Filters, filter)
	}
	return fs, nil
}

func parseFilterToken(tok string) (Filter, error) {
	if strings.HasPrefix(tok, "#") {
		mask, err := parseHex(tok[1:])
		if err != nil {
			return Filter{}, fmt.Errorf("cliutil: bad error mask %q: %w", tok, err)
		}
		return Filter{ErrFrame: true, Mask: mask}, nil
	}

	if i := strings.IndexByte(tok, '~'); i >= 0 {
		id, err := parseHex(tok[:i])
		if err != nil {
			return Filter{}, fmt.Errorf("cliutil: bad filter %q: %w", tok, err)
		}
		mask, err := parseHex(tok[i+1:])
		if err != nil {
			return Filter{}, fmt.Errorf("cliutil: bad filter %q: %w", tok, err)
		}
		return Filter{ID: id, Mask: mask, Invert: true}, nil
	}

	if i := strings.IndexByte(tok, ':'); i >= 0 {
		id, err := parseHex(tok[:i])
		if err != nil {
			return Filter{}, fmt.Errorf("cliutil: bad filter %q: %w", tok, err)
		}
		mask, err := parseHex(tok[i+1:])
		if err != nil {
			return Filter{}, fmt.Errorf("cliutil: bad filter %q: %w", tok, err)
		}
		return Filter{ID: id, Mask: mask}, nil
	}

	id, err := parseHex(tok)
	if err != nil {
		return Filter{}, fmt.Errorf("cliutil: bad filter %q: %w", tok, err)
	}
	return Filter{ID: id, Mask: 0xFFFFFFFF}, nil
}

func parseHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// ParseSendFrame parses cansend's "<ID>#<DATA>" syntax: ID is hex (values
// above 0x7FF imply an extended frame), DATA is even-length hex with one
// byte per pair, 0-8 bytes for a classic frame or one of the CAN-FD lengths.
func ParseSendFrame(arg string) (canframe.Frame, error) {
	i := strings.IndexByte(arg, '#')
	if i < 0 {
		return canframe.Frame{}, fmt.Errorf("cliutil: %q is missing '#'", arg)
	}
	idPart, dataPart := arg[:i], arg[i+1:]

	id, err := parseHex(idPart)
	if err != nil {
		return canframe.Frame{}, fmt.Errorf("cliutil: bad id %q: %w", idPart, err)
	}
	extended := id > canframe.SFFMask

	if len(dataPart)%2 != 0 {
		return canframe.Frame{}, fmt.Errorf("cliutil: odd-length data %q", dataPart)
	}
	data := make([]byte, 0, len(dataPart)/2)
	for j := 0; j < len(dataPart); j += 2 {
		b, err := strconv.ParseUint(dataPart[j:j+2], 16, 8)
		if err != nil {
			return canframe.Frame{}, fmt.Errorf("cliutil: bad data byte %q: %w", dataPart[j:j+2], err)
		}
		data = append(data, byte(b))
	}

	if extended {
		return canframe.NewExtended(id, data)
	}
	return canframe.New(id, data)
}
