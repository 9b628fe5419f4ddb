package coff

import (
	"fmt"
	"strconv"
	"strings"
)

// arMagic is the classic UNIX ar global header, unchanged since COFF ar
// archives were first defined; bfd's archive.c (original_source/bfd family)
// still checks for exactly this 8-byte signature before anything else.
const arMagic = "!<arch>\n"

const arHeaderSize = 60

// Member is one archive member: its name and raw COFF object bytes.
type Member struct {
	Name string
	Data []byte
}

// Archive is a parsed ar(1) archive: its ordinary members in on-disk
// order. The special "//" long-name table and "/" symbol-index members are
// consumed by ParseArchive and are not kept here.
type Archive struct {
	Members []Member
}

// ParseArchive splits an ar(1) byte stream into its member objects. Long
// member names (GNU-style, stored in a "//" pseudo-member and referenced
// by a member header of the form "/<decimal-offset>") are resolved inline,
// matching the same long-name convention §6.1 describes for COFF section
// and symbol names, reused here at the archive-container level.
func ParseArchive(data []byte) (*Archive, error) {
	if len(data) < len(arMagic) || string(data[:len(arMagic)]) != arMagic {
		return nil, fmt.Errorf("coff: not an ar archive (bad magic)")
	}
	var longNames string
	a := &Archive{}
	off := len(arMagic)
	for off+arHeaderSize <= len(data) {
		hdr := data[off : off+arHeaderSize]
		name := strings.TrimRight(string(hdr[0:16]), " ")
		sizeStr := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("coff: malformed ar member size %q: %w", sizeStr, err)
		}
		start := off + arHeaderSize
		end := start + size
		if end > len(data) {
			return nil, fmt.Errorf("coff: ar member %q runs past end of archive", name)
		}
		body := data[start:end]

		switch {
		case name == "//":
			longNames = string(body)
		case name == "/" || name == "/SYM64/":
			// Symbol index member: this linker's own archive scan
			// (hash.go) re-derives the same information by reading each
			// member's COFF symbol table directly, so the precomputed
			// index is accepted but not required.
		case strings.HasPrefix(name, "/"):
			nOff, err := strconv.Atoi(strings.TrimRight(name[1:], " "))
			if err != nil {
				return nil, fmt.Errorf("coff: malformed long-name reference %q: %w", name, err)
			}
			a.Members = append(a.Members, Member{Name: extractLongName(longNames, nOff), Data: body})
		default:
			a.Members = append(a.Members, Member{Name: strings.TrimSuffix(name, "/"), Data: body})
		}

		// Member data is padded to an even offset.
		off = end
		if off%2 != 0 {
			off++
		}
	}
	return a, nil
}

func extractLongName(table string, offset int) string {
	if offset < 0 || offset >= len(table) {
		return ""
	}
	end := strings.IndexAny(table[offset:], "/\n")
	if end < 0 {
		return strings.TrimSpace(table[offset:])
	}
	return table[offset : offset+end]
}
