package project

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// GearItems is the fixed pre-shoot equipment checklist.
var GearItems = []string{
	"Camera body",
	"SD card (formatted)",
	"Battery (fully charged)",
	"Backup battery",
	"Lavalier / shotgun mic",
	"Tripod / gimbal",
	"Lighting (key light)",
	"Backdrop / tidy background",
	"Teleprompter / script notes",
}

// LineHash is a stable 32-bit key for a script line, rendered as an unsigned
// decimal. It hashes UTF-16 code units with h = h*31 + c so keys stay
// compatible with checklists saved by the web client.
func LineHash(line string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(line)) {
		h = (h << 5) - h + int32(c)
	}
	return strconv.FormatUint(uint64(uint32(h)), 10)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// ParseBrollLines returns the descriptions of "[B: ...]" lines.
//
// A line qualifies when it starts with the marker after trimming, but the marker
// and closing bracket are stripped from the raw line. An indented line therefore
// keeps its marker in the text; the resulting strings feed LineHash and must
// match the keys the web client already saved.
func ParseBrollLines(script string) []string {
	var out []string
	for _, line := range strings.Split(script, "\n") {
		if !hasPrefixFold(strings.TrimSpace(line), "[B:") {
			continue
		}
		if hasPrefixFold(line, "[B:") {
			line = line[len("[B:"):]
		}
		line = strings.TrimSuffix(line, "]")
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ParseArollLines returns the talking points of "[A] ..." lines, with the same
// raw-line stripping as ParseBrollLines.
func ParseArollLines(script string) []string {
	var out []string
	for _, line := range strings.Split(script, "\n") {
		if !hasPrefixFold(strings.TrimSpace(line), "[A]") {
			continue
		}
		if hasPrefixFold(line, "[A]") {
			line = line[len("[A]"):]
		}
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Shot is one B-roll checklist entry.
type Shot struct {
	Hash    string `json:"hash"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// ShotList pairs each B-roll line with its checked state.
func ShotList(script string, checks map[string]bool) []Shot {
	lines := ParseBrollLines(script)
	shots := make([]Shot, 0, len(lines))
	for _, l := range lines {
		h := LineHash(l)
		shots = append(shots, Shot{Hash: h, Text: l, Checked: checks[h]})
	}
	return shots
}

// ToggleCheck returns a copy of checks with hash flipped.
func ToggleCheck(checks map[string]bool, hash string) map[string]bool {
	next := make(map[string]bool, len(checks)+1)
	for k, v := range checks {
		next[k] = v
	}
	next[hash] = !checks[hash]
	return next
}

// Production is the filming view of a project.
type Production struct {
	Shots     []Shot   `json:"shots"`
	ARoll     []string `json:"aroll"`
	Gear      []string `json:"gear"`
	Remaining int      `json:"remaining"`
}

// BuildProduction assembles the production checklists for script.
func BuildProduction(script string, checks map[string]bool) Production {
	shots := ShotList(script, checks)
	remaining := 0
	for _, s := range shots {
		if !s.Checked {
			remaining++
		}
	}
	aroll := ParseArollLines(script)
	if aroll == nil {
		aroll = []string{}
	}
	return Production{Shots: shots, ARoll: aroll, Gear: GearItems, Remaining: remaining}
}
