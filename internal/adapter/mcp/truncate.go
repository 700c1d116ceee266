package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxResultChars is the ceiling on any tool result passed to the model.
const MaxResultChars = 50000

const truncationNote = "[truncated]"

// Truncate caps an oversized tool result. JSON array payloads are cut
// item-by-item so the remainder stays parseable, with a final marker element
// reporting how many of how many items survived; anything else is hard-cut
// with a trailing marker.
func Truncate(s string) string {
	if len(s) <= MaxResultChars {
		return s
	}
	if out, ok := truncateJSONArray(s); ok {
		return out
	}
	cut := MaxResultChars - len(truncationNote) - 1
	// Back off to a rune boundary so the cut never splits a multi-byte
	// character.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n" + truncationNote
}

// truncateJSONArray rebuilds an array payload keeping whole leading items.
// The marker is itself a JSON string element, so the output is valid JSON.
func truncateJSONArray(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "[") {
		return "", false
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return "", false
	}

	total := len(items)
	// Worst-case marker length, reserved up front so appending it can never
	// push the output over the ceiling.
	markerReserve := len(markerElement(total, total)) + 2

	var b strings.Builder
	b.WriteByte('[')
	kept := 0
	for _, item := range items {
		// +1 for the separating comma.
		if b.Len()+len(item)+1+markerReserve > MaxResultChars {
			break
		}
		if kept > 0 {
			b.WriteByte(',')
		}
		b.Write(item)
		kept++
	}
	if kept > 0 {
		b.WriteByte(',')
	}
	b.WriteString(markerElement(kept, total))
	b.WriteByte(']')
	return b.String(), true
}

func markerElement(kept, total int) string {
	return fmt.Sprintf("%q", fmt.Sprintf("truncated: showing %d of %d items", kept, total))
}
