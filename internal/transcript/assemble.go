// Package transcript assembles recognizer output into interim snapshots and final utterances.
package transcript

import "strings"

// Normalize collapses runs of whitespace and trims the ends.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// Assemble joins finalized recognizer segments into one utterance.
// Segments are consecutive and never overlap, so each is kept as-is.
func Assemble(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		parts = appendSegment(parts, segment)
	}
	return strings.Join(parts, " ")
}

func appendSegment(segments []string, segment string) []string {
	segment = Normalize(segment)
	if segment == "" {
		return segments
	}
	return append(segments, segment)
}

// Builder tracks committed segments plus the live interim tail of one utterance.
type Builder struct {
	segments []string
	interim  string
}

// Commit appends a finalized segment and clears the interim tail.
func (b *Builder) Commit(segment string) {
	b.segments = appendSegment(b.segments, segment)
	b.interim = ""
}

// SetInterim replaces the provisional tail.
func (b *Builder) SetInterim(text string) {
	b.interim = Normalize(text)
}

// Text returns the committed segments followed by the interim tail.
func (b *Builder) Text() string {
	committed := Assemble(b.segments)
	switch {
	case b.interim == "":
		return committed
	case committed == "":
		return b.interim
	default:
		return committed + " " + b.interim
	}
}

// Utterance returns the finalized text, folding in any pending interim tail, and resets the builder.
func (b *Builder) Utterance() string {
	text := b.Text()
	b.Reset()
	return text
}

// Empty reports whether nothing has been heard yet.
func (b *Builder) Empty() bool {
	return len(b.segments) == 0 && b.interim == ""
}

// Reset discards all state.
func (b *Builder) Reset() {
	b.segments = nil
	b.interim = ""
}
