// Package chat defines the message and content-chain model shared by the
// debug session client and the CLI.
//
// A message's content is an ordered chain of typed segments. Segments use a
// flat tagged representation so a chain serializes to the platform's wire
// format directly:
//
//	[{"type": "Plain", "text": "hi "}, {"type": "At", "target": "123"}]
package chat

import "strings"

// SegmentType identifies the variant of a content-chain segment.
type SegmentType string

const (
	// SegmentPlain is plain text. Fields: Text.
	SegmentPlain SegmentType = "Plain"

	// SegmentAt mentions a single member. Fields: Target, Display.
	SegmentAt SegmentType = "At"

	// SegmentAtAll mentions everyone. No fields.
	SegmentAtAll SegmentType = "AtAll"

	// SegmentImage is an image, by URL or inline base64. Fields: URL, Base64.
	SegmentImage SegmentType = "Image"

	// SegmentVoice is a voice clip, by URL or inline base64.
	// Fields: URL, Base64, Length (seconds).
	SegmentVoice SegmentType = "Voice"

	// SegmentQuote quotes an earlier message. Fields: Origin (the quoted
	// message's own chain).
	SegmentQuote SegmentType = "Quote"

	// SegmentFile references an uploaded file. Fields: Name.
	SegmentFile SegmentType = "File"

	// SegmentSource carries platform routing metadata. It is never rendered.
	SegmentSource SegmentType = "Source"
)

// Segment is one element of a content chain. Exactly the fields belonging to
// Type are populated; everything else stays at its zero value and is omitted
// from JSON.
type Segment struct {
	Type SegmentType `json:"type"`

	// Plain
	Text string `json:"text,omitempty"`

	// At
	Target  string `json:"target,omitempty"`
	Display string `json:"display,omitempty"`

	// Image, Voice
	URL    string `json:"url,omitempty"`
	Base64 string `json:"base64,omitempty"`
	Length int    `json:"length,omitempty"`

	// Quote
	Origin Chain `json:"origin,omitempty"`

	// File
	Name string `json:"name,omitempty"`
}

// Chain is an ordered sequence of segments.
type Chain []Segment

// Plain returns a single-segment chain of plain text.
func Plain(text string) Chain {
	return Chain{{Type: SegmentPlain, Text: text}}
}

// At returns a mention segment for the given target.
func At(target, display string) Segment {
	return Segment{Type: SegmentAt, Target: target, Display: display}
}

// Quote returns a quote segment wrapping the origin chain.
func Quote(origin Chain) Segment {
	return Segment{Type: SegmentQuote, Origin: origin}
}

// PlainText flattens the chain into a human-readable string. Mentions render
// as "@display" (or "@target" when no display name is set), quoted chains are
// flattened recursively, and non-textual segments render as short markers.
// Source segments are skipped.
func (c Chain) PlainText() string {
	var b strings.Builder
	for _, seg := range c {
		switch seg.Type {
		case SegmentPlain:
			b.WriteString(seg.Text)
		case SegmentAt:
			b.WriteString("@")
			if seg.Display != "" {
				b.WriteString(seg.Display)
			} else {
				b.WriteString(seg.Target)
			}
		case SegmentAtAll:
			b.WriteString("@all")
		case SegmentImage:
			b.WriteString("[image]")
		case SegmentVoice:
			b.WriteString("[voice]")
		case SegmentQuote:
			b.WriteString("> ")
			b.WriteString(seg.Origin.PlainText())
			b.WriteString("\n")
		case SegmentFile:
			if seg.Name != "" {
				b.WriteString("[file: " + seg.Name + "]")
			} else {
				b.WriteString("[file]")
			}
		case SegmentSource:
			// routing metadata, never rendered
		}
	}
	return b.String()
}
