package richblock

import (
	"encoding/json"
	"strings"
)

// Marker delimits a fenced rich block. A block opens with a line of the
// marker immediately followed by a known block type, and closes with a line
// that is the bare marker.
const Marker = ":::"

const (
	TypeRecipeCard     = "recipe_card"
	TypeActionButton   = "action_button"
	TypeIngredientList = "ingredient_list"
	TypePantrySummary  = "pantry_summary"
)

var blockTypes = map[string]bool{
	TypeRecipeCard:     true,
	TypeActionButton:   true,
	TypeIngredientList: true,
	TypePantrySummary:  true,
}

// Block is a structured payload embedded in assistant text. It is always
// derived from the text itself and carries no state of its own.
type Block struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Segment is one display unit of a message: either a run of plain text or a
// parsed rich block, never both.
type Segment struct {
	Plain string
	Block *Block
}

func (s Segment) IsBlock() bool {
	return s.Block != nil
}

// region is one matched fenced area in the text. block is nil when the body
// failed to parse; the region is still consumed so the raw fence never leaks
// into plain output.
type region struct {
	start int
	end   int
	block *Block
}

// scan walks the text line by line and collects fenced regions, left to
// right, non-overlapping, each greedy to the first closing marker line. An
// opening marker with no closer is left alone so partial mid-stream text
// renders as plain.
func scan(text string) []region {
	var regions []region
	pos := 0
	for pos < len(text) {
		lineEnd, next := lineBounds(text, pos)
		if typ, ok := openingType(text[pos:lineEnd]); ok && next <= len(text) {
			if bodyEnd, end, found := findClose(text, next); found {
				regions = append(regions, region{
					start: pos,
					end:   end,
					block: parseBody(typ, text[next:bodyEnd]),
				})
				pos = end
				continue
			}
		}
		pos = next
	}
	return regions
}

// lineBounds returns the end of the line starting at pos and the start of
// the following line (len(text)+1 when there is no trailing newline).
func lineBounds(text string, pos int) (lineEnd, next int) {
	if nl := strings.IndexByte(text[pos:], '\n'); nl >= 0 {
		return pos + nl, pos + nl + 1
	}
	return len(text), len(text) + 1
}

func openingType(line string) (string, bool) {
	if !strings.HasPrefix(line, Marker) {
		return "", false
	}
	typ := strings.TrimRight(line[len(Marker):], " \t\r")
	if !blockTypes[typ] {
		return "", false
	}
	return typ, true
}

func isClosing(line string) bool {
	return strings.Trim(line, " \t\r") == Marker
}

// findClose locates the first closing marker line at or after from. bodyEnd
// excludes the newline that precedes the closing line; end is the offset
// just past the closing line and its newline.
func findClose(text string, from int) (bodyEnd, end int, found bool) {
	pos := from
	for pos <= len(text) {
		lineEnd, next := lineBounds(text, pos)
		if isClosing(text[pos:lineEnd]) {
			bodyEnd = pos
			if bodyEnd > from {
				bodyEnd--
			}
			end = lineEnd
			if next <= len(text) {
				end = next
			}
			return bodyEnd, end, true
		}
		if next > len(text) {
			break
		}
		pos = next
	}
	return 0, 0, false
}

// parseBody returns the parsed block, or nil when the body is not a valid
// JSON object. A bad body is tolerated degradation, never an error.
func parseBody(typ, body string) *Block {
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &data); err != nil {
		return nil
	}
	return &Block{Type: typ, Data: data}
}

// ExtractBlocks returns every successfully parsed fenced block in order of
// appearance. Blocks with unparseable bodies contribute nothing.
func ExtractBlocks(text string) []Block {
	var blocks []Block
	for _, r := range scan(text) {
		if r.block != nil {
			blocks = append(blocks, *r.block)
		}
	}
	return blocks
}

// SplitForDisplay converts text into an ordered sequence of renderable
// segments. Plain runs between blocks are trimmed and dropped when empty.
// Text containing no fenced regions comes back as a single plain segment,
// even when empty, and the result is never an empty slice. Safe on partial
// text: an unterminated block stays plain.
func SplitForDisplay(text string) []Segment {
	regions := scan(text)
	if len(regions) == 0 {
		return []Segment{{Plain: text}}
	}

	var segments []Segment
	pos := 0
	for _, r := range regions {
		if plain := strings.TrimSpace(text[pos:r.start]); plain != "" {
			segments = append(segments, Segment{Plain: plain})
		}
		if r.block != nil {
			segments = append(segments, Segment{Block: r.block})
		}
		pos = r.end
	}
	if plain := strings.TrimSpace(text[pos:]); plain != "" {
		segments = append(segments, Segment{Plain: plain})
	}
	if len(segments) == 0 {
		// Every region was dropped (unparseable bodies) and nothing
		// plain remains; callers still get one renderable segment.
		return []Segment{{Plain: ""}}
	}
	return segments
}

// StripBlocks removes every fenced region and returns the remaining plain
// text with runs of three or more newlines collapsed to two and the result
// trimmed.
func StripBlocks(text string) string {
	var b strings.Builder
	pos := 0
	for _, r := range scan(text) {
		b.WriteString(text[pos:r.start])
		pos = r.end
	}
	b.WriteString(text[pos:])
	return strings.TrimSpace(collapseNewlines(b.String()))
}

func collapseNewlines(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	run := 0
	for _, r := range s {
		if r == '\n' {
			run++
			continue
		}
		flushNewlines(&b, run)
		run = 0
		b.WriteRune(r)
	}
	flushNewlines(&b, run)
	return b.String()
}

func flushNewlines(b *strings.Builder, run int) {
	if run > 2 {
		run = 2
	}
	for i := 0; i < run; i++ {
		b.WriteByte('\n')
	}
}
