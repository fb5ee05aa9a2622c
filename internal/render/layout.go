package render

import (
	"strings"

	"golang.org/x/image/font"

	"deliverybot/internal/domain"
)

// Layout constants. Canvas width is fixed; height is computed per
// document by the measurement pass.
const (
	canvasWidth  = 1000
	minRowHeight = 45

	headerHeight    = 290 // title + doc meta block
	colHeaderHeight = minRowHeight
	footerHeight    = 140 // grand total + remarks

	marginX = 40

	colIndexX     = 40
	colCodeX      = 100
	colDescX      = 260
	colDescRight  = 600
	colQtyRight   = 700
	colPriceRight = 820
	colTotalRight = 920

	tableRight = canvasWidth - marginX

	cellPadY = 8
	leading  = 4
)

// lineHeight is the vertical advance for wrapped description lines,
// derived from the face's ascent/descent plus fixed leading.
func lineHeight(face font.Face) int {
	m := face.Metrics()
	return (m.Ascent + m.Descent).Ceil() + leading
}

func textWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// wrapText splits text into lines that each fit maxWidth using greedy
// word-wrap on whitespace. A single word wider than the column gets a
// line of its own rather than being split mid-word.
func wrapText(face font.Face, text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{"-"}
	}

	lines := make([]string, 0, 1)
	current := ""
	for _, w := range words {
		candidate := w
		if current != "" {
			candidate = current + " " + w
		}
		if textWidth(face, candidate) <= maxWidth {
			current = candidate
			continue
		}
		if current != "" {
			lines = append(lines, current)
		}
		current = w
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

// rowLayout is the measured shape of one table row.
type rowLayout struct {
	item      domain.LineItem
	descLines []string
	height    int
}

// docLayout is the output of the measurement pass: everything the draw
// pass needs to allocate the canvas and place rows without re-measuring.
type docLayout struct {
	rows        []rowLayout
	lineHeight  int
	tableHeight int
	totalHeight int
}

// measure is pass 1: wrap every description, derive per-row heights and
// the total canvas height. Nothing is drawn here.
func measure(fonts *FontSet, doc domain.Document) docLayout {
	lh := lineHeight(fonts.Normal)
	descWidth := colDescRight - colDescX

	l := docLayout{rows: make([]rowLayout, 0, len(doc.Lines)), lineHeight: lh}
	for _, item := range doc.Lines {
		lines := wrapText(fonts.Normal, item.ItemName, descWidth)
		h := len(lines) * lh
		if h < minRowHeight {
			h = minRowHeight
		}
		l.rows = append(l.rows, rowLayout{item: item, descLines: lines, height: h})
		l.tableHeight += h
	}
	l.totalHeight = headerHeight + colHeaderHeight + l.tableHeight + footerHeight
	return l
}
