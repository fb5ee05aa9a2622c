// Package render produces the delivery-note image attached to each
// notification: a fixed-width, variable-height PNG laid out in two
// passes (measure, then draw).
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"deliverybot/internal/config"
	"deliverybot/internal/domain"
)

// RenderedImage is a derived artifact, keyed by document number and
// overwritten on re-render. Never persisted in the data store.
type RenderedImage struct {
	Path   string
	Width  int
	Height int
}

type Renderer struct {
	fonts     *FontSet
	imagesDir string
	log       zerolog.Logger
}

func New(cfg config.RenderConfig, log zerolog.Logger) (*Renderer, error) {
	imagesDir := cfg.ImagesDir
	if imagesDir == "" {
		imagesDir = "./data/images"
	}
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	return &Renderer{
		fonts:     LoadFonts(cfg.FontsDir, log),
		imagesDir: imagesDir,
		log:       log,
	}, nil
}

var (
	colBlack = color.RGBA{A: 255}
	colGrid  = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 255}
	colWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Render lays out and draws one document, writing
// delivery_<docnum>.png under the images dir (replacing any prior file).
func (r *Renderer) Render(doc domain.Document) (RenderedImage, error) {
	l := measure(r.fonts, doc)

	img := image.NewRGBA(image.Rect(0, 0, canvasWidth, l.totalHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{colWhite}, image.Point{}, draw.Src)

	r.drawHeader(img, doc)
	tableTop := headerHeight
	tableBottom := r.drawTable(img, l, tableTop)
	r.drawFooter(img, doc, tableBottom)

	path := filepath.Join(r.imagesDir, fmt.Sprintf("delivery_%s.png", doc.DocNum))
	f, err := os.Create(path)
	if err != nil {
		return RenderedImage{}, fmt.Errorf("create image file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return RenderedImage{}, fmt.Errorf("encode image: %w", err)
	}
	if err := f.Close(); err != nil {
		return RenderedImage{}, err
	}
	return RenderedImage{Path: path, Width: canvasWidth, Height: l.totalHeight}, nil
}

func (r *Renderer) drawHeader(img *image.RGBA, doc domain.Document) {
	y := 30
	drawText(img, r.fonts.Title, marginX, y, "DELIVERY NOTE", colBlack)
	y += 70

	drawText(img, r.fonts.Header, marginX, y, "No: "+orDash(doc.DocNum), colBlack)
	date := doc.DocDate
	if len(date) > 10 {
		date = date[:10]
	}
	drawText(img, r.fonts.Header, 620, y, "Date: "+orDash(date), colBlack)
	y += 50

	drawText(img, r.fonts.Normal, marginX, y, "Customer: "+orDash(doc.CardName), colBlack)
	y += 40
	drawText(img, r.fonts.Normal, marginX, y, "CardCode: "+orDash(doc.CardCode), colBlack)
	y += 40
	drawText(img, r.fonts.Normal, marginX, y, "Sales Manager: "+orDash(doc.SalesManager), colBlack)
}

// drawTable draws the column header band, grid and one row per line
// item, returning the y coordinate of the table's bottom edge.
func (r *Renderer) drawTable(img *image.RGBA, l docLayout, top int) int {
	headers := []struct {
		x    int
		text string
	}{
		{colIndexX, "#"},
		{colCodeX, "Item Code"},
		{colDescX, "Description"},
		{colDescRight, "Qty"},
		{colQtyRight, "Price"},
		{colPriceRight, "Line Total"},
	}
	for _, h := range headers {
		drawText(img, r.fonts.Bold, h.x, top+cellPadY, h.text, colBlack)
	}

	y := top + colHeaderHeight
	hline(img, marginX, tableRight, y, 2, colBlack)

	for i, row := range l.rows {
		rowTop := y
		drawText(img, r.fonts.Normal, colIndexX, rowTop+cellPadY, fmt.Sprintf("%d", i+1), colBlack)
		drawText(img, r.fonts.Normal, colCodeX, rowTop+cellPadY, orDash(row.item.ItemCode), colBlack)
		for j, line := range row.descLines {
			drawText(img, r.fonts.Normal, colDescX, rowTop+cellPadY+j*l.lineHeight, line, colBlack)
		}
		drawTextRight(img, r.fonts.Normal, colQtyRight, rowTop+cellPadY, trimZeros(row.item.Quantity), colBlack)
		drawTextRight(img, r.fonts.Normal, colPriceRight, rowTop+cellPadY, Amount(row.item.Price), colBlack)
		drawTextRight(img, r.fonts.Normal, colTotalRight, rowTop+cellPadY, Amount(row.item.LineTotal), colBlack)

		y += row.height
		hline(img, marginX, tableRight, y, 1, colGrid)
	}

	// Vertical grid spanning the table's full extent (header band included).
	for _, x := range []int{marginX, colCodeX, colDescX, colDescRight, colQtyRight, colPriceRight, colTotalRight, tableRight} {
		vline(img, x, top, y, colGrid)
	}
	return y
}

func (r *Renderer) drawFooter(img *image.RGBA, doc domain.Document, tableBottom int) {
	y := tableBottom + 40
	total := fmt.Sprintf("Total amount: %s %s", Amount(doc.TotalAmount), doc.Currency)
	drawTextRight(img, r.fonts.Bold, tableRight, y, total, colBlack)

	y += 50
	drawText(img, r.fonts.Small, marginX, y, "Remarks: "+orDash(doc.Remarks), colBlack)
}

// drawText draws s with its top edge at y (baseline = y + ascent).
func drawText(img *image.RGBA, face font.Face, x, y int, s string, c color.Color) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}

func drawTextRight(img *image.RGBA, face font.Face, right, y int, s string, c color.Color) {
	drawText(img, face, right-textWidth(face, s), y, s, c)
}

func hline(img *image.RGBA, x0, x1, y, thickness int, c color.Color) {
	draw.Draw(img, image.Rect(x0, y, x1, y+thickness), &image.Uniform{c}, image.Point{}, draw.Src)
}

func vline(img *image.RGBA, x, y0, y1 int, c color.Color) {
	draw.Draw(img, image.Rect(x, y0, x+1, y1), &image.Uniform{c}, image.Point{}, draw.Src)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// trimZeros renders a quantity without trailing decimal noise
// (10 -> "10", 2.5 -> "2.5").
func trimZeros(v float64) string {
	return fmt.Sprintf("%g", v)
}
