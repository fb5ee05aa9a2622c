package render

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
)

// FontSet is the fixed table of faces used by the renderer, built once
// at startup. When the TTF assets are missing or unreadable every face
// falls back to the built-in bitmap font; the fallback decision is made
// and logged here, once, not per render.
type FontSet struct {
	Title  font.Face // document title
	Header font.Face // doc number / date
	Normal font.Face // body and table cells
	Bold   font.Face // column headers, grand total
	Small  font.Face // remarks

	Fallback bool
}

const (
	fontRegularFile = "regular.ttf"
	fontBoldFile    = "bold.ttf"
)

// LoadFonts builds the face table from fontsDir. Any load failure
// degrades the whole set to the built-in font so output stays uniform.
func LoadFonts(fontsDir string, log zerolog.Logger) *FontSet {
	regular, errR := loadFace(filepath.Join(fontsDir, fontRegularFile))
	bold, errB := loadFace(filepath.Join(fontsDir, fontBoldFile))
	if errR != nil || errB != nil {
		err := errR
		if err == nil {
			err = errB
		}
		log.Warn().Err(err).Str("dir", fontsDir).
			Msg("font assets unavailable; using built-in fallback font")
		f := basicfont.Face7x13
		return &FontSet{Title: f, Header: f, Normal: f, Bold: f, Small: f, Fallback: true}
	}

	face := func(ft *opentype.Font, size float64) font.Face {
		f, err := opentype.NewFace(ft, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			// NewFace only fails on bad options; treat as fatal fallback.
			return basicfont.Face7x13
		}
		return f
	}
	return &FontSet{
		Title:  face(regular, 42),
		Header: face(bold, 28),
		Normal: face(regular, 24),
		Bold:   face(bold, 26),
		Small:  face(regular, 20),
	}
}

func loadFace(path string) (*opentype.Font, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return opentype.Parse(b)
}
