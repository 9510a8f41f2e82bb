package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// Symbol is the glyph drawn inside the shield.
type Symbol int

const (
	SymbolLock Symbol = iota
	SymbolCheckmark
	SymbolDots
	SymbolCross
)

// IconConfig defines the configuration for icon generation.
type IconConfig struct {
	Size        int
	FillColor   color.RGBA
	BorderColor color.RGBA
	AccentColor color.RGBA
	SymbolColor color.RGBA
	Symbol      Symbol
}

var white = color.RGBA{255, 255, 255, 255}

// IconConfigFor returns the icon configuration for a status.
func IconConfigFor(kind StatusKind) IconConfig {
	switch kind {
	case StatusSecure:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{56, 142, 60, 255},
			BorderColor: color.RGBA{76, 175, 80, 255},
			AccentColor: color.RGBA{200, 230, 201, 255},
			SymbolColor: white,
			Symbol:      SymbolCheckmark,
		}
	case StatusPending:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{239, 108, 0, 255},
			BorderColor: color.RGBA{255, 152, 0, 255},
			AccentColor: color.RGBA{255, 224, 178, 255},
			SymbolColor: white,
			Symbol:      SymbolDots,
		}
	case StatusBlocked:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{198, 40, 40, 255},
			BorderColor: color.RGBA{229, 57, 53, 255},
			AccentColor: color.RGBA{255, 205, 210, 255},
			SymbolColor: white,
			Symbol:      SymbolLock,
		}
	case StatusUnsecured:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{198, 40, 40, 255},
			BorderColor: color.RGBA{229, 57, 53, 255},
			AccentColor: color.RGBA{255, 205, 210, 255},
			SymbolColor: white,
			Symbol:      SymbolCross,
		}
	}
	return IconConfig{
		Size:        22,
		FillColor:   color.RGBA{117, 117, 117, 255}, // Dark gray
		BorderColor: color.RGBA{158, 158, 158, 255}, // Gray
		AccentColor: color.RGBA{189, 189, 189, 255}, // Light gray
		SymbolColor: white,
		Symbol:      SymbolDots,
	}
}

// IconGenerator generates PNG icons for the system tray.
type IconGenerator struct {
	config IconConfig
}

// NewIconGenerator creates a new icon generator with the given config.
func NewIconGenerator(config IconConfig) *IconGenerator {
	return &IconGenerator{config: config}
}

// Generate creates a PNG icon and returns the bytes.
func (g *IconGenerator) Generate() ([]byte, error) {
	size := g.config.Size
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	g.drawShield(img)

	switch g.config.Symbol {
	case SymbolCheckmark:
		g.drawCheckmark(img)
	case SymbolDots:
		g.drawDots(img)
	case SymbolCross:
		g.drawCross(img)
	default:
		g.drawLock(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawShield draws the shield shape on the image.
func (g *IconGenerator) drawShield(img *image.RGBA) {
	size := g.config.Size
	centerX := float64(size) / 2
	topY := 1.0
	bottomY := float64(size) - 2
	shieldWidth := float64(size) - 4

	isInShield := func(x, y float64) bool {
		relY := (y - topY) / (bottomY - topY)
		if relY < 0 || relY > 1 {
			return false
		}

		var halfWidth float64
		if relY < 0.5 {
			halfWidth = shieldWidth/2 - relY*0.5
		} else {
			progress := (relY - 0.5) * 2
			halfWidth = (shieldWidth/2 - 0.25) * (1 - progress*progress)
		}

		return x >= centerX-halfWidth && x <= centerX+halfWidth
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5

			if isInShield(fx, fy) {
				isBorder := !isInShield(fx-1, fy) || !isInShield(fx+1, fy) ||
					!isInShield(fx, fy-1) || !isInShield(fx, fy+1)

				if isBorder {
					img.Set(x, y, g.config.BorderColor)
				} else {
					relY := float64(y) / float64(size)
					if relY < 0.3 {
						img.Set(x, y, g.config.AccentColor)
					} else {
						img.Set(x, y, g.config.FillColor)
					}
				}
			}
		}
	}
}

// drawCheckmark draws a checkmark symbol on the image.
func (g *IconGenerator) drawCheckmark(img *image.RGBA) {
	// Checkmark points
	points := []struct{ x, y int }{
		{6, 11}, {7, 11}, {7, 12}, {8, 12}, {8, 13}, {9, 13},
		{9, 12}, {10, 12}, {10, 11}, {11, 11}, {11, 10}, {12, 10},
		{12, 9}, {13, 9}, {13, 8}, {14, 8},
	}
	for _, p := range points {
		if p.x >= 0 && p.x < g.config.Size && p.y >= 0 && p.y < g.config.Size {
			img.Set(p.x, p.y, g.config.SymbolColor)
		}
	}
}

// drawLock draws a lock symbol on the image.
func (g *IconGenerator) drawLock(img *image.RGBA) {
	c := g.config.SymbolColor

	// Lock body
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				img.Set(x, y, c)
			}
		}
	}

	// Lock shackle
	for y := 6; y <= 10; y++ {
		if y <= 8 {
			img.Set(9, y, c)
			img.Set(13, y, c)
		}
		if y == 6 {
			for x := 9; x <= 13; x++ {
				img.Set(x, y, c)
			}
		}
	}
}

// drawDots draws three dots, for states in progress.
func (g *IconGenerator) drawDots(img *image.RGBA) {
	for _, cx := range []int{7, 11, 15} {
		for y := 10; y <= 11; y++ {
			for x := cx - 1; x <= cx; x++ {
				img.Set(x, y, g.config.SymbolColor)
			}
		}
	}
}

// drawCross draws an X, for unprotected states.
func (g *IconGenerator) drawCross(img *image.RGBA) {
	for i := 0; i <= 6; i++ {
		img.Set(8+i, 7+i, g.config.SymbolColor)
		img.Set(14-i, 7+i, g.config.SymbolColor)
	}
}

var (
	iconMu    sync.Mutex
	iconCache = map[StatusKind][]byte{}
)

// IconFor returns the tray icon for a status. Icons are generated once.
func IconFor(kind StatusKind) []byte {
	iconMu.Lock()
	defer iconMu.Unlock()
	if icon, ok := iconCache[kind]; ok {
		return icon
	}
	icon, err := NewIconGenerator(IconConfigFor(kind)).Generate()
	if err != nil {
		return nil
	}
	iconCache[kind] = icon
	return icon
}
