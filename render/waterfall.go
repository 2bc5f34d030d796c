// Package render draws a waterfall of the recent sweep history: frequency
// across, time down, SNR as a heat gradient.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	// Colors defining the gradient in the heatmap. The higher the index, the warmer.
	colors = map[int]color.RGBA{
		0: {0, 0, 0, 255},       // black
		1: {0, 0, 255, 255},     // blue
		2: {0, 255, 255, 255},   // cyan
		3: {0, 255, 0, 255},     // green
		4: {255, 255, 0, 255},   // yellow
		5: {255, 0, 0, 255},     // red
		6: {255, 255, 255, 255}, // white
	}

	gridColor           = color.RGBA{0, 0, 0, 255}
	gridBackgroundColor = color.RGBA{255, 255, 255, 255}

	expSuffixLookup = map[int]string{
		0: "Hz",
		1: "kHz",
		2: "MHz",
		3: "GHz",
	}
)

const (
	timeFmt        = "15:04:05"
	gridMarginTop  = 20 // pixels
	gridMarginLeft = 70 // pixels
	gridTickLen    = 6  // pixels
)

type Options struct {
	Height  int
	AddGrid bool
}

// Waterfall renders the readings as rows of sweep passes. One column per
// distinct frequency in the history, Height rows of time buckets.
func Waterfall(readings []Reading, opts Options) (*image.RGBA, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("no sweep history to render")
	}
	if opts.Height <= 0 {
		opts.Height = 240
	}

	// Columns: the distinct channel frequencies, ascending.
	seen := map[int64]bool{}
	var freqs []int64
	for _, r := range readings {
		if !seen[r.FreqHz] {
			seen[r.FreqHz] = true
			freqs = append(freqs, r.FreqHz)
		}
	}
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] < freqs[j] })
	col := map[int64]int{}
	for i, f := range freqs {
		col[f] = i
	}

	start, end := readings[0].At, readings[len(readings)-1].At
	span := end.Sub(start)
	if span <= 0 {
		span = time.Millisecond
	}

	minSNR, maxSNR := math.Inf(1), math.Inf(-1)
	for _, r := range readings {
		minSNR = math.Min(minSNR, r.SNRDB)
		maxSNR = math.Max(maxSNR, r.SNRDB)
	}
	snrRange := maxSNR - minSNR
	if snrRange == 0 {
		snrRange = 1
	}

	// Scale each column wide enough to be visible.
	colWidth := 512 / len(freqs)
	if colWidth < 1 {
		colWidth = 1
	}
	canvas := image.NewRGBA(image.Rect(0, 0, len(freqs)*colWidth, opts.Height))
	for _, r := range readings {
		row := int(float64(opts.Height-1) * float64(r.At.Sub(start)) / float64(span))
		lvl := uint16((r.SNRDB - minSNR) * math.MaxUint16 / snrRange)
		c := gradientColor(lvl)
		for dx := 0; dx < colWidth; dx++ {
			canvas.SetRGBA(col[r.FreqHz]*colWidth+dx, row, c)
		}
	}

	if opts.AddGrid {
		canvas = drawGrid(canvas, freqs, colWidth, start, end)
	}
	return canvas, nil
}

// gradientColor maps a 16 bit "level" onto the heat gradient.
// http://www.andrewnoske.com/wiki/Code_-_heatmaps_and_color_gradients
func gradientColor(lvl uint16) color.RGBA {
	for i := 0; i < len(colors); i++ {
		currC := colors[i]
		currV := uint16(i * math.MaxUint16 / len(colors))
		if lvl < currV {
			prevC := colors[int(math.Max(0.0, float64(i-1)))]
			diff := uint16(math.Max(0.0, float64(i-1)))*math.MaxUint16/uint16(len(colors)) - currV
			fract := 0.0
			if diff != 0 {
				fract = float64(lvl) - float64(currV)/float64(diff)
			}
			return color.RGBA{
				uint8(float64(prevC.R-currC.R)*fract + float64(currC.R)),
				uint8(float64(prevC.G-currC.G)*fract + float64(currC.G)),
				uint8(float64(prevC.B-currC.B)*fract + float64(currC.B)),
				uint8(float64(prevC.A-currC.A)*fract + float64(currC.A)),
			}
		}
	}
	return colors[len(colors)-1]
}

// ReadableFreq formats a frequency with a unit suffix.
func ReadableFreq(freq int64) string {
	exp := 0
	for f := float64(freq); f > 1000; f = f / 1000.0 {
		exp += 1
	}
	suffix, ok := expSuffixLookup[exp]
	if !ok {
		return fmt.Sprintf("%d Hz", freq)
	}
	return fmt.Sprintf("%.2f %s", float64(freq)/math.Pow(1000, float64(exp)), suffix)
}

func label(canvas *image.RGBA, at image.Point, text string) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(gridColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(text)
}

func drawGrid(source *image.RGBA, freqs []int64, colWidth int, start, end time.Time) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0,
		source.Bounds().Dx()+gridMarginLeft, source.Bounds().Dy()+gridMarginTop))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, image.Point{}, draw.Src)
	r := canvas.Bounds()
	r.Min.X += gridMarginLeft
	r.Min.Y += gridMarginTop
	draw.Draw(canvas, r, source, source.Bounds().Min, draw.Src)

	// One tick and label per channel column.
	for i, f := range freqs {
		x := gridMarginLeft + i*colWidth
		for dy := 0; dy < gridTickLen; dy++ {
			canvas.SetRGBA(x, gridMarginTop-gridTickLen+dy, gridColor)
		}
		if i%2 == 0 { // every other label, they are wide
			label(canvas, image.Point{x + 2, gridMarginTop - 8}, ReadableFreq(f))
		}
	}

	// Time labels top and bottom on the Y margin.
	label(canvas, image.Point{2, gridMarginTop + 12}, start.Format(timeFmt))
	label(canvas, image.Point{2, canvas.Bounds().Max.Y - 4}, end.Format(timeFmt))
	return canvas
}
