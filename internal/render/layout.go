package render

// Band is one horizontal strip of the output canvas.
type Band struct {
	X int
	Y int
	W int
	H int
}

// Bottom returns the first row below the band.
func (b Band) Bottom() int {
	return b.Y + b.H
}

// Layout divides the canvas into three non-overlapping bands: a title
// strip at the top, the media area in the middle, and a caption strip
// at the bottom. All values are derived from the canvas size and the
// configured font metrics, so the same config always yields the same
// geometry.
type Layout struct {
	Canvas  Band
	Title   Band
	Media   Band
	Caption Band
}

// Text bands reserve enough room for two lines plus padding.
const bandLinePadding = 2

// ComputeLayout derives the band geometry for a canvas.
func ComputeLayout(width, height, titleFontSize, captionFontSize int) Layout {
	titleH := titleFontSize * bandLinePadding * 2
	captionH := captionFontSize * bandLinePadding * 2

	// Never let text bands squeeze the media area below half the canvas.
	maxText := height / 4
	if titleH > maxText {
		titleH = maxText
	}
	if captionH > maxText {
		captionH = maxText
	}

	media := Band{X: 0, Y: titleH, W: width, H: height - titleH - captionH}
	return Layout{
		Canvas:  Band{W: width, H: height},
		Title:   Band{X: 0, Y: 0, W: width, H: titleH},
		Media:   media,
		Caption: Band{X: 0, Y: media.Bottom(), W: width, H: captionH},
	}
}

// SubtitleBand maps a subtitle position to the band it is drawn in.
// Unknown or empty positions fall back to the caption strip.
func (l Layout) SubtitleBand(position string) Band {
	switch position {
	case "top":
		return l.Title
	case "center":
		return l.Media
	default:
		return l.Caption
	}
}

// Valid reports whether the bands tile the canvas without overlap.
func (l Layout) Valid() bool {
	if l.Title.Y != 0 || l.Media.Y != l.Title.Bottom() || l.Caption.Y != l.Media.Bottom() {
		return false
	}
	if l.Caption.Bottom() != l.Canvas.H {
		return false
	}
	return l.Title.H >= 0 && l.Media.H > 0 && l.Caption.H >= 0
}
