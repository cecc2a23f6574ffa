package beam

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// BeamLogoIconData is the tray icon, rendered once at startup: two
// rounded "lenses" on a dark headset body. Shipping no binary asset
// keeps the build self-contained.
var BeamLogoIconData = renderLogoIcon()

func renderLogoIcon() []byte {
	const size = 16

	body := color.NRGBA{R: 0x26, G: 0x2b, B: 0x33, A: 0xff}
	lens := color.NRGBA{R: 0x4f, G: 0xc3, B: 0xf7, A: 0xff}

	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 4; y < 12; y++ {
		for x := 1; x < 15; x++ {
			img.SetNRGBA(x, y, body)
		}
	}
	for y := 6; y < 10; y++ {
		for x := 3; x < 7; x++ {
			img.SetNRGBA(x, y, lens)
		}
		for x := 9; x < 13; x++ {
			img.SetNRGBA(x, y, lens)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		// a fixed-size in-memory encode cannot fail
		panic(err)
	}
	return buf.Bytes()
}
