// internal/imageops/imageops.go
package imageops

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// FlipHorizontal decodes buf (png, jpeg or webp), mirrors it left to
// right and re-encodes as PNG.
func FlipHorizontal(buf []byte) ([]byte, error) {
	const op = "imageops.FlipHorizontal"

	src, err := imaging.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	flipped := imaging.FlipH(src)

	var out bytes.Buffer
	if err := imaging.Encode(&out, flipped, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return out.Bytes(), nil
}

// Dimensions reads the pixel size from the image header without
// decoding the full frame. Best effort: callers treat ok == false as
// unknown dimensions, never as a rejection.
func Dimensions(buf []byte) (width, height int, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
