package model

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

const jpegQuality = 90

// DecodeImageInput decodes a vision payload: raw base64 or a data: URI.
func DecodeImageInput(input string) ([]byte, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fault.Invalid("image must not be empty")
	}
	if strings.HasPrefix(input, "data:") {
		idx := strings.Index(input, "base64,")
		if idx < 0 {
			return nil, fault.Invalid("data URI must be base64 encoded")
		}
		input = input[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return nil, fault.Invalid("invalid base64 image: %v", err)
	}
	return data, nil
}

// PrepareImage returns the base64 payload sent to the vision model. Images
// within the pixel budget pass through untouched; larger ones are
// orientation-normalized from EXIF and Lanczos-downscaled to fit.
func PrepareImage(data []byte, maxPixels int) (string, error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fault.Invalid("unsupported image format: %v", err)
	}

	pixels := config.Width * config.Height
	if maxPixels <= 0 || pixels <= maxPixels {
		return base64.StdEncoding.EncodeToString(data), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fault.Invalid("cannot decode image: %v", err)
	}
	img = applyOrientation(img, exifOrientation(data))

	bounds := img.Bounds()
	scale := math.Sqrt(float64(maxPixels) / float64(bounds.Dx()*bounds.Dy()))
	width := uint(math.Max(1, float64(bounds.Dx())*scale))
	scaled := resize.Resize(width, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, scaled)
	default:
		err = jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return "", fault.Unexpected(err, "cannot encode downscaled image")
	}

	common.Logger.WithFields(logrus.Fields{
		"format": format,
		"from":   pixels,
		"to":     scaled.Bounds().Dx() * scaled.Bounds().Dy(),
	}).Debug("Vision image downscaled")

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// exifOrientation reads the EXIF orientation tag, defaulting to 1 when the
// image carries none.
func exifOrientation(data []byte) int {
	meta, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := meta.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	value, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return value
}

// applyOrientation bakes the EXIF orientation into the pixels. Values 5-8
// swap width and height.
func applyOrientation(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	outW, outH := w, h
	if orientation >= 5 {
		outW, outH = h, w
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2: // mirrored
				dx, dy = w-1-x, y
			case 3: // rotated 180
				dx, dy = w-1-x, h-1-y
			case 4: // flipped vertically
				dx, dy = x, h-1-y
			case 5: // transposed
				dx, dy = y, x
			case 6: // rotated 90 CW
				dx, dy = h-1-y, x
			case 7: // transversed
				dx, dy = h-1-y, w-1-x
			case 8: // rotated 90 CCW
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return dst
}
