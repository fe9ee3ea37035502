package engine

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"net/url"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	imprintPadding    = 20
	imprintBorderSize = 1
	imprintFontSize   = 14
)

// Origin returns scheme://host of rawURL with default ports dropped.
func Origin(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("failed to parse URL: %q has no scheme or host", rawURL)
	}

	host := parsedURL.Host
	if hostWithoutPort, port, ok := strings.Cut(host, ":"); ok {
		if (parsedURL.Scheme == "http" && port == "80") || (parsedURL.Scheme == "https" && port == "443") {
			host = hostWithoutPort
		}
	}

	return parsedURL.Scheme + "://" + host, nil
}

// AddTextToImage adds a banner with the origin of rawURL below the image.
func (img Image) AddTextToImage(rawURL string) (Image, error) {
	printURL, err := Origin(rawURL)
	if err != nil {
		return nil, err
	}

	decoded, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	face, err := loadFont()
	if err != nil {
		return nil, err
	}

	w := decoded.Bounds().Dx()
	h := decoded.Bounds().Dy() + imprintPadding*2 + imprintBorderSize
	dc := gg.NewContext(w, h)

	dc.DrawImage(decoded, 0, 0)

	yLine := float64(decoded.Bounds().Dy())
	dc.SetColor(color.Black)
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.SetLineWidth(float64(imprintBorderSize))
	dc.Stroke()
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine, float64(w), float64(imprintPadding*2))
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetFontFace(face)
	dc.DrawStringAnchored(printURL, float64(w)/2, yLine+float64(imprintPadding), 0.5, 0.3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

func loadFont() (font.Face, error) {
	ttFont, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	return truetype.NewFace(ttFont, &truetype.Options{
		Size: imprintFontSize,
	}), nil
}
