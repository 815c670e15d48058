package image

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Preprocessor transforms an image before OCR.
type Preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// PreprocessConfig tunes the default preprocessing chain.
type PreprocessConfig struct {
	MinWidth          int
	DenoiseStrength   float64
	ContrastAmount    float64
	SharpenStrength   float64
	AdaptiveBlockSize int
	AdaptiveConstant  float64
}

// DefaultPreprocessConfig suits scanned receipts and letters.
func DefaultPreprocessConfig() *PreprocessConfig {
	return &PreprocessConfig{
		MinWidth:          1000,
		DenoiseStrength:   0.5,
		ContrastAmount:    20,
		SharpenStrength:   0.5,
		AdaptiveBlockSize: 15,
		AdaptiveConstant:  10,
	}
}

// NewPipeline returns the default chain for cfg.
func NewPipeline(cfg *PreprocessConfig) []Preprocessor {
	if cfg == nil {
		cfg = DefaultPreprocessConfig()
	}
	return []Preprocessor{
		NewUpscaleProcessor(cfg.MinWidth),
		NewGrayscaleProcessor(),
		NewDenoiseProcessor(cfg.DenoiseStrength),
		NewContrastProcessor(cfg.ContrastAmount),
		NewSharpenProcessor(cfg.SharpenStrength),
		NewAdaptiveThresholdProcessor(cfg.AdaptiveBlockSize, cfg.AdaptiveConstant),
	}
}

// UpscaleProcessor enlarges narrow images; tesseract does poorly below ~300dpi.
type UpscaleProcessor struct {
	minWidth int
}

func NewUpscaleProcessor(minWidth int) *UpscaleProcessor {
	return &UpscaleProcessor{minWidth: minWidth}
}

func (p *UpscaleProcessor) Process(img image.Image) (image.Image, error) {
	w := img.Bounds().Dx()
	if p.minWidth <= 0 || w == 0 || w >= p.minWidth {
		return img, nil
	}
	return imaging.Resize(img, p.minWidth, 0, imaging.Lanczos), nil
}

type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// DenoiseProcessor applies a light gaussian blur.
type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	if p.strength <= 0 {
		return img, nil
	}
	return imaging.Blur(img, p.strength), nil
}

type ContrastProcessor struct {
	amount float64
}

func NewContrastProcessor(amount float64) *ContrastProcessor {
	return &ContrastProcessor{amount: amount}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.amount), nil
}

type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	if p.strength <= 0 {
		return img, nil
	}
	return imaging.Sharpen(img, p.strength), nil
}

// AdaptiveThresholdProcessor binarizes against the local mean of a
// blockSize window, computed from an integral image.
type AdaptiveThresholdProcessor struct {
	blockSize int
	constant  float64
}

func NewAdaptiveThresholdProcessor(blockSize int, constant float64) *AdaptiveThresholdProcessor {
	if blockSize < 3 {
		blockSize = 3
	}
	return &AdaptiveThresholdProcessor{blockSize: blockSize, constant: constant}
}

func (p *AdaptiveThresholdProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	lum := func(x, y int) int64 {
		return int64(gray.Pix[y*gray.Stride+x*4])
	}

	// integral[y+1][x+1] is the sum of lum over [0,x]x[0,y]
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += lum(x, y)
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
		}
	}

	half := p.blockSize / 2
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h-1, y+half)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w-1, x+half)
			count := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := float64(sum) / float64(count)
			if float64(lum(x, y)) < mean-p.constant {
				out.SetGray(x, y, color.Gray{Y: 0})
			} else {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out, nil
}
