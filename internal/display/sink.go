package display

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/devices/v3/waveshare2in13v4"
	"periph.io/x/host/v3"
)

// PNGSink writes every committed frame to a PNG file
type PNGSink struct {
	path string
}

// NewPNGSink creates a sink writing to path
func NewPNGSink(path string) *PNGSink {
	return &PNGSink{path: path}
}

// Flush writes the frame through a temp file so readers never see a partial image
func (s *PNGSink) Flush(ctx context.Context, frame *image.Gray) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tempod-*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp frame: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, frame); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace frame: %w", err)
	}

	log.Debug().Str("path", s.path).Msg("Frame written")
	return nil
}

func (s *PNGSink) Close() error { return nil }

// EPaperSink drives a Waveshare 2.13" v4 HAT over SPI
type EPaperSink struct {
	port    spi.PortCloser
	display *waveshare2in13v4.Dev
	asleep  bool
}

// NewEPaperSink initialises the host drivers, opens the SPI port
// (empty name selects the first one) and wakes the panel.
func NewEPaperSink(portName string) (*EPaperSink, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init host drivers: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open spi port: %w", err)
	}

	opts := waveshare2in13v4.EPD2in13v4
	dev, err := waveshare2in13v4.NewHat(port, &opts)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to open e-paper hat: %w", err)
	}

	if err := dev.Init(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to init e-paper: %w", err)
	}

	return &EPaperSink{port: port, display: dev}, nil
}

// Flush performs a full refresh with the frame, then puts the panel to sleep.
// The panel keeps the image without power.
func (s *EPaperSink) Flush(ctx context.Context, frame *image.Gray) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.asleep {
		if err := s.display.Init(); err != nil {
			return fmt.Errorf("failed to wake e-paper: %w", err)
		}
		s.asleep = false
	}

	if err := s.display.Clear(color.White); err != nil {
		return fmt.Errorf("failed to clear e-paper: %w", err)
	}

	src := image.Image(frame)
	bounds := s.display.Bounds()
	if bounds.Dx() < bounds.Dy() && frame.Rect.Dx() > frame.Rect.Dy() {
		src = toPortrait(frame)
	}

	img := image1bit.NewVerticalLSB(bounds)
	draw.Draw(img, img.Bounds(), src, image.Point{}, draw.Src)
	if err := s.display.Draw(bounds, img, image.Point{}); err != nil {
		return fmt.Errorf("failed to draw e-paper: %w", err)
	}
	if err := s.display.Sleep(); err != nil {
		return fmt.Errorf("failed to put e-paper to sleep: %w", err)
	}
	s.asleep = true
	return nil
}

// Close halts the panel and releases the SPI port
func (s *EPaperSink) Close() error {
	err := s.display.Halt()
	if cerr := s.port.Close(); err == nil {
		err = cerr
	}
	return err
}

// toPortrait rotates a landscape frame a quarter turn clockwise
func toPortrait(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < w; y++ {
		for x := 0; x < h; x++ {
			dst.SetGray(x, y, src.GrayAt(src.Rect.Min.X+y, src.Rect.Min.Y+h-1-x))
		}
	}
	return dst
}
