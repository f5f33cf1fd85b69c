package display

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/tempod/internal/battery"
	"github.com/dokzlo13/tempod/internal/provider"
)

// recorder is a Surface that records text and counts primitives
type recorder struct {
	texts     []string
	fills     int
	clears    int
	commits   int
	roundRect int
}

func (r *recorder) Bounds() image.Rectangle { return image.Rect(0, 0, Width, Height) }
func (r *recorder) Clear() { r.clears++; r.texts = nil }
func (r *recorder) Text(x, y int, size FontSize, s string) int {
	r.texts = append(r.texts, s)
	return x + TextWidth(size, s)
}
func (r *recorder) Line(x0, y0, x1, y1 int) {}
func (r *recorder) RoundRect(x, y, w, h, rad int) { r.roundRect++ }
func (r *recorder) Circle(cx, cy, rad int, f bool) {}
func (r *recorder) FillRect(x, y, w, h int) { r.fills++ }
func (r *recorder) Commit(ctx context.Context) error { r.commits++; return nil }

func (r *recorder) has(s string) bool {
	for _, t := range r.texts {
		if t == s {
			return true
		}
	}
	return false
}

func TestDateLabel(t *testing.T) {
	tz, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2024, 6, 3, 6, 5, 0, 0, tz), "Lun 03 Juin"},
		{time.Date(2024, 6, 2, 6, 5, 0, 0, tz), "Dim 02 Juin"},
		{time.Date(2024, 8, 15, 0, 0, 0, 0, tz), "Jeu 15 Aou"},
		{time.Date(2025, 1, 1, 0, 0, 0, 0, tz), "Mer 01 Jan"},
		{time.Date(2024, 2, 29, 23, 59, 0, 0, tz), "Jeu 29 Fev"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := DateLabel(tt.at); got != tt.want {
				t.Errorf("DateLabel(%v) = %q, want %q", tt.at, got, tt.want)
			}
		})
	}
}

func TestBatteryBars(t *testing.T) {
	tests := []struct {
		pct  int
		want int
	}{
		{0, 0}, {12, 0}, {13, 1}, {37, 1}, {38, 2}, {50, 2}, {62, 2}, {63, 3}, {87, 3}, {88, 4}, {100, 4},
	}
	for _, tt := range tests {
		st := State{Battery: battery.Reading{Percentage: tt.pct}}
		if got := st.BatteryBars(); got != tt.want {
			t.Errorf("BatteryBars(%d%%) = %d, want %d", tt.pct, got, tt.want)
		}
	}
}

func sampleState() State {
	colors := provider.NewDayColorState()
	colors.Today = provider.Red
	colors.DeriveFound()
	return State{
		Colors:   colors,
		Battery:  battery.Reading{Percentage: 80, Measured: true, Valid: true},
		Today:    time.Date(2024, 6, 1, 6, 5, 0, 0, time.UTC),
		Tomorrow: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*State)
		wantTexts  []string
		denyTexts  []string
		wantMarker bool
	}{
		{
			name:      "normal",
			mutate:    func(*State) {},
			wantTexts: []string{"Sam 01 Juin", "Dim 02 Juin", "ROUGE", provider.UnavailableLabel},
			denyTexts: []string{"80%"},
		},
		{
			name:       "wifi_failed_marker",
			mutate:     func(s *State) { s.WiFiFailed = true },
			wantTexts:  []string{"ROUGE", provider.UnavailableLabel},
			wantMarker: true,
		},
		{
			name:      "low_battery_shows_percentage",
			mutate:    func(s *State) { s.Battery.Percentage = 12 },
			wantTexts: []string{"12%"},
		},
		{
			name: "counters",
			mutate: func(s *State) {
				s.Colors.CountBlue, s.Colors.CountWhite, s.Colors.CountRed = 150, 20, 12
			},
			wantTexts: []string{"Bleu 150  Blanc 20  Rouge 12"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := sampleState()
			tt.mutate(&st)

			r := &recorder{}
			Render(r, st)

			if r.clears != 1 {
				t.Errorf("clears = %d, want 1", r.clears)
			}
			if r.roundRect != 2 {
				t.Errorf("panels = %d, want 2", r.roundRect)
			}
			if r.commits != 0 {
				t.Errorf("Render must not commit, got %d", r.commits)
			}
			for _, want := range tt.wantTexts {
				if !r.has(want) {
					t.Errorf("missing text %q in %q", want, r.texts)
				}
			}
			for _, deny := range tt.denyTexts {
				if r.has(deny) {
					t.Errorf("unexpected text %q", deny)
				}
			}
			if got := r.has(WiFiMarker); got != tt.wantMarker {
				t.Errorf("wifi marker drawn = %v, want %v", got, tt.wantMarker)
			}
		})
	}
}

func TestRender_NoGaugeWithoutSensor(t *testing.T) {
	st := sampleState()
	st.Battery = battery.Reading{}

	r := &recorder{}
	Render(r, st)
	if r.fills != 0 {
		t.Errorf("gauge drawn without a battery measurement (%d fills)", r.fills)
	}
	if r.has("0%") {
		t.Error("percentage drawn without a battery measurement")
	}
}

func TestConsole_WrapsAtBottom(t *testing.T) {
	r := &recorder{}
	c := NewConsole(r)

	for i := 0; i < 9; i++ {
		c.Println("line")
	}
	if r.clears != 0 || len(r.texts) != 9 {
		t.Fatalf("after 9 lines clears=%d texts=%d, want 0/9", r.clears, len(r.texts))
	}

	c.Println("overflow")
	if r.clears != 1 {
		t.Errorf("clears = %d, want 1", r.clears)
	}
	if len(r.texts) != 1 || r.texts[0] != "overflow" {
		t.Errorf("texts after wrap = %q", r.texts)
	}
}

func TestConsole_SplitsLongLines(t *testing.T) {
	r := &recorder{}
	NewConsole(r).Println(StatusSleepFallback)

	if len(r.texts) < 2 {
		t.Fatalf("long status should wrap, got %q", r.texts)
	}
	if joined := strings.Join(r.texts, " "); joined != StatusSleepFallback {
		t.Errorf("wrapped text = %q, want %q", joined, StatusSleepFallback)
	}
	for _, line := range r.texts {
		if w := TextWidth(Small, line); w > Width-consoleX {
			t.Errorf("line %q is %dpx wide, exceeds panel", line, w)
		}
	}
}

func TestFramebuffer_DrawsBlackOnWhite(t *testing.T) {
	fb := NewFramebuffer(nil)
	img := fb.Image()

	if img.GrayAt(5, 5).Y != white {
		t.Fatal("fresh frame should be white")
	}

	fb.Line(0, 0, 10, 0)
	if img.GrayAt(5, 0).Y != black {
		t.Error("line pixel not black")
	}

	fb.FillRect(20, 20, 3, 3)
	if img.GrayAt(22, 22).Y != black || img.GrayAt(23, 23).Y != white {
		t.Error("FillRect covers the wrong area")
	}

	fb.Circle(60, 60, 5, true)
	if img.GrayAt(60, 60).Y != black {
		t.Error("filled circle center not black")
	}

	fb.RoundRect(100, 10, 40, 30, 6)
	if img.GrayAt(120, 10).Y != black || img.GrayAt(100, 25).Y != black {
		t.Error("round rect edges not drawn")
	}
	if img.GrayAt(100, 10).Y != white {
		t.Error("round rect corner should be rounded off")
	}

	end := fb.Text(150, 50, Large, "ROUGE")
	if end <= 150 {
		t.Errorf("Text returned x=%d, want past start", end)
	}

	// drawing outside the frame is clipped
	fb.Line(-10, -10, Width+10, Height+10)

	fb.Clear()
	if img.GrayAt(5, 0).Y != white {
		t.Error("Clear left black pixels")
	}
}

func TestPNGSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "frame.png")
	sink := NewPNGSink(path)
	fb := NewFramebuffer(sink)
	defer fb.Close()

	Render(fb, sampleState())
	if err := fb.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != Width || b.Dy() != Height {
		t.Errorf("frame size = %v, want %dx%d", b, Width, Height)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("output dir holds %d files, temp file left behind", len(entries))
	}
}

func TestToPortrait(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, Width, Height))
	src.Pix[0] = 0x42 // (0, 0)

	dst := toPortrait(src)
	if b := dst.Bounds(); b.Dx() != Height || b.Dy() != Width {
		t.Fatalf("portrait size = %v", b)
	}
	if got := dst.GrayAt(Height-1, 0).Y; got != 0x42 {
		t.Errorf("top-left pixel moved to wrong place, got %#x at top-right", got)
	}
}
