package frames

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	return imaging.New(w, h, c)
}

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

func TestValidatorThreshold(t *testing.T) {
	dir := t.TempDir()
	v := NewValidator(0)

	tests := []struct {
		name  string
		color color.NRGBA
		want  bool
	}{
		{"all channels above threshold", color.NRGBA{251, 251, 251, 255}, false},
		{"pure white", color.NRGBA{255, 255, 255, 255}, false},
		{"exactly threshold", color.NRGBA{250, 250, 250, 255}, true},
		{"one channel below", color.NRGBA{255, 255, 200, 255}, true},
		{"dark scene", color.NRGBA{30, 40, 50, 255}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".png")
			writeImage(t, path, solid(16, 16, tt.color))
			if got := v.IsValid(path); got != tt.want {
				t.Errorf("IsValid = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatorUndecodable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.jpg")
	os.WriteFile(path, []byte("not an image"), 0o644)

	if NewValidator(0).IsValid(path) {
		t.Error("garbage file should be invalid")
	}
	if NewValidator(0).IsValid(filepath.Join(dir, "missing.jpg")) {
		t.Error("missing file should be invalid")
	}
}

func TestAverageColorMixed(t *testing.T) {
	img := imaging.New(2, 1, color.NRGBA{0, 0, 0, 255})
	img.SetNRGBA(1, 0, color.NRGBA{200, 100, 50, 255})

	r, g, b, ok := AverageColor(img)
	if !ok {
		t.Fatal("expected ok")
	}
	if r != 100 || g != 50 || b != 25 {
		t.Errorf("average = (%v, %v, %v), want (100, 50, 25)", r, g, b)
	}
}

func TestThumbnailDerive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, FrameName(1700000000000))
	writeImage(t, src, solid(640, 480, color.NRGBA{10, 120, 200, 255}))

	got, err := NewThumbnailer().Derive(src)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if want := filepath.Join(dir, "thumb_1700000000000.jpg"); got != want {
		t.Errorf("path = %q, want %q", got, want)
	}

	img, err := imaging.Open(got)
	if err != nil {
		t.Fatalf("open thumb: %v", err)
	}
	if b := img.Bounds(); b.Dx() != ThumbWidth || b.Dy() != ThumbHeight {
		t.Errorf("thumb size = %dx%d, want %dx%d", b.Dx(), b.Dy(), ThumbWidth, ThumbHeight)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("dir has %d entries, want 2 (no temp leftovers)", len(entries))
	}
}

func TestParseFrameName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"1700000000000.jpg", true},
		{"thumb_1700000000000.jpg", false},
		{".1700000000000.jpg.part", false},
		{"timelapse_1.mp4", false},
		{"abc.jpg", false},
	}
	for _, tt := range tests {
		_, err := ParseFrameName(tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("ParseFrameName(%q) err = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestIsServable(t *testing.T) {
	tests := map[string]bool{
		"1700000000000.jpg":       true,
		"thumb_1700000000000.jpg": true,
		".1700000000000.jpg.part": false,
		"../etc/passwd":           false,
		"frames.db":               false,
		"":                        false,
	}
	for name, want := range tests {
		if got := IsServable(name); got != want {
			t.Errorf("IsServable(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIndexRebuildAndAppend(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"300.jpg", "100.jpg", "thumb_100.jpg", "notes.txt", ".400.jpg.part"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}

	idx := NewIndex(dir)
	if err := idx.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	names := idx.Names()
	if len(names) != 2 || names[0] != "100.jpg" || names[1] != "300.jpg" {
		t.Fatalf("names = %v, want [100.jpg 300.jpg]", names)
	}

	idx.Append(NewFrame(dir, 200))
	idx.Append(NewFrame(dir, 500))
	idx.Append(NewFrame(dir, 300)) // duplicate replaces

	names = idx.Names()
	want := []string{"100.jpg", "200.jpg", "300.jpg", "500.jpg"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	last, ok := idx.Last()
	if !ok || last.Timestamp != 500 {
		t.Errorf("Last = %+v, %v; want 500", last, ok)
	}

	// Returned slices are copies.
	list := idx.List()
	list[0].Name = "mutated"
	if idx.List()[0].Name == "mutated" {
		t.Error("List exposed internal slice")
	}
}

func TestIndexEmpty(t *testing.T) {
	idx := NewIndex(t.TempDir())
	if err := idx.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.Last(); ok {
		t.Error("Last on empty index should report false")
	}
}

func TestHeal(t *testing.T) {
	dir := t.TempDir()

	good := NewFrame(dir, 1000)
	writeImage(t, good.Path, solid(64, 48, color.NRGBA{40, 60, 80, 255}))

	blank := NewFrame(dir, 2000)
	writeImage(t, blank.Path, solid(64, 48, color.NRGBA{255, 255, 255, 255}))
	writeImage(t, blank.ThumbPath, solid(24, 10, color.NRGBA{255, 255, 255, 255}))

	os.WriteFile(PartPath(dir, FrameName(3000)), []byte("partial"), 0o644)

	logDB, err := OpenLog(filepath.Join(t.TempDir(), "frames.db"))
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer logDB.Close()

	h := &Healer{Validator: NewValidator(0), Thumbnailer: NewThumbnailer(), Log: logDB}
	report, err := h.Heal(context.Background(), dir)
	if err != nil {
		t.Fatalf("Heal: %v", err)
	}

	if report.Checked != 2 || report.Removed != 1 || report.ThumbsHealed != 1 || report.PartsRemoved != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(blank.Path); !os.IsNotExist(err) {
		t.Error("blank frame should be removed")
	}
	if _, err := os.Stat(blank.ThumbPath); !os.IsNotExist(err) {
		t.Error("blank thumbnail should be removed")
	}
	if _, err := os.Stat(good.ThumbPath); err != nil {
		t.Errorf("good thumbnail missing: %v", err)
	}

	n, err := logDB.Count(context.Background(), EventRemoved)
	if err != nil || n != 1 {
		t.Errorf("removed events = %d, %v; want 1", n, err)
	}
}

func TestLogRecent(t *testing.T) {
	l, err := OpenLog(filepath.Join(t.TempDir(), "frames.db"))
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	for _, ts := range []int64{1, 2, 3} {
		if err := l.Record(ctx, NewFrame("/x", ts), EventCaptured); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 || entries[0].Timestamp != 3 || entries[1].Timestamp != 2 {
		t.Errorf("entries = %+v", entries)
	}
}
