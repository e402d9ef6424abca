package metadata

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	// Decoders for image.DecodeConfig.
	_ "github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// CompressedMark is written to the EXIF Software tag of compressed outputs.
const CompressedMark = "PhotoSqueeze Compressed"

// Summary is the subset of image metadata the tool reports and acts on.
type Summary struct {
	Format      string
	Width       int
	Height      int
	Taken       *time.Time
	Make        string
	Model       string
	Software    string
	Orientation int
	HasEXIF     bool
}

// IsCompressed reports whether the image already carries the compression mark.
func (s *Summary) IsCompressed() bool {
	return strings.Contains(s.Software, "PhotoSqueeze")
}

// Reader extracts metadata using rwcarlsen/goexif.
type Reader struct {
	logger *logrus.Logger
}

// NewReader returns a new Reader.
func NewReader(logger *logrus.Logger) *Reader {
	return &Reader{logger: logger}
}

// ReadFile reads metadata from the image at path.
func (r *Reader) ReadFile(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return r.Read(data)
}

// Read extracts dimensions and EXIF fields from image bytes. Missing EXIF is
// not an error; only an undecodable image header is.
func (r *Reader) Read(data []byte) (*Summary, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	s := &Summary{Format: format, Width: cfg.Width, Height: cfg.Height}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		r.logger.Debugf("No EXIF data: %v", err)
		return s, nil
	}
	s.HasEXIF = true

	if tm, err := x.DateTime(); err == nil {
		s.Taken = &tm
	} else if tm := parseTag(x, exif.DateTimeOriginal); tm != nil {
		s.Taken = tm
	} else if tm := parseTag(x, exif.DateTimeDigitized); tm != nil {
		s.Taken = tm
	}
	s.Make = stringTag(x, exif.Make)
	s.Model = stringTag(x, exif.Model)
	s.Software = stringTag(x, exif.Software)
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			s.Orientation = v
		}
	}
	return s, nil
}

// HasCompressedMark reports whether the file at path was produced by this tool.
// Files whose EXIF cannot be read are treated as unmarked.
func (r *Reader) HasCompressedMark(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	x, err := exif.Decode(io.LimitReader(f, 1<<20))
	if err != nil {
		return false
	}
	return strings.Contains(stringTag(x, exif.Software), "PhotoSqueeze")
}

// ExiftoolFields returns every tag exiftool reports for path. It needs the
// exiftool binary on PATH.
func ExiftoolFields(path string) (map[string]interface{}, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool unavailable: %w", err)
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return nil, files[0].Err
	}
	return files[0].Fields, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(val)
}

func parseTag(x *exif.Exif, name exif.FieldName) *time.Time {
	return parseEXIFDateTime(stringTag(x, name))
}

// parseEXIFDateTime returns nil when no known layout matches.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}
