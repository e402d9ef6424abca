package packager

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"photo-squeeze-go/internal/compressor"
	"photo-squeeze-go/internal/metadata"
)

// DefaultPrefix is prepended to output file names.
const DefaultPrefix = "compressed-"

// Report describes a finished compression for the user.
type Report struct {
	Name            string  `json:"name"`
	OutputName      string  `json:"output_name"`
	MediaType       string  `json:"media_type"`
	OriginalSize    int64   `json:"original_size"`
	FinalSize       int64   `json:"final_size"`
	PercentageSaved float64 `json:"percentage_saved"`
	Passes          int     `json:"passes"`
	TargetEnabled   bool    `json:"target_enabled"`
	TargetBytes     int64   `json:"target_bytes,omitempty"`
	ReachedTarget   bool    `json:"reached_target"`
	BestEffort      bool    `json:"best_effort"`
	Status          string  `json:"status"`
}

// NewReport builds the report for a run.
func NewReport(src compressor.SourceArtifact, target compressor.TargetSpec, out compressor.Outcome) Report {
	final := out.FinalResult
	mediaType := final.MediaType
	if mediaType == "" {
		mediaType = src.MediaType
	}
	r := Report{
		Name:          src.Name,
		OutputName:    OutputName(DefaultPrefix, src.Name, mediaType),
		MediaType:     mediaType,
		OriginalSize:  src.Size,
		FinalSize:     final.Size,
		Passes:        out.Passes,
		TargetEnabled: target.Enabled,
		ReachedTarget: out.ReachedTarget,
		BestEffort:    out.BestEffort(),
	}
	if target.Enabled {
		r.TargetBytes = target.TargetBytes
	}
	r.PercentageSaved = PercentageSaved(src.Size, final.Size)
	r.Status = status(r)
	return r
}

func status(r Report) string {
	switch {
	case r.BestEffort:
		return "best effort"
	case r.TargetEnabled:
		return "target reached"
	default:
		return "compressed"
	}
}

// Summary is a one-line human readable description of the report.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s -> %s (%.1f%% saved, %d pass",
		r.Name, FormatFileSize(r.OriginalSize), FormatFileSize(r.FinalSize), r.PercentageSaved, r.Passes)
	if r.Passes != 1 {
		b.WriteString("es")
	}
	b.WriteString(")")
	switch {
	case r.BestEffort:
		fmt.Fprintf(&b, " best effort: target %s not reached", FormatFileSize(r.TargetBytes))
	case r.TargetEnabled:
		fmt.Fprintf(&b, " target %s reached", FormatFileSize(r.TargetBytes))
	}
	return b.String()
}

// PercentageSaved returns how much smaller final is than original, in
// percent. Growth is reported as a negative value.
func PercentageSaved(original, final int64) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-final) * 100 / float64(original)
}

// OutputName returns prefix+name with the extension adjusted to mediaType.
func OutputName(prefix, name, mediaType string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "image"
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	switch mediaType {
	case "image/jpeg":
		if lower := strings.ToLower(ext); lower != ".jpg" && lower != ".jpeg" {
			ext = ".jpg"
		}
	case "image/png":
		ext = ".png"
	}
	return prefix + stem + ext
}

// FormatFileSize renders a byte count with 1024-based units and at most two
// decimals, e.g. "1.5 MB" or "0 Bytes".
func FormatFileSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	sizes := []string{"Bytes", "KB", "MB", "GB"}
	v, i := float64(n), 0
	for v >= 1024 && i < len(sizes)-1 {
		v /= 1024
		i++
	}
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + sizes[i]
}

// WriteFile writes data to path through a temporary file and rename so
// readers never see a partial output.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// CopyExifAndMark copies EXIF from src to dst and stamps the Software tag
// with metadata.CompressedMark. It needs the exiftool binary on PATH.
func CopyExifAndMark(src, dst string) error {
	cmdCopy := exec.Command("exiftool", "-TagsFromFile", src, "-overwrite_original", dst)
	if err := cmdCopy.Run(); err != nil {
		return fmt.Errorf("exiftool copy failed: %w", err)
	}
	cmdSet := exec.Command("exiftool", "-overwrite_original", "-Software="+metadata.CompressedMark, dst)
	if err := cmdSet.Run(); err != nil {
		return fmt.Errorf("exiftool set Software failed: %w", err)
	}
	return nil
}
