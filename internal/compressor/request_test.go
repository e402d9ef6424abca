package compressor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetBytes(t *testing.T) {
	tests := []struct {
		name    string
		size    float64
		unit    SizeUnit
		want    int64
		wantErr bool
	}{
		{name: "one megabyte", size: 1, unit: UnitMB, want: 1_048_576},
		{name: "fractional megabyte floors", size: 0.25, unit: UnitMB, want: 262_144},
		{name: "megabyte minimum", size: 0.1, unit: UnitMB, want: 104_857},
		{name: "below megabyte minimum is raised", size: 0.01, unit: UnitMB, want: 104_857},
		{name: "kilobytes", size: 500, unit: UnitKB, want: 512_000},
		{name: "kilobyte minimum", size: 100, unit: UnitKB, want: 102_400},
		{name: "below kilobyte minimum is raised", size: 1, unit: UnitKB, want: 102_400},
		{name: "tiny kilobyte is raised", size: 0.0001, unit: UnitKB, want: 102_400},
		{name: "fractional kilobyte floors", size: 150.7, unit: UnitKB, want: 154_316},
		{name: "zero", size: 0, unit: UnitMB, wantErr: true},
		{name: "negative", size: -3, unit: UnitKB, wantErr: true},
		{name: "nan", size: math.NaN(), unit: UnitKB, wantErr: true},
		{name: "unknown unit", size: 1, unit: "GB", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TargetBytes(tt.size, tt.unit)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMinTargetSize(t *testing.T) {
	assert.Equal(t, 0.1, MinTargetSize(UnitMB))
	assert.Equal(t, 100.0, MinTargetSize(UnitKB))
	assert.Zero(t, MinTargetSize("GB"))
}

func TestQualityFraction(t *testing.T) {
	q, err := QualityFraction(80)
	require.NoError(t, err)
	assert.Equal(t, 0.8, q)

	q, err = QualityFraction(100)
	require.NoError(t, err)
	assert.Equal(t, 1.0, q)

	q, err = QualityFraction(1)
	require.NoError(t, err)
	assert.Equal(t, 0.01, q)

	for _, bad := range []int{0, -5, 101} {
		_, err := QualityFraction(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, "quality %d", bad)
	}
}

func TestParseSizeUnit(t *testing.T) {
	u, err := ParseSizeUnit("mb")
	require.NoError(t, err)
	assert.Equal(t, UnitMB, u)

	u, err = ParseSizeUnit(" KB ")
	require.NoError(t, err)
	assert.Equal(t, UnitKB, u)

	_, err = ParseSizeUnit("bytes")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDetectMediaType(t *testing.T) {
	mt, err := DetectMediaType(encodeTestJPEG(t, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mt)

	mt, err = DetectMediaType(encodeTestPNG(t, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt)

	mt, err = DetectMediaType(readTestdata(t, "blue-purple-pink.lossy.webp"))
	require.NoError(t, err)
	assert.Equal(t, "image/webp", mt)

	_, err = DetectMediaType([]byte("%PDF-1.7 definitely not an image"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRequestPrepare(t *testing.T) {
	jpeg := encodeTestJPEG(t, 20, 20)

	t.Run("untargeted", func(t *testing.T) {
		p, err := Request{Data: jpeg, Name: "a.jpg", QualityPercent: 80}.Prepare()
		require.NoError(t, err)
		assert.False(t, p.Target.Enabled)
		assert.Equal(t, 0.8, p.Quality)
		assert.Equal(t, int64(len(jpeg)), p.Source.Size)
		assert.Equal(t, "a.jpg", p.Source.Name)
	})

	t.Run("targeted", func(t *testing.T) {
		p, err := Request{Data: jpeg, CustomSize: true, TargetSize: 1, Unit: UnitMB, QualityPercent: 50}.Prepare()
		require.NoError(t, err)
		assert.Equal(t, TargetSpec{Enabled: true, TargetBytes: 1_048_576}, p.Target)
	})

	t.Run("small target raised to minimum", func(t *testing.T) {
		p, err := Request{Data: jpeg, CustomSize: true, TargetSize: 10, Unit: UnitKB, QualityPercent: 50}.Prepare()
		require.NoError(t, err)
		assert.Equal(t, TargetSpec{Enabled: true, TargetBytes: 102_400}, p.Target)
	})

	t.Run("target ignored when not custom", func(t *testing.T) {
		p, err := Request{Data: jpeg, CustomSize: false, TargetSize: -1, Unit: "??", QualityPercent: 50}.Prepare()
		require.NoError(t, err)
		assert.False(t, p.Target.Enabled)
	})

	failures := map[string]Request{
		"no data":      {QualityPercent: 80},
		"not an image": {Data: []byte("hello"), QualityPercent: 80},
		"quality high": {Data: jpeg, QualityPercent: 150},
		"bad target":   {Data: jpeg, QualityPercent: 80, CustomSize: true, TargetSize: 0, Unit: UnitKB},
		"missing unit": {Data: jpeg, QualityPercent: 80, CustomSize: true, TargetSize: 10},
	}
	for name, req := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := req.Prepare()
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
