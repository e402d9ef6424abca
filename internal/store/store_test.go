package store

import (
	"testing"
	"time"

	"photo-squeeze-go/internal/packager"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRelease(t *testing.T) {
	s := New(time.Minute)
	e := s.Put([]byte("jpeg"), packager.Report{Name: "a.jpg"})

	_, err := uuid.Parse(e.ID)
	require.NoError(t, err)

	got, ok := s.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg"), got.Data)
	assert.Equal(t, "a.jpg", got.Report.Name)
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Release(e.ID))
	assert.False(t, s.Release(e.ID))
	_, ok = s.Get(e.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestHandlesAreUnique(t *testing.T) {
	s := New(0)
	a := s.Put(nil, packager.Report{})
	b := s.Put(nil, packager.Report{})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(10 * time.Minute)
	s.now = func() time.Time { return now }

	old := s.Put([]byte("old"), packager.Report{})
	now = now.Add(5 * time.Minute)
	fresh := s.Put([]byte("fresh"), packager.Report{})
	now = now.Add(6 * time.Minute)

	_, ok := s.Get(old.ID)
	assert.False(t, ok, "expired entries are not served")
	_, ok = s.Get(fresh.ID)
	assert.True(t, ok)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestZeroTTLNeverExpires(t *testing.T) {
	now := time.Now()
	s := New(0)
	s.now = func() time.Time { return now }
	e := s.Put([]byte("x"), packager.Report{})

	now = now.Add(1000 * time.Hour)
	_, ok := s.Get(e.ID)
	assert.True(t, ok)
	assert.Zero(t, s.Sweep())
}
