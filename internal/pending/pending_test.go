package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_Add(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		paths   []string
		wantLen int
		wantOK  []bool
	}{
		{
			name:    "single file",
			paths:   []string{"/s/foo.star"},
			wantLen: 1,
			wantOK:  []bool{true},
		},
		{
			name:    "same name collapses",
			paths:   []string{"/s/foo.star", "/s/foo.star", "/s/FOO.star"},
			wantLen: 1,
			wantOK:  []bool{true, true, true},
		},
		{
			name:    "distinct names",
			paths:   []string{"/s/foo.star", "/s/bar.star"},
			wantLen: 2,
			wantOK:  []bool{true, true},
		},
		{
			name:    "underivable names are skipped",
			paths:   []string{"/s/.star", "/s/  .star", ""},
			wantLen: 0,
			wantOK:  []bool{false, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			for i, p := range tt.paths {
				ok := s.Add(p, base.Add(time.Duration(i)*time.Millisecond))
				assert.Equal(t, tt.wantOK[i], ok, "Add(%q)", p)
			}
			assert.Equal(t, tt.wantLen, s.Len())
		})
	}
}

func TestSet_LastWriteWins(t *testing.T) {
	s := New()
	now := time.Now()

	s.Add("/old/foo.star", now)
	s.Add("/new/Foo.star", now.Add(time.Millisecond))

	records := s.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, "/new/Foo.star", records[0].Path)
	assert.Equal(t, "Foo", records[0].Name)
}

func TestSet_SkippedPathDoesNotResetClock(t *testing.T) {
	s := New()
	t0 := time.Now()

	s.Add("/s/foo.star", t0)
	s.Add("/s/.star", t0.Add(time.Second))

	assert.Equal(t, time.Second, s.QuietFor(t0.Add(time.Second)))
}

func TestSet_Ready(t *testing.T) {
	s := New()
	t0 := time.Now()
	cooldown := 500 * time.Millisecond

	assert.False(t, s.Ready(t0.Add(time.Hour), cooldown), "empty set is never ready")

	s.Add("/s/foo.star", t0)
	assert.False(t, s.Ready(t0.Add(100*time.Millisecond), cooldown))

	// A change to any other file restarts the quiet period.
	s.Add("/s/bar.star", t0.Add(400*time.Millisecond))
	assert.False(t, s.Ready(t0.Add(600*time.Millisecond), cooldown))
	assert.True(t, s.Ready(t0.Add(900*time.Millisecond), cooldown))
}

func TestSet_Drain(t *testing.T) {
	s := New()
	now := time.Now()

	assert.Nil(t, s.Drain())

	s.Add("/s/a.star", now)
	s.Add("/s/b.star", now)

	records := s.Drain()
	assert.Len(t, records, 2)
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Drain())
}
