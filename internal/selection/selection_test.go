package selection

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var catalogIDs = []string{"1", "2", "3"}

func TestToggle(t *testing.T) {
	s := New()

	s.Toggle("2")
	assert.True(t, s.Has("2"))
	assert.Equal(t, 1, s.Len())

	s.Toggle("2")
	assert.False(t, s.Has("2"))
	assert.Equal(t, 0, s.Len())
}

func TestToggle_AcceptsUnknownIDs(t *testing.T) {
	s := New()
	s.Toggle("not-in-catalog")
	assert.True(t, s.Has("not-in-catalog"))
}

func TestSelectAll_Involution(t *testing.T) {
	tests := []struct {
		name    string
		initial []string
	}{
		{"from empty", nil},
		{"from partial", []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			for _, id := range tt.initial {
				s.Toggle(id)
			}

			s.SelectAll(catalogIDs)
			assert.Equal(t, catalogIDs, s.IDs())

			s.SelectAll(catalogIDs)
			assert.Empty(t, s.IDs())
		})
	}
}

func TestSelectAll_SizeMatchWithForeignIDs(t *testing.T) {
	// Size equality decides, not set equality.
	s := New()
	for _, id := range []string{"x", "y", "z"} {
		s.Toggle(id)
	}
	s.SelectAll(catalogIDs)
	assert.Equal(t, 0, s.Len())
}

func TestIDs_Sorted(t *testing.T) {
	s := New()
	for _, id := range []string{"3", "1", "2"} {
		s.Toggle(id)
	}
	assert.Equal(t, []string{"1", "2", "3"}, s.IDs())

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestConcurrentToggle(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Toggle("1")
		}()
	}
	wg.Wait()
	assert.False(t, s.Has("1"), "an even number of toggles leaves the id absent")
}
