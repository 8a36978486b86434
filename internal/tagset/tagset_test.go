package tagset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zlepper/brqueue/internal/tagset"
)

func TestIsSubsetOf(t *testing.T) {
	cases := []struct {
		name     string
		required tagset.Set
		offered  tagset.Set
		want     bool
	}{
		{"multiple tags match", tagset.New("bar", "foo"), tagset.New("bar", "foo"), true},
		{"single bar", tagset.New("bar"), tagset.New("bar", "foo"), true},
		{"single foo", tagset.New("foo"), tagset.New("foo", "bar"), true},
		{"no tags on item", tagset.New(), tagset.New("foo"), true},
		{"no tags in request", tagset.New("foo"), tagset.New(), false},
		{"no tags on either side", tagset.New(), tagset.New(), true},
		{"tag mismatch", tagset.New("bar"), tagset.New("foo"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.required.IsSubsetOf(tc.offered))
			assert.Equal(t, tc.want, tc.offered.IsSupersetOf(tc.required))
		})
	}
}

func TestAddAndSlice(t *testing.T) {
	var s tagset.Set
	s.Add("a")
	s.Add("b")

	assert.Equal(t, 2, s.Len())
	assert.ElementsMatch(t, []string{"a", "b"}, s.Slice())
}
