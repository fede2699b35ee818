package urlpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for name, tc := range map[string]struct {
		remainder string
		expected  []Segment
	}{
		"bare collection": {
			remainder: "",
			expected:  []Segment{{Name: "user"}},
		},
		"root instance": {
			remainder: "bernardo",
			expected:  []Segment{{Name: "user", Key: "bernardo"}},
		},
		"nested collection": {
			remainder: "bernardo/teams",
			expected:  []Segment{{Name: "user", Key: "bernardo"}, {Name: "teams"}},
		},
		"nested instance": {
			remainder: "bernardo/teams/backend",
			expected:  []Segment{{Name: "user", Key: "bernardo"}, {Name: "teams", Key: "backend"}},
		},
		"deep drill": {
			remainder: "bernardo/teams/backend/members/rafael",
			expected: []Segment{
				{Name: "user", Key: "bernardo"},
				{Name: "teams", Key: "backend"},
				{Name: "members", Key: "rafael"},
			},
		},
		"trailing slash": {
			remainder: "bernardo/",
			expected:  []Segment{{Name: "user", Key: "bernardo"}},
		},
		"doubled slashes": {
			remainder: "bernardo//teams",
			expected:  []Segment{{Name: "user", Key: "bernardo"}, {Name: "teams"}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			p, err := Parse("user", tc.remainder)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p.Segments)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("", "bernardo")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse("user/extra", "bernardo")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPathAccessors(t *testing.T) {
	p, err := Parse("user", "bernardo/teams/backend")
	require.NoError(t, err)

	assert.Equal(t, Segment{Name: "user", Key: "bernardo"}, p.Root())
	assert.Equal(t, Segment{Name: "teams", Key: "backend"}, p.Last())
	assert.Len(t, p.Tail(), 1)
	assert.False(t, p.IsRootOnly())
	assert.Equal(t, "teams", p.Dotted())
	assert.Equal(t, "user/bernardo/teams/backend", p.String())

	rootOnly, err := Parse("user", "")
	require.NoError(t, err)
	assert.True(t, rootOnly.IsRootOnly())
	assert.Equal(t, "", rootOnly.Dotted())
}

func TestDottedJoinsAllHops(t *testing.T) {
	p, err := Parse("user", "bernardo/profile/x/skills")
	require.NoError(t, err)
	assert.Equal(t, "profile.skills", p.Dotted())
}
