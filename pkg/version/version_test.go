package version

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"0.0.1", true},
		{"1.12.132", true},
		{"999.999.999", true},
		{"000.000.000", true},
		{"123", false},
		{"1.2", false},
		{"1.2.3.4", false},
		{"1.2.3a", false},
		{"1000.0.0", false},
		{"1..3", false},
		{"1-2-3", false},
		{"", false},
		{" 1.2.3", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.version))
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.1.999", 1},
		{"0.0.1", "0.0.2", -1},
		{"0.0.3", "0.0.2", 1},
		{"0.0.3", "0.0.3", 0},
		{"1.0.0", "0.999.999", 1},
		{"01.2.3", "1.2.3", 0},
		{"2.0.0", "10.0.0", -1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s vs %s", tt.a, tt.b), func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestCompare_InvalidFieldsCountAsZero(t *testing.T) {
	assert.Equal(t, 0, Compare("1.x.3", "1.0.3"))
	assert.Equal(t, 0, Compare("1.2", "1.2.0"))
	assert.Equal(t, 1, Compare("0.0.1", "abc"))
	assert.Equal(t, 0, Compare("1.2.3.4", "1.2.3"))
	assert.Equal(t, Triplet{Major: 7}, tripletOf("7.beta"))
}

func TestParse(t *testing.T) {
	got, err := Parse("1.12.132")
	require.NoError(t, err)
	assert.Equal(t, Triplet{Major: 1, Minor: 12, Patch: 132}, got)
	assert.Equal(t, int64(1_012_132), got.Value())
	assert.Equal(t, "1.12.132", got.String())

	_, err = Parse("1.2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x.x.x")
}

func tripletGen() *rapid.Generator[Triplet] {
	return rapid.Custom(func(t *rapid.T) Triplet {
		return Triplet{
			Major: rapid.IntRange(0, 999).Draw(t, "major"),
			Minor: rapid.IntRange(0, 999).Draw(t, "minor"),
			Patch: rapid.IntRange(0, 999).Draw(t, "patch"),
		}
	})
}

func TestCompare_Properties(t *testing.T) {
	t.Run("reflexive", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := tripletGen().Draw(t, "a").String()
			if Compare(a, a) != 0 {
				t.Fatalf("Compare(%s, %s) != 0", a, a)
			}
		})
	})

	t.Run("antisymmetric", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := tripletGen().Draw(t, "a").String()
			b := tripletGen().Draw(t, "b").String()
			if Compare(a, b) != -Compare(b, a) {
				t.Fatalf("Compare(%s, %s) and Compare(%s, %s) disagree", a, b, b, a)
			}
		})
	})
}

func TestCompare_MatchesFieldOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := tripletGen().Draw(t, "x")
		y := tripletGen().Draw(t, "y")

		want := 0
		switch {
		case x.Major != y.Major:
			want = sign(x.Major - y.Major)
		case x.Minor != y.Minor:
			want = sign(x.Minor - y.Minor)
		default:
			want = sign(x.Patch - y.Patch)
		}
		if got := Compare(x.String(), y.String()); got != want {
			t.Fatalf("Compare(%s, %s) = %d, want %d", x, y, got, want)
		}
	})
}

func TestCompare_Transitive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := tripletGen().Draw(t, "a").String()
		b := tripletGen().Draw(t, "b").String()
		c := tripletGen().Draw(t, "c").String()
		if Compare(a, b) <= 0 && Compare(b, c) <= 0 && Compare(a, c) > 0 {
			t.Fatalf("ordering not transitive for %s <= %s <= %s", a, b, c)
		}
	})
}

func TestValidate_GeneratedTriplets(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := tripletGen().Draw(t, "v")
		if !Validate(v.String()) {
			t.Fatalf("generated version %s failed validation", v)
		}
		parsed, err := Parse(v.String())
		if err != nil || parsed != v {
			t.Fatalf("Parse(%s) = %v, %v", v, parsed, err)
		}
	})
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
