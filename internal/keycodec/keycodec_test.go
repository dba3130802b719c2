package keycodec

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	key, err := Generate()
	require.NoError(t, err)

	assert.Len(t, key, KeyLength)
	for _, r := range key {
		assert.Contains(t, Alphabet, string(r), "generated symbol outside alphabet")
	}
	assert.True(t, ValidNormalized(key))
}

func TestGenerateUsesWholeAlphabet(t *testing.T) {
	seen := make(map[rune]bool)
	for i := 0; i < 500; i++ {
		key, err := Generate()
		require.NoError(t, err)
		for _, r := range key {
			seen[r] = true
		}
	}

	// 500 keys * 16 symbols; every alphabet symbol should have appeared
	for _, r := range Alphabet {
		assert.True(t, seen[r], "symbol %q never generated", string(r))
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already normalized", "ABCD2345EFGH6789", "ABCD2345EFGH6789"},
		{"display format", "ABCD-2345-EFGH-6789", "ABCD2345EFGH6789"},
		{"lowercase", "abcd-2345-efgh-6789", "ABCD2345EFGH6789"},
		{"inner spaces", "ABCD 2345 EFGH 6789", "ABCD2345EFGH6789"},
		{"underscores", "ABCD_2345_EFGH_6789", "ABCD2345EFGH6789"},
		{"surrounding whitespace", "  ABCD-2345-EFGH-6789\n", "ABCD2345EFGH6789"},
		{"mixed delimiters", " abcd_2345-EFGH 6789 ", "ABCD2345EFGH6789"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalizeFormatRoundTrip(t *testing.T) {
	for i := 0; i < 100; i++ {
		key, err := Generate()
		require.NoError(t, err)

		formatted := Format(key)
		assert.Equal(t, Normalize(key), Normalize(formatted))
		assert.Equal(t, key, Normalize(formatted))

		// Digest is delimiter- and case-insensitive
		assert.Equal(t, Digest(key), Digest(Normalize(strings.ToLower(formatted))))
	}
}

func TestValidNormalized(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid", "ABCD2345EFGH6789", true},
		{"too short", "ABCD2345EFGH678", false},
		{"too long", "ABCD2345EFGH67899", false},
		{"empty", "", false},
		{"contains I", "IBCD2345EFGH6789", false},
		{"contains L", "LBCD2345EFGH6789", false},
		{"contains O", "OBCD2345EFGH6789", false},
		{"contains 0", "0BCD2345EFGH6789", false},
		{"contains 1", "1BCD2345EFGH6789", false},
		{"lowercase not normalized", "abcd2345efgh6789", false},
		{"dash not stripped", "ABCD-2345-EFGH-67", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidNormalized(tt.key))
		})
	}
}

func TestAlphabetExcludesAmbiguousSymbols(t *testing.T) {
	assert.Len(t, Alphabet, 31)
	for _, banned := range "ILO01" {
		assert.NotContains(t, Alphabet, string(banned))
	}
	// Uppercase only
	assert.Equal(t, strings.ToUpper(Alphabet), Alphabet)
}

func TestDigest(t *testing.T) {
	d := Digest("ABCD2345EFGH6789")

	assert.Len(t, d, 64)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), d)

	// Deterministic
	assert.Equal(t, d, Digest("ABCD2345EFGH6789"))
	// Sensitive to any symbol change
	assert.NotEqual(t, d, Digest("ABCD2345EFGH678A"))
}

func TestDigestNoCollisionsAcross100kKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 100k key generation in short mode")
	}

	const n = 100_000
	seen := make(map[string]string, n)
	for i := 0; i < n; i++ {
		key, err := Generate()
		require.NoError(t, err)

		d := Digest(key)
		if prev, dup := seen[d]; dup && prev != key {
			t.Fatalf("digest collision between distinct keys after %d generations", i)
		}
		seen[d] = key
	}
	assert.Len(t, seen, n, "expected all generated keys to be distinct")
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "6789", Suffix("ABCD2345EFGH6789"))
	assert.Equal(t, "789", Suffix("789"))
	assert.Equal(t, "", Suffix(""))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "ABCD-2345-EFGH-6789", Format("ABCD2345EFGH6789"))
	// Unexpected lengths pass through untouched
	assert.Equal(t, "ABC", Format("ABC"))
	assert.Equal(t, "", Format(""))
}

func TestMask(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"normalized key", "ABCD2345EFGH6789", "ABCD****6789"},
		{"display format", "ABCD-2345-EFGH-6789", "ABCD****6789"},
		{"lowercase", "abcd-2345-efgh-6789", "ABCD****6789"},
		{"short input", "ABCD234", "****"},
		{"empty", "", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			masked := Mask(tt.key)
			assert.Equal(t, tt.want, masked)
			if len(tt.key) > 8 {
				assert.NotContains(t, masked, Normalize(tt.key)[4:12], "mask must hide the key middle")
			}
		})
	}
}

func TestTrialToken(t *testing.T) {
	token, err := TrialToken()
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^TRIAL-[`+Alphabet+`]{4}-[`+Alphabet+`]{4}$`), token)

	other, err := TrialToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestAuditRef(t *testing.T) {
	d := Digest("ABCD2345EFGH6789")
	ref := AuditRef(d)

	assert.Len(t, ref, 16)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), ref)
	// Stable for the same digest, not a prefix of it
	assert.Equal(t, ref, AuditRef(d))
	assert.NotEqual(t, d[:16], ref)
}

func BenchmarkGenerate(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := Generate(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCodecHelpers covers the per-request activation path: every
// submitted key is normalized and digested before the store lookup.
func BenchmarkCodecHelpers(b *testing.B) {
	const display = "ABCD-2345-EFGH-6789"
	normalized := Normalize(display)

	b.Run("Normalize", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = Normalize(display)
		}
	})

	b.Run("Digest", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = Digest(normalized)
		}
	})

	b.Run("Mask", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = Mask(display)
		}
	})
}
