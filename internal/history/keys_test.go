package history

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKey_Deterministic(t *testing.T) {
	r := YearRange{Start: 2015, End: 2023}
	assert.Equal(t, EncodeKey("600519.SH", r), EncodeKey("600519.SH", r))
	assert.Equal(t, "600519.SH|2015|2023", EncodeKey("600519.SH", r))
}

func TestEncodeKey_DistinguishesRangesAndEntities(t *testing.T) {
	a := EncodeKey("600519.SH", YearRange{2010, 2015})
	b := EncodeKey("600519.SH", YearRange{2018, 2023})
	c := EncodeKey("000001.SZ", YearRange{2010, 2015})

	assert.NotEqual(t, a, b, "distinct ranges for the same entity must not collapse")
	assert.NotEqual(t, a, c, "distinct entities must not collide")
}

func TestEntityPrefix_MatchesAllRanges(t *testing.T) {
	prefix := EntityPrefix("600519.SH")

	assert.True(t, strings.HasPrefix(EncodeKey("600519.SH", YearRange{2010, 2015}), prefix))
	assert.True(t, strings.HasPrefix(EncodeKey("600519.SH", YearRange{2018, 2023}), prefix))
	assert.False(t, strings.HasPrefix(EncodeKey("000001.SZ", YearRange{2010, 2015}), prefix))
}

func TestDecodeKey_RoundTrip(t *testing.T) {
	code, r, err := DecodeKey(EncodeKey("600519.SH", YearRange{2015, 2023}))
	require.NoError(t, err)
	assert.Equal(t, "600519.SH", code)
	assert.Equal(t, YearRange{2015, 2023}, r)
}

func TestDecodeKey_Malformed(t *testing.T) {
	for _, key := range []string{"", "600519.SH", "600519.SH|abc|2023", "|2015|2023", "600519.SH|2023|2015"} {
		_, _, err := DecodeKey(key)
		assert.Error(t, err, "key %q should not decode", key)
	}
}
