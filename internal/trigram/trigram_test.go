package trigram_test

import (
	"testing"

	"github.com/clearcmos/nixnavd/internal/trigram"
	"github.com/stretchr/testify/require"
)

func TestExtractBasic(t *testing.T) {
	set := trigram.Extract("abcd")
	require.Len(t, set, 2)
	_, ok := set[trigram.Trigram{'a', 'b', 'c'}]
	require.True(t, ok)
	_, ok = set[trigram.Trigram{'b', 'c', 'd'}]
	require.True(t, ok)
}

func TestExtractShortStringsProduceNone(t *testing.T) {
	require.Nil(t, trigram.Extract(""))
	require.Nil(t, trigram.Extract("a"))
	require.Nil(t, trigram.Extract("ab"))
}

func TestExtractIsCaseFolded(t *testing.T) {
	lower := trigram.Extract("readme")
	upper := trigram.Extract("README")
	mixed := trigram.Extract("ReadMe")
	require.Equal(t, lower, upper)
	require.Equal(t, lower, mixed)
}

func TestExtractNonASCIIPassesThrough(t *testing.T) {
	set := trigram.Extract("cafés") // "cafés"
	// bytes are passed through unchanged for non-ASCII; just verify it
	// doesn't panic and produces the expected count of windows (6 bytes,
	// 4 distinct windows).
	require.Len(t, set, 4)
}

func TestExtractDeduplicates(t *testing.T) {
	set := trigram.Extract("aaaa")
	require.Len(t, set, 1)
}

func TestKeyRoundTrips(t *testing.T) {
	tg := trigram.Trigram{'x', 'y', 'z'}
	require.Equal(t, tg, trigram.FromKey(tg.Key()))
}

func TestExtractOrderedMatchesExtractSet(t *testing.T) {
	ordered := trigram.ExtractOrdered("banana")
	set := trigram.Extract("banana")
	require.Len(t, ordered, len(set))
	for _, tg := range ordered {
		_, ok := set[tg]
		require.True(t, ok)
	}
}
