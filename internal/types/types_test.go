package types_test

import (
	"testing"

	"github.com/clearcmos/nixnavd/internal/types"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableAndSensitive(t *testing.T) {
	a := types.Fingerprint(1000, 42)
	b := types.Fingerprint(1000, 42)
	require.Equal(t, a, b, "fingerprint must be deterministic")

	c := types.Fingerprint(1000, 43)
	require.NotEqual(t, a, c, "fingerprint must change with size")

	d := types.Fingerprint(1001, 42)
	require.NotEqual(t, a, d, "fingerprint must change with mtime")
}
