package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefinition(t *testing.T) {
	require.NoError(t, ValidateDefinition("flow.json", []byte(`{"name":"x","nodes":[{"id":1}]}`)))
	require.NoError(t, ValidateDefinition("FLOW.JSON", []byte(`{"nodes":[]}`)))

	require.ErrorIs(t, ValidateDefinition("flow.yaml", []byte(`{"nodes":[]}`)), errNotJSONFile)
	require.ErrorIs(t, ValidateDefinition("flow.json", nil), errEmptyFile)
	require.ErrorIs(t, ValidateDefinition("flow.json", []byte(`[1,2]`)), errNotObject)
	require.ErrorIs(t, ValidateDefinition("flow.json", []byte(`{"nodes":{}}`)), errMissingNodes)
	require.ErrorIs(t, ValidateDefinition("flow.json", []byte(`{"connections":{}}`)), errMissingNodes)

	big := `{"nodes":["` + strings.Repeat("a", MaxFileSize) + `"]}`
	require.ErrorIs(t, ValidateDefinition("flow.json", []byte(big)), errFileTooLarge)
}

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice("19.99")
	require.NoError(t, err)
	require.Equal(t, "19.99", p.String())

	p, err = ParsePrice("")
	require.NoError(t, err)
	require.True(t, p.IsZero())

	for _, bad := range []string{"abc", "-1", "1.999", "100000.01"} {
		_, err := ParsePrice(bad)
		require.Error(t, err, bad)
	}
}

func TestObjectKey(t *testing.T) {
	require.Equal(t, "workflows/u1/w1/flow.json", objectKey("u1", "w1", "../../flow.json"))
}
