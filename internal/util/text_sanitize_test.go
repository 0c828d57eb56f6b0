package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeTextRemovesNulAndControls(t *testing.T) {
	in := "ab\x00cd\x01\x02\n\txy"
	require.Equal(t, "abcd\n\txy", SanitizeText(in))
}

func TestNormalizeDocumentText(t *testing.T) {
	in := "Attention   is all\r\nyou need.\n\n\n\nWe propose the trans-\nformer\x00 model."
	require.Equal(t, "Attention is all\nyou need.\n\nWe propose the transformer model.", NormalizeDocumentText(in))
}
