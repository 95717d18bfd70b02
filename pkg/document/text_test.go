package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandler_ExtractEncodings(t *testing.T) {
	h := NewTextHandler()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "utf8", data: []byte("héllo"), want: "héllo"},
		{name: "utf8 bom", data: append([]byte{0xEF, 0xBB, 0xBF}, []byte("hi")...), want: "hi"},
		{name: "utf16 le bom", data: []byte{0xFF, 0xFE, 'h', 0x00, 'i', 0x00}, want: "hi"},
		{name: "utf16 be bom", data: []byte{0xFE, 0xFF, 0x00, 'h', 0x00, 'i'}, want: "hi"},
		{name: "invalid utf8 replaced", data: []byte{'a', 0xFF, 'b'}, want: "a�b"},
		{name: "empty", data: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, _, err := h.Extract(context.Background(), &File{Name: "f.txt", Data: tt.data})
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestTextHandler_RebuildIsIdentity(t *testing.T) {
	h := NewTextHandler()
	translated := "línea uno\n\n  línea dos  \n"

	out, err := h.Rebuild(context.Background(), &File{Name: "f.txt"}, translated)
	require.NoError(t, err)
	assert.Equal(t, translated, string(out))
}
