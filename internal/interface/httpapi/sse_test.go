package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeData(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "単一行", input: "hello", want: "data: hello\n\n"},
		{name: "先頭の空白を保持", input: " world", want: "data:  world\n\n"},
		{name: "改行を含む", input: "a\nb", want: "data: a\ndata: b\n\n"},
		{name: "CRLF", input: "a\r\nb", want: "data: a\ndata: b\n\n"},
		{name: "空", input: "", want: "data: \n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeData(tt.input))
		})
	}
}
