package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KiB",
		1536:            "1.5 KiB",
		5 * 1024 * 1024: "5.0 MiB",
		3 << 30:         "3.0 GiB",
		2 << 40:         "2.0 TiB",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatBytes(in), "bytes %d", in)
	}
}

func TestFormatMessages(t *testing.T) {
	assert.Equal(t, "Error: boom", FormatError(errors.New("boom")))
	assert.Equal(t, "✓ done", FormatSuccess("done"))
	assert.Equal(t, "⚠ careful", FormatWarning("careful"))
	assert.Equal(t, "-", FormatTime(time.Time{}))
	assert.NotEqual(t, "-", FormatTime(time.Now()))
}
