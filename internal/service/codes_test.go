package service

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueCodes(t *testing.T) {
	issuer := NewCodeIssuer(nil)

	seenCheckin := make(map[string]bool)
	seenBooking := make(map[string]bool)
	for i := 0; i < 200; i++ {
		c, err := issuer.IssueCheckinCode()
		require.NoError(t, err)
		assert.True(t, IsCheckinCode(c), c)
		assert.False(t, IsBookingCode(c))
		assert.False(t, seenCheckin[c])
		seenCheckin[c] = true

		b, err := issuer.IssueBookingCode()
		require.NoError(t, err)
		assert.True(t, IsBookingCode(b), b)
		assert.False(t, IsCheckinCode(b))
		assert.NotContains(t, b[3:], "I")
		assert.NotContains(t, b[3:], "L")
		assert.NotContains(t, b[3:], "O")
		assert.NotContains(t, b[3:], "U")
		seenBooking[b] = true
	}
	assert.Greater(t, len(seenBooking), 190)
}

func TestIssueBookingCodeIsDeterministicForReader(t *testing.T) {
	issuer := &CodeIssuer{rand: bytes.NewReader([]byte{0, 1, 2, 31, 32, 33, 255, 10})}
	code, err := issuer.IssueBookingCode()
	require.NoError(t, err)
	assert.Equal(t, "KB-012Z01ZA", code)
}

func TestIssueCodesShortRead(t *testing.T) {
	issuer := &CodeIssuer{rand: bytes.NewReader([]byte{1, 2})}
	_, err := issuer.IssueCheckinCode()
	assert.Error(t, err)
}

func TestCodeShapes(t *testing.T) {
	assert.True(t, IsCheckinCode("0123456789abcdef0123456789abcdef"))
	assert.False(t, IsCheckinCode("0123456789ABCDEF0123456789ABCDEF"))
	assert.False(t, IsCheckinCode("0123456789abcdef"))
	assert.False(t, IsCheckinCode("0123456789abcdef0123456789abcdeg"))

	assert.True(t, IsBookingCode("KB-7Q2MX9TA"))
	assert.False(t, IsBookingCode("KB-7Q2MX9T"))
	assert.False(t, IsBookingCode("KB-7Q2MX9TI"))
	assert.False(t, IsBookingCode("XX-7Q2MX9TA"))
}
