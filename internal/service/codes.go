package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"kostbook/internal/domain"
	"kostbook/internal/models"
)

const (
	checkinCodeBytes = 16
	checkinCodeLen   = checkinCodeBytes * 2

	bookingCodePrefix = "KB-"
	bookingCodeLen    = 8
	// Crockford base32: no I, L, O or U. 32 symbols, so a byte masked to 5 bits is uniform.
	bookingCodeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// CodeIssuer generates the secret check-in token and the booking code shown to
// people, and resolves scanned tokens back to bookings.
type CodeIssuer struct {
	repo domain.BookingRepository
	rand io.Reader
}

func NewCodeIssuer(repo domain.BookingRepository) *CodeIssuer {
	return &CodeIssuer{repo: repo, rand: rand.Reader}
}

// IssueCheckinCode returns 32 lowercase hex characters (128 bits).
func (c *CodeIssuer) IssueCheckinCode() (string, error) {
	buf := make([]byte, checkinCodeBytes)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IssueBookingCode returns something like KB-7Q2MX9TA.
func (c *CodeIssuer) IssueBookingCode() (string, error) {
	buf := make([]byte, bookingCodeLen)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	var sb strings.Builder
	sb.Grow(len(bookingCodePrefix) + bookingCodeLen)
	sb.WriteString(bookingCodePrefix)
	for _, b := range buf {
		sb.WriteByte(bookingCodeAlphabet[b&31])
	}
	return sb.String(), nil
}

// IsCheckinCode reports whether s has the shape of a check-in code.
func IsCheckinCode(s string) bool {
	if len(s) != checkinCodeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}

// IsBookingCode reports whether s has the shape of a booking code.
func IsBookingCode(s string) bool {
	rest, ok := strings.CutPrefix(s, bookingCodePrefix)
	if !ok || len(rest) != bookingCodeLen {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if strings.IndexByte(bookingCodeAlphabet, rest[i]) < 0 {
			return false
		}
	}
	return true
}

// Resolve finds the live booking a check-in code belongs to. Unknown,
// malformed and closed-out codes all come back as ErrInvalidCode.
func (c *CodeIssuer) Resolve(ctx context.Context, code string) (*models.Booking, error) {
	code = strings.TrimSpace(code)
	if !IsCheckinCode(code) {
		return nil, domain.ErrInvalidCode
	}

	b, err := c.repo.GetBookingByCheckinCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}
	if !b.Status.HoldsRoom() {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidCode, b.Status)
	}
	return b, nil
}
