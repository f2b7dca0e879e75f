package display

import (
	"fmt"
	"strings"
)

// Device is the two-row character display attached to the cabinet. Rows are
// written whole; the device keeps whatever was on the other row.
type Device interface {
	WriteRows(row0, row1 string) error
	Clear() error
}

// Screen renders controller states onto a fixed-width two-row device,
// sanitizing and padding every row to the device width.
type Screen struct {
	dev   Device
	width int
}

// NewScreen wraps a device with the configured row width.
func NewScreen(dev Device, width int) *Screen {
	if width <= 0 {
		width = 16
	}
	return &Screen{dev: dev, width: width}
}

// sanitize replaces anything outside printable ASCII with a space; the
// character ROM only covers 32..126.
func sanitize(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// fit truncates or centers a row to exactly the device width.
func (s *Screen) fit(text string) string {
	text = sanitize(text)
	if len(text) > s.width {
		return text[:s.width]
	}
	pad := s.width - len(text)
	left := pad / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left)
}

func (s *Screen) write(row0, row1 string) {
	if s.dev == nil {
		return
	}
	// Display failures never affect locker state; drop them.
	_ = s.dev.WriteRows(s.fit(row0), s.fit(row1))
}

// Idle shows the resting screen with the current availability count.
func (s *Screen) Idle(available int64) {
	s.write("SMART LOCKER", fmt.Sprintf("Available: %d", available))
}

// LockerOpen shows which locker has been released, with the retry hint the
// cabinet always displayed after an open command.
func (s *Screen) LockerOpen(code string) {
	s.write("LOCKER OPEN", fmt.Sprintf("Locker %s", code))
}

// OTPInput shows the pairing code entry screen with the digits typed so far.
func (s *Screen) OTPInput(digits string) {
	s.write("ENTER CODE", fmt.Sprintf("OTP: %-6s", digits))
}

// OTPError shows the wrong-code screen.
func (s *Screen) OTPError() {
	s.write("WRONG CODE!", "Try again...")
}

// PairSuccess shows the card-linked confirmation.
func (s *Screen) PairSuccess() {
	s.write("SUCCESS", "Card linked")
}

// CardRejected shows the already-registered rejection.
func (s *Screen) CardRejected() {
	s.write("CARD REJECTED", "Already in use")
}
