package hardware

import "time"

// Bus is the low-level transport to the locker bank controllers. A physical
// bus permits a single in-flight transaction; the Gateway serializes access,
// implementations only need to move bytes.
type Bus interface {
	ReadByte(addr uint8) (uint8, error)
	WriteByte(addr uint8, value uint8) error
}

// CardReader polls for a contactless card. ReadUID blocks for at most the
// given timeout and returns the card uid in lowercase hex, or an empty string
// when no card was presented.
type CardReader interface {
	ReadUID(timeout time.Duration) (string, error)
}

// Keypad reports the set of currently asserted symbols on the 4x4 grid
// (digits 0-9 plus A, B, C, D, *, #). Debouncing is the caller's concern.
type Keypad interface {
	PressedKeys() []rune
}
