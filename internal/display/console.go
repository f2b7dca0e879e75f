package display

import "log"

// Console is a Device that writes rows to the process log, used when no
// character display is attached.
type Console struct{}

// WriteRows logs both rows.
func (Console) WriteRows(row0, row1 string) error {
	log.Printf("display: |%s| |%s|", row0, row1)
	return nil
}

// Clear is a no-op for the console.
func (Console) Clear() error {
	return nil
}
