package hardware

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// i2cSlaveIoctl selects the peer address for subsequent reads and writes on
// a Linux i2c-dev character device.
const i2cSlaveIoctl = 0x0703

// I2CBus is a Bus over a Linux /dev/i2c-* device. The locker bank modules
// answer single-byte SMBus-style transfers.
type I2CBus struct {
	mu   sync.Mutex
	file *os.File
	addr int
}

// OpenI2C opens the given i2c-dev device, typically "/dev/i2c-1".
func OpenI2C(device string) (*I2CBus, error) {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c device %s: %w", device, err)
	}
	return &I2CBus{file: f, addr: -1}, nil
}

func (b *I2CBus) setAddr(addr uint8) error {
	if b.addr == int(addr) {
		return nil
	}
	if err := unix.IoctlSetInt(int(b.file.Fd()), i2cSlaveIoctl, int(addr)); err != nil {
		return fmt.Errorf("failed to select i2c address %#02x: %w", addr, err)
	}
	b.addr = int(addr)
	return nil
}

// ReadByte reads one status byte from the module at addr.
func (b *I2CBus) ReadByte(addr uint8) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.setAddr(addr); err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	if _, err := b.file.Read(buf); err != nil {
		return 0, fmt.Errorf("i2c read from %#02x failed: %w", addr, err)
	}
	return buf[0], nil
}

// WriteByte sends one command byte to the module at addr.
func (b *I2CBus) WriteByte(addr uint8, value uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.setAddr(addr); err != nil {
		return err
	}
	if _, err := b.file.Write([]byte{value}); err != nil {
		return fmt.Errorf("i2c write to %#02x failed: %w", addr, err)
	}
	return nil
}

// Close releases the device.
func (b *I2CBus) Close() error {
	return b.file.Close()
}
