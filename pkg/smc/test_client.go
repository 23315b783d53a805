package smc

import (
	"errors"
	"fmt"
)

// WriteRecord is one entry of the TestRegisterIO write journal.
type WriteRecord struct {
	Key   Key
	Value byte
}

// TestRegisterIO is a scriptable in-memory RegisterIO for tests.
//
// Failures are injected per key (FailReadOn, FailWriteOn) or by write
// position (FailWriteAt, 1-based over the lifetime of the client). Every
// accepted write is journaled so tests can assert write and rollback order.
type TestRegisterIO struct {
	Registers map[Key]byte

	FailOpen    bool
	FailReadOn  map[Key]bool
	FailWriteOn map[Key]bool
	// FailWriteAt fails the n-th write issued to this client (1-based).
	// Zero disables position-based failure.
	FailWriteAt int

	Writes     []WriteRecord
	OpenCount  int
	CloseCount int

	open       bool
	writesSeen int
}

func NewTestRegisterIO() *TestRegisterIO {
	regs := make(map[Key]byte, len(RegisterSet()))
	for _, key := range RegisterSet() {
		regs[key] = 0x00
	}
	return &TestRegisterIO{
		Registers:   regs,
		FailReadOn:  make(map[Key]bool),
		FailWriteOn: make(map[Key]bool),
	}
}

func (t *TestRegisterIO) Open() error {
	if t.FailOpen {
		return errors.New("smc test: open refused")
	}
	t.OpenCount++
	t.open = true
	return nil
}

func (t *TestRegisterIO) ReadByte(key Key) (byte, error) {
	if !t.open {
		return 0, ErrNotOpen
	}
	if t.FailReadOn[key] {
		return 0, fmt.Errorf("smc test: read %s refused", key)
	}
	value, ok := t.Registers[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return value, nil
}

func (t *TestRegisterIO) WriteByte(key Key, value byte) error {
	if !t.open {
		return ErrNotOpen
	}
	t.writesSeen++
	if t.FailWriteOn[key] {
		return fmt.Errorf("smc test: write %s refused", key)
	}
	if t.FailWriteAt > 0 && t.writesSeen == t.FailWriteAt {
		return fmt.Errorf("smc test: write #%d refused", t.writesSeen)
	}
	if _, ok := t.Registers[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	t.Registers[key] = value
	t.Writes = append(t.Writes, WriteRecord{Key: key, Value: value})
	return nil
}

func (t *TestRegisterIO) Close() error {
	if t.open {
		t.CloseCount++
	}
	t.open = false
	return nil
}

// ensure interface compliance
var _ RegisterIO = (*TestRegisterIO)(nil)
