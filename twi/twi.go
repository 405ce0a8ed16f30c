// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package twi implements a master-mode driver for a two-wire serial bus
// peripheral of the kind built into AVR microcontrollers.
//
// The peripheral is sequenced through a short transaction state machine:
// every bus event (start condition, address byte, data byte) is triggered by
// a control register write, completes when the peripheral raises its
// interrupt flag, and reports an outcome in the status register that the
// engine validates before moving on. The first unexpected status aborts the
// transaction.
//
// The use of the term "two-wire" rather than I²C indicates an incomplete
// implementation of the specification: arbitration and clock stretching are
// not supported, which is fine for a single master talking to simple devices
// that never stretch the clock.
package twi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Registers is the register-level interface to the two-wire peripheral.
// Implementations map it onto memory-mapped hardware registers or, for
// tests, onto a scripted playback (package twitest).
type Registers interface {
	// SetControl writes the control register. Writing a value with the
	// interrupt flag bit set acknowledges the previous bus event and
	// triggers the next one.
	SetControl(byte)
	// Control reads the control register. The interrupt flag bit reads as
	// set once the triggered bus event has completed.
	Control() byte
	// SetData loads the data register with the next byte to transmit.
	SetData(byte)
	// Data returns the last byte received into the data register.
	Data() byte
	// Status reads the status register. The low bits are the prescaler and
	// reserved field and carry no event information.
	Status() byte
	// SetBitRate sets the bit-rate generator divisor.
	SetBitRate(byte)
	// SetPullups enables or disables the internal pull-ups on the bus lines.
	SetPullups(bool)
}

// Status is a bus event outcome reported by the peripheral, masked against
// the prescaler field.
type Status byte

// Master transmitter and master receiver status codes.
const (
	StatusStart        Status = 0x08 // start condition transmitted
	StatusRepStart     Status = 0x10 // repeated start condition transmitted
	StatusAddrWriteACK Status = 0x18 // SLA+W transmitted, ACK received
	StatusDataWriteACK Status = 0x28 // data transmitted, ACK received
	StatusAddrReadACK  Status = 0x40 // SLA+R transmitted, ACK received
	StatusAddrReadNACK Status = 0x48 // SLA+R transmitted, no ACK received
	StatusDataReadACK  Status = 0x50 // data received, ACK returned
	StatusDataReadNACK Status = 0x58 // data received, NACK returned
)

func (s Status) String() string {
	switch s {
	case StatusStart:
		return "start sent"
	case StatusRepStart:
		return "repeated start sent"
	case StatusAddrWriteACK:
		return "SLA+W ACK"
	case StatusDataWriteACK:
		return "data write ACK"
	case StatusAddrReadACK:
		return "SLA+R ACK"
	case StatusAddrReadNACK:
		return "SLA+R NACK"
	case StatusDataReadACK:
		return "data read ACK"
	case StatusDataReadNACK:
		return "data read NACK"
	default:
		return fmt.Sprintf("status %#02x", byte(s))
	}
}

// statusMask strips the prescaler and reserved bits from a raw status
// register value.
const statusMask = 0xf8

// Control register values.
//
//	bit    7     6     5     4     3    2    1    0
//	name  INT   EA    STA   STO   WC   EN   -    IE
const (
	ctrlIntFlag  byte = 0x80 // interrupt flag, set on event completion
	ctrlEnable   byte = 0x45 // acknowledge enable, module enable, interrupt enable
	ctrlStart    byte = 0xa4 // trigger a (repeated) start condition
	ctrlStop     byte = 0x94 // trigger a stop condition
	ctrlTransmit byte = 0x84 // start transmission of the data register
	ctrlACK      byte = 0xc4 // receive a byte and return ACK
	ctrlNACK     byte = 0x84 // receive a byte and return NACK
)

var (
	// ErrTimeout means the peripheral never reported completion of a bus
	// event, e.g. because the bus is electrically stuck.
	ErrTimeout = errors.New("twi: timeout waiting for bus event")
	// ErrDisabled means an operation was attempted while the peripheral is
	// disabled.
	ErrDisabled = errors.New("twi: peripheral is disabled")
)

// StatusError reports that the peripheral answered a bus event with a status
// code other than the one the current transaction step requires.
type StatusError struct {
	Op   string
	Got  Status
	Want Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twi: %s: got %s, want %s", e.Op, e.Got, e.Want)
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// ClockFreq is the frequency of the core clock feeding the bit-rate
	// generator.
	ClockFreq physic.Frequency
	// BusFreq is the target bus frequency.
	BusFreq physic.Frequency
	// WaitTimeout bounds every busy-wait on the peripheral interrupt flag.
	WaitTimeout time.Duration
}

// DefaultOpts is the recommended default options: a 16MHz core clock and the
// 100kbps standard mode bus rate.
var DefaultOpts = Opts{
	ClockFreq:   16 * physic.MegaHertz,
	BusFreq:     100 * physic.KiloHertz,
	WaitTimeout: 10 * time.Millisecond,
}

// New returns a master driving the two-wire peripheral behind r.
func New(r Registers, opts *Opts) *Master {
	if opts == nil {
		opts = &DefaultOpts
	}
	m := &Master{
		regs:    r,
		clock:   opts.ClockFreq,
		bus:     opts.BusFreq,
		timeout: opts.WaitTimeout,
	}
	if m.clock == 0 {
		m.clock = DefaultOpts.ClockFreq
	}
	if m.bus == 0 {
		m.bus = DefaultOpts.BusFreq
	}
	if m.timeout == 0 {
		m.timeout = DefaultOpts.WaitTimeout
	}
	return m
}

// Master is a single-master two-wire bus engine.
//
// Every operation is synchronous: it blocks until the peripheral reports the
// bus event complete or the wait times out. Master does not retry and does
// not close a failed transaction on its own; after an error the bus is left
// where the failure happened and the caller decides whether to issue Close
// and start over.
//
// Master also implements i2c.Bus for use with periph-style device drivers.
type Master struct {
	mu      sync.Mutex
	regs    Registers
	clock   physic.Frequency
	bus     physic.Frequency
	timeout time.Duration
	enabled bool
	addr    uint16 // address of the open connection, for repeated start
}

func (m *Master) String() string {
	return fmt.Sprintf("TWI{%s}", m.bus)
}

// Enable activates the internal pull-ups on the bus lines, programs the
// bit-rate divisor and enables the peripheral. Calling Enable on an enabled
// master is a no-op.
func (m *Master) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return
	}
	m.enabled = true
	m.regs.SetPullups(true)
	m.regs.SetBitRate(m.divisor())
	m.regs.SetControl(ctrlEnable)
}

// Disable deactivates the peripheral and releases the pull-ups. Calling
// Disable on a disabled master is a no-op.
func (m *Master) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.enabled = false
	m.regs.SetControl(0)
	m.regs.SetPullups(false)
}

// IsEnabled reports whether the peripheral is enabled.
func (m *Master) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Open generates a start condition and addresses the device for writing.
//
// On failure the transaction is aborted where it stands: no stop condition is
// generated and the bus stays claimed. The caller owns recovery, typically by
// calling Close and retrying from the top.
func (m *Master) Open(addr uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open(addr)
}

// WriteByte transmits one byte on the open connection. Repeated calls write
// successive bytes; most devices auto-increment an internal register pointer,
// a property of the device, not of the bus.
func (m *Master) WriteByte(b byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeByte(b)
}

// WriteBytes transmits the bytes in p, stopping at the first failure.
func (m *Master) WriteBytes(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range p {
		if err := m.writeByte(b); err != nil {
			return err
		}
	}
	return nil
}

// ReadRegister reads one byte from the given device register.
func (m *Master) ReadRegister(reg byte) (byte, error) {
	var buf [1]byte
	if err := m.ReadRegisters(reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadRegisters reads len(buf) bytes starting at the given device register.
//
// The register pointer is written on the open connection, then the device is
// re-addressed for reading with a repeated start. The first len(buf)-1 bytes
// are acknowledged; the final byte is answered with NACK to tell the device
// to stop sending. On failure, bytes already read remain in buf.
func (m *Master) ReadRegisters(reg byte, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(buf) == 0 {
		return nil
	}
	if err := m.selectRegister(reg); err != nil {
		return err
	}
	return m.readBytes(buf)
}

// Close generates a stop condition, releasing the bus. Stop conditions are
// not acknowledged, so Close always succeeds.
func (m *Master) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.close()
}

// Tx implements i2c.Bus: it writes w to the device at addr, then reads
// len(r) bytes with a repeated start. The last byte of w selects the
// register to read from, so a read requires a non-empty w on this
// peripheral.
//
// Unlike the lower-level operations, Tx owns the whole transaction and
// generates the stop condition itself, also on failure.
func (m *Master) Tx(addr uint16, w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return ErrDisabled
	}
	if len(r) > 0 && len(w) == 0 {
		return errors.New("twi: a read transaction must select a register first")
	}
	err := m.open(addr)
	for i := 0; err == nil && i < len(w); i++ {
		if len(r) > 0 && i == len(w)-1 {
			// The last written byte is the register pointer; follow it with
			// the repeated start and SLA+R.
			err = m.selectRegister(w[i])
		} else {
			err = m.writeByte(w[i])
		}
	}
	if err == nil && len(r) > 0 {
		err = m.readBytes(r)
	}
	m.close()
	return err
}

// SetSpeed implements i2c.Bus. The bit rate is programmed during Enable, so
// the speed can only be changed while the peripheral is disabled.
func (m *Master) SetSpeed(f physic.Frequency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return errors.New("twi: cannot change speed while enabled")
	}
	if f <= 0 || f > m.clock/16 {
		return fmt.Errorf("twi: unsupported bus frequency %s", f)
	}
	m.bus = f
	return nil
}

func (m *Master) open(addr uint16) error {
	if !m.enabled {
		return ErrDisabled
	}
	if addr > 0x7f {
		return fmt.Errorf("twi: invalid 7-bit address %#x", addr)
	}
	m.addr = addr
	if err := m.step("start", ctrlStart, StatusStart); err != nil {
		return err
	}
	m.regs.SetData(byte(addr << 1))
	return m.step("open", ctrlTransmit, StatusAddrWriteACK)
}

func (m *Master) writeByte(b byte) error {
	if !m.enabled {
		return ErrDisabled
	}
	m.regs.SetData(b)
	return m.step("write", ctrlTransmit, StatusDataWriteACK)
}

// selectRegister transmits the register pointer, then re-addresses the open
// device for reading: repeated start followed by SLA+R.
func (m *Master) selectRegister(reg byte) error {
	if err := m.writeByte(reg); err != nil {
		return err
	}
	if err := m.step("repeated start", ctrlStart, StatusRepStart); err != nil {
		return err
	}
	m.regs.SetData(byte(m.addr<<1) | 0x01)
	return m.step("address read", ctrlTransmit, StatusAddrReadACK)
}

func (m *Master) readBytes(buf []byte) error {
	for i := 0; i < len(buf)-1; i++ {
		if err := m.step("read", ctrlACK, StatusDataReadACK); err != nil {
			return err
		}
		buf[i] = m.regs.Data()
	}
	// NACK the final byte to stop the device from sending more.
	if err := m.step("read", ctrlNACK, StatusDataReadNACK); err != nil {
		return err
	}
	buf[len(buf)-1] = m.regs.Data()
	return nil
}

func (m *Master) close() {
	if !m.enabled {
		return
	}
	m.regs.SetControl(ctrlStop)
}

// step triggers a bus event, waits for it to complete and validates the
// reported status code.
func (m *Master) step(op string, ctrl byte, want Status) error {
	m.regs.SetControl(ctrl)
	got, err := m.waitReady()
	if err != nil {
		return err
	}
	if got != want {
		return &StatusError{Op: op, Got: got, Want: want}
	}
	return nil
}

// waitReady busy-waits for the interrupt flag with a deadline and returns
// the masked status code.
func (m *Master) waitReady() (Status, error) {
	deadline := time.Now().Add(m.timeout)
	for m.regs.Control()&ctrlIntFlag == 0 {
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
	}
	return Status(m.regs.Status() & statusMask), nil
}

// divisor computes the bit-rate generator divisor for the configured clock
// and bus frequencies.
func (m *Master) divisor() byte {
	d := (int64(m.clock)/int64(m.bus) - 16) / 2
	if d < 0 {
		d = 0
	}
	if d > 0xff {
		d = 0xff
	}
	return byte(d)
}

var _ i2c.Bus = &Master{}
