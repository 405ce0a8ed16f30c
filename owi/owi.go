// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owi implements a software-timed 1-wire bus master on a single GPIO
// pin.
//
// The line is driven open-drain style: the pin is either driven low or
// released to an input with the pull-up enabled, and bit values are encoded
// in how long the line is held low inside a fixed 65µs time slot. All timing
// is done by busy-waiting; every operation blocks the calling goroutine until
// the bus signaling completes. Correctness depends on the goroutine not being
// preempted for longer than the slot tolerances during bit-level operations.
//
// This is an incomplete implementation of the protocol: the enumerating
// search-ROM algorithm is not supported, only single-device addressing
// (ReadROM, MatchROM, SkipROM) and AlarmSearch, which detects that some
// device is alarmed without identifying it.
package owi

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"

	"github.com/DrCranium78/Atmel-Studio-Projects/common"
)

// ROM commands. searchROM is listed for completeness; the search protocol is
// not implemented.
const (
	cmdSearchROM   = 0xf0
	cmdReadROM     = 0x33
	cmdMatchROM    = 0x55
	cmdSkipROM     = 0xcc
	cmdAlarmSearch = 0xec
)

// Slot timings from the 1-wire specification. These are protocol constants,
// not tunables.
const (
	tResetLow       = 480 * time.Microsecond // reset pulse
	tPresenceSample = 60 * time.Microsecond  // release to presence sample
	tResetSettle    = 420 * time.Microsecond // remainder of the 960µs reset slot
	tWrite1Low      = 1 * time.Microsecond
	tWrite1Release  = 64 * time.Microsecond
	tWrite0Low      = 60 * time.Microsecond
	tWrite0Release  = 5 * time.Microsecond
	tReadLow        = 1 * time.Microsecond
	tReadPreSample  = 14 * time.Microsecond // line is sampled 15µs after pulling it low
	tReadPostSample = 45 * time.Microsecond
)

// ROM is the 64-bit identity of a 1-wire device: a family code, a 48-bit
// serial number stored least significant byte first, and a CRC-8 over the
// first seven bytes.
type ROM [8]byte

// Family returns the device family code, e.g. 0x28 for a DS18B20.
func (r ROM) Family() byte { return r[0] }

// Serial returns the 48-bit serial number.
func (r ROM) Serial() uint64 {
	var s uint64
	for i := 6; i >= 1; i-- {
		s = s<<8 | uint64(r[i])
	}
	return s
}

// CRC returns the CRC byte lasered into the device.
func (r ROM) CRC() byte { return r[7] }

// Valid reports whether the CRC byte matches the first seven bytes.
func (r ROM) Valid() bool { return common.CRC8(r[:7]) == r[7] }

func (r ROM) String() string {
	return fmt.Sprintf("%02x-%012x", r.Family(), r.Serial())
}

// New returns a bus master driving the 1-wire line on pin p.
//
// The line idles released, i.e. input with the pull-up enabled. An external
// pull-up resistor on the line is still required for clean rise times; the
// internal pull-up alone is usually too weak.
func New(p gpio.PinIO) (*Dev, error) {
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("owi: configuring %s: %w", p, err)
	}
	return &Dev{p: p}, nil
}

// Dev is a 1-wire bus master on a single GPIO pin.
//
// Dev implements a persistent error model: if the underlying pin fails, it
// places itself into an error state and immediately returns the last error on
// all subsequent calls. A fresh Dev must be created to proceed. Failures on
// the 1-wire bus itself (no presence, bad CRC) are not persistent; every
// operation can be attempted again after a fresh reset.
type Dev struct {
	mu  sync.Mutex // lock for the line while an operation is in progress
	p   gpio.PinIO
	err error // persistent pin error, device will no longer operate
}

func (d *Dev) String() string {
	return fmt.Sprintf("OWI{%s}", d.p)
}

// Halt implements conn.Resource. It releases the line.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.p.In(gpio.PullUp, gpio.NoEdge)
}

// DetectPresence drives a 480µs reset pulse, releases the line and samples it
// 60µs later: any device on the bus answers by holding the line low through
// the sample window. The remainder of the 960µs reset slot is waited out
// before returning.
//
// A false result is a legitimate "nothing on the bus" outcome, not an error.
func (d *Dev) DetectPresence() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	present := d.reset()
	return present, d.err
}

// WriteBit emits a single bit in one 65µs time slot.
func (d *Dev) WriteBit(bit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeBit(bit)
	return d.err
}

// ReadBit generates a read time slot and returns the sampled bit. A device
// transmitting a 0 holds the line low through the sample window.
func (d *Dev) ReadBit() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bit := d.readBit()
	return bit, d.err
}

// WriteByte sends one byte, least significant bit first.
func (d *Dev) WriteByte(b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeByte(b)
	return d.err
}

// ReadByte reads one byte, least significant bit first.
func (d *Dev) ReadByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.readByte()
	return b, d.err
}

// IsBusy reports whether the addressed device is still working on a command,
// e.g. a DS18B20 converting temperature. Devices signal busy by answering
// read slots with 0.
func (d *Dev) IsBusy() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bit := d.readBit()
	return !bit, d.err
}

// ReadROM reads the 64-bit ROM code of the single device on the bus and
// verifies its CRC. Only valid with exactly one device present: with more,
// all devices answer at once and the read collides.
//
// The outcome is three-way: a valid ROM with a nil error, a CRC failure
// (error implements CRCError() bool), or no device present (error implements
// BusError() bool). The returned ROM is the zero value on any failure.
func (d *Dev) ReadROM() (ROM, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reset() {
		if d.err != nil {
			return ROM{}, d.err
		}
		return ROM{}, busError("owi: no device present")
	}
	d.writeByte(cmdReadROM)
	var rom ROM
	for i := range rom {
		rom[i] = d.readByte()
	}
	if d.err != nil {
		return ROM{}, d.err
	}
	if !rom.Valid() {
		return ROM{}, crcError("owi: ROM code failed CRC check")
	}
	return rom, nil
}

// MatchROM addresses the one device with the given ROM code. Only that device
// responds to function commands until the next reset; all others wait. The
// caller must have issued a reset (DetectPresence) first.
func (d *Dev) MatchROM(rom ROM) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeByte(cmdMatchROM)
	for _, b := range rom {
		d.writeByte(b)
	}
	return d.err
}

// SkipROM addresses all devices on the bus simultaneously without sending any
// ROM code. Valid for commands that need no individual reply, such as
// broadcasting a conversion start. A read may follow only if a single device
// is on the bus; with more the replies collide and the engine cannot detect
// it. The caller must have issued a reset (DetectPresence) first.
func (d *Dev) SkipROM() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeByte(cmdSkipROM)
	return d.err
}

// AlarmSearch reports whether any device on the bus has its alarm flag set.
//
// It issues a reset, sends the alarm-search command and reads the first two
// response bits. Devices without an alarm stay silent, so two 1 bits mean no
// alarm. Otherwise the responding device is kept selected by writing its
// first ROM bit back, and true is returned.
//
// This is not the full iterative search: it can detect that some device is
// alarmed but cannot identify or enumerate which. After an alarm search the
// master must restart the transaction sequence with a fresh reset.
func (d *Dev) AlarmSearch() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reset() {
		return false, d.err
	}
	d.writeByte(cmdAlarmSearch)
	first := d.readBit()
	second := d.readBit()
	if d.err != nil {
		return false, d.err
	}
	// An active device places its first ROM bit and then its complement on
	// the line. Identical bits mean nothing answered.
	if first == second {
		return false, nil
	}
	// Write the first bit back to keep the device selected.
	d.writeBit(first)
	return true, d.err
}

// Tx performs a bus transaction: a reset with presence check, then sending
// the bytes in w, then reading len(r) bytes into r.
func (d *Dev) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reset() {
		if d.err != nil {
			return d.err
		}
		return busError("owi: no device present")
	}
	for _, b := range w {
		d.writeByte(b)
	}
	for i := range r {
		r[i] = d.readByte()
	}
	return d.err
}

// pullLine drives the line low.
func (d *Dev) pullLine() {
	if d.err != nil {
		return
	}
	if err := d.p.Out(gpio.Low); err != nil {
		d.err = fmt.Errorf("owi: %w", err)
	}
}

// releaseLine lets the pull-up take the line back high.
func (d *Dev) releaseLine() {
	if d.err != nil {
		return
	}
	if err := d.p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		d.err = fmt.Errorf("owi: %w", err)
	}
}

// sampleLine reads the line level.
func (d *Dev) sampleLine() bool {
	if d.err != nil {
		return true
	}
	return d.p.Read() == gpio.High
}

// reset issues a reset pulse and returns true if a device answered with a
// presence pulse.
func (d *Dev) reset() bool {
	d.pullLine()
	delay(tResetLow)
	d.releaseLine()
	delay(tPresenceSample)
	present := !d.sampleLine()
	delay(tResetSettle)
	return present && d.err == nil
}

func (d *Dev) writeBit(bit bool) {
	if bit {
		// Pull low for 1-15µs, then release for the rest of the slot.
		d.pullLine()
		delay(tWrite1Low)
		d.releaseLine()
		delay(tWrite1Release)
	} else {
		// Pull low for 60-120µs, then release briefly.
		d.pullLine()
		delay(tWrite0Low)
		d.releaseLine()
		delay(tWrite0Release)
	}
}

func (d *Dev) readBit() bool {
	d.pullLine()
	delay(tReadLow)
	d.releaseLine()
	delay(tReadPreSample)
	bit := d.sampleLine()
	delay(tReadPostSample)
	return bit
}

func (d *Dev) writeByte(b byte) {
	for mask := byte(0x01); mask != 0; mask <<= 1 {
		d.writeBit(b&mask != 0)
	}
}

func (d *Dev) readByte() byte {
	var b byte
	for mask := byte(0x01); mask != 0; mask <<= 1 {
		if d.readBit() {
			b |= mask
		}
	}
	return b
}

// delay busy-spins instead of sleeping: the slot tolerances are a few µs,
// far below the scheduler's sleep resolution. Tests replace it.
var delay = busyDelay

func busyDelay(t time.Duration) {
	for start := time.Now(); time.Since(start) < t; {
	}
}

// busError implements error and the onewire BusError marker.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// crcError implements error and a CRCError marker in addition to BusError.
type crcError string

func (e crcError) Error() string  { return string(e) }
func (e crcError) BusError() bool { return true }
func (e crcError) CRCError() bool { return true }

var _ conn.Resource = &Dev{}
