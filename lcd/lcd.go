// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package lcd controls a 1602 character LCD behind a PCF8574-style two-wire
// backpack.
//
// The backpack maps its 8 port pins onto the display's 4-bit data bus and the
// register select, enable and backlight lines, so every display byte travels
// as two bus bytes and a command is several bus writes. The display has no
// readable status register over this interface; the driver instead waits out
// the documented execution time after each instruction.
package lcd

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3"

	"github.com/DrCranium78/Atmel-Studio-Projects/twi"
)

// DefaultAddr is the bus address of an unmodified backpack. The address is
// changed by soldering the A0..A2 jumpers.
const DefaultAddr uint16 = 0x27

// Display shift instructions for use with Command. The names follow the
// datasheet: shifting the display left makes the text move right.
const (
	ShiftDisplayLeft  byte = 0x1c
	ShiftDisplayRight byte = 0x18
)

// Backpack port bits.
const (
	ctrlData      = 0x01 // register select: data instead of command
	ctrlEnable    = 0x04 // the display grabs the bus on the falling edge
	ctrlBacklight = 0x08
)

// Instructions (datasheet instruction table).
const (
	cmdClear        = 0x01
	cmdHome         = 0x02
	cmdDisplayOn    = 0x0c
	cmdDisplayOff   = 0x08
	cmdFunction4Bit = 0x28 // 4-bit interface, dual line, 5x8 font
	cmdSetDDRAMAddr = 0x80
	lineSize        = 0x40 // DDRAM address of the first char of line 2
)

// The 1602 is fixed at two lines of sixteen characters.
const (
	rows = 2
	cols = 16
)

// Instruction execution times. Clear and home take 1.53ms, everything else
// 39µs.
const (
	tPowerOn    = 16 * time.Millisecond // power-on initialization time
	tInit8Bit   = 4100 * time.Microsecond
	tInitSettle = 100 * time.Microsecond
	tLatch      = 1 * time.Microsecond
	tCommand    = 39 * time.Microsecond
	tClearHome  = 1530 * time.Microsecond
	tData       = 37 * time.Microsecond
)

// New returns a driver for the display behind the backpack at addr, enabling
// the bus master if needed.
//
// The display is put through the documented power-on dance: three 8-bit
// function-set latches with settling delays, the switch to 4-bit mode, then
// reconfiguration, clear and display on. The backlight starts off.
func New(m *twi.Master, addr uint16) (*Dev, error) {
	m.Enable()
	d := &Dev{m: m, addr: addr}
	sleep(tPowerOn)
	if err := d.m.Open(d.addr); err != nil {
		d.m.Close()
		return nil, fmt.Errorf("lcd: initializing: %w", err)
	}
	// 8-bit function set three times, then the one-off switch to 4-bit mode.
	// Only after this do instructions travel as two nibbles.
	for _, s := range []struct {
		b byte
		t time.Duration
	}{
		{0x30, tInit8Bit},
		{0x30, tInitSettle},
		{0x30, tInitSettle},
		{0x20, tInitSettle},
	} {
		if err := d.latch(s.b); err != nil {
			d.m.Close()
			return nil, fmt.Errorf("lcd: initializing: %w", err)
		}
		sleep(s.t)
	}
	d.m.Close()
	if err := d.Command(cmdFunction4Bit); err != nil {
		return nil, err
	}
	if err := d.Clear(); err != nil {
		return nil, err
	}
	if err := d.Display(true); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to a 1602 LCD.
type Dev struct {
	m         *twi.Master
	addr      uint16
	backlight byte // ctrlBacklight when on, 0 when off
}

func (d *Dev) String() string {
	return fmt.Sprintf("LCD1602{%#x}", d.addr)
}

// Halt implements conn.Resource. It clears the display and turns the display
// and backlight off.
func (d *Dev) Halt() error {
	if err := d.Clear(); err != nil {
		return err
	}
	if err := d.Display(false); err != nil {
		return err
	}
	return d.Backlight(false)
}

// Clear blanks the display and moves the caret home.
func (d *Dev) Clear() error {
	if err := d.transmit(cmdClear, 0); err != nil {
		return err
	}
	sleep(tClearHome)
	return nil
}

// Home moves the caret to the first position of the first line and undoes any
// display shift. The display contents are unchanged.
func (d *Dev) Home() error {
	if err := d.transmit(cmdHome, 0); err != nil {
		return err
	}
	sleep(tClearHome)
	return nil
}

// Line moves the caret to the first position of the given line.
func (d *Dev) Line(row int) error {
	return d.MoveTo(row, 0)
}

// MoveTo moves the caret to the given position. row is 0 or 1, col 0 through
// 15.
func (d *Dev) MoveTo(row, col int) error {
	if row < 0 || row >= rows || col < 0 || col >= cols {
		return fmt.Errorf("lcd: position (%d, %d) out of range", row, col)
	}
	return d.Command(cmdSetDDRAMAddr | byte(row*lineSize+col))
}

// Backlight turns the backlight on or off. The state is also carried in every
// subsequent transfer, so it persists until changed again.
func (d *Dev) Backlight(on bool) error {
	if on {
		d.backlight = ctrlBacklight
	} else {
		d.backlight = 0
	}
	if err := d.m.Open(d.addr); err != nil {
		d.m.Close()
		return fmt.Errorf("lcd: %w", err)
	}
	err := d.m.WriteByte(d.backlight)
	d.m.Close()
	if err != nil {
		return fmt.Errorf("lcd: %w", err)
	}
	sleep(tCommand)
	return nil
}

// Display turns the display on or off. The contents and the backlight are
// unchanged.
func (d *Dev) Display(on bool) error {
	if on {
		return d.Command(cmdDisplayOn)
	}
	return d.Command(cmdDisplayOff)
}

// Print writes a string at the current caret position. The display does not
// handle line breaks; format and pad the text before printing, e.g. with
// fmt.Sprintf("%-16s", s).
func (d *Dev) Print(s string) error {
	if err := d.m.Open(d.addr); err != nil {
		d.m.Close()
		return fmt.Errorf("lcd: printing: %w", err)
	}
	var err error
	for i := 0; err == nil && i < len(s); i++ {
		err = d.latchByte(s[i], ctrlData)
	}
	if err == nil {
		err = d.m.WriteByte(d.backlight | 0xf0)
	}
	d.m.Close()
	if err != nil {
		return fmt.Errorf("lcd: printing: %w", err)
	}
	sleep(tData)
	return nil
}

// Command transmits a raw instruction, e.g. ShiftDisplayLeft. Consult the
// instruction table in the 1602 datasheet for the bit patterns.
func (d *Dev) Command(cmd byte) error {
	if err := d.transmit(cmd, 0); err != nil {
		return err
	}
	sleep(tCommand)
	return nil
}

// transmit sends one display byte as two nibbles in a single bus transaction
// and leaves the data pins high, the inactive state.
func (d *Dev) transmit(b, ctrl byte) error {
	if err := d.m.Open(d.addr); err != nil {
		d.m.Close()
		return fmt.Errorf("lcd: %w", err)
	}
	err := d.latchByte(b, ctrl)
	if err == nil {
		err = d.m.WriteByte(d.backlight | 0xf0)
	}
	d.m.Close()
	if err != nil {
		return fmt.Errorf("lcd: %w", err)
	}
	return nil
}

// latchByte sends the high then the low nibble of b, each merged with the
// control bits and the backlight state.
func (d *Dev) latchByte(b, ctrl byte) error {
	if err := d.latch(b&0xf0 | ctrl | d.backlight); err != nil {
		return err
	}
	return d.latch(b<<4 | ctrl | d.backlight)
}

// latch places a byte on the port with the enable bit high, then drops
// enable; the display grabs the data on the falling edge.
func (d *Dev) latch(b byte) error {
	if err := d.m.WriteByte(b | ctrlEnable); err != nil {
		return err
	}
	sleep(tLatch)
	return d.m.WriteByte(b &^ ctrlEnable)
}

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
