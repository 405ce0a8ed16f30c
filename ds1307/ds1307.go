// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds1307 controls a Dallas Semi / Maxim DS1307 real-time clock over a
// two-wire bus.
//
// The device keeps seconds through year in seven BCD registers and runs from
// a battery when main power is off. Times are interpreted in the local time
// zone; the device itself has no notion of one.
package ds1307

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3"

	"github.com/DrCranium78/Atmel-Studio-Projects/twi"
)

// Addr is the fixed 7-bit bus address of the DS1307.
const Addr uint16 = 0x68

// Register map (datasheet p.8).
const (
	regSeconds = 0x00 // bit 7 is the clock halt flag
	regMinutes = 0x01
	regHours   = 0x02 // bit 6 selects 12-hour mode, bit 5 is PM in that mode
	regDay     = 0x03 // day of week, 1..7
	regDate    = 0x04
	regMonth   = 0x05
	regYear    = 0x06
	regControl = 0x07
)

const (
	chFlag   = 0x80 // clock halt, stops the oscillator
	modeFlag = 0x40 // 12-hour mode
	pmFlag   = 0x20 // PM, only meaningful in 12-hour mode
)

// HourMode selects how the device stores the hour register.
type HourMode int

const (
	// Mode24 stores hours as 00..23.
	Mode24 HourMode = iota
	// Mode12 stores hours as 1..12 with an AM/PM flag.
	Mode12
)

func (m HourMode) String() string {
	if m == Mode12 {
		return "12-hour"
	}
	return "24-hour"
}

// SQWRate selects the square wave output behavior.
type SQWRate byte

const (
	// SQWOff disables the square wave output and drives it low.
	SQWOff SQWRate = 0x00
	// SQW1Hz outputs 1Hz.
	SQW1Hz SQWRate = 0x10
	// SQW4kHz outputs 4.096kHz.
	SQW4kHz SQWRate = 0x11
	// SQW8kHz outputs 8.192kHz.
	SQW8kHz SQWRate = 0x12
	// SQW32kHz outputs 32.768kHz.
	SQW32kHz SQWRate = 0x13
)

// New returns a driver for the DS1307 behind the given bus master.
//
// The master is enabled if it is not already, and the device is probed by
// reading its seconds register. A fresh device powers up with the oscillator
// halted; call SetTime or Run to start it.
func New(m *twi.Master) (*Dev, error) {
	m.Enable()
	d := &Dev{m: m}
	if _, err := d.readRegister(regSeconds); err != nil {
		return nil, fmt.Errorf("ds1307: probing: %w", err)
	}
	return d, nil
}

// Dev is a handle to a DS1307 real-time clock.
type Dev struct {
	m *twi.Master
}

func (d *Dev) String() string {
	return fmt.Sprintf("DS1307{%s}", d.m)
}

// Now reads the current time from the device.
//
// The hour register is decoded according to the mode bit stored in the
// device, so a clock set in 12-hour mode reads back correctly. A halted clock
// still returns the time it stopped at; use IsRunning to tell the two apart.
func (d *Dev) Now() (time.Time, error) {
	var regs [7]byte
	if err := d.readRegisters(regSeconds, regs[:]); err != nil {
		return time.Time{}, fmt.Errorf("ds1307: reading time: %w", err)
	}
	mode := Mode24
	if regs[regHours]&modeFlag != 0 {
		mode = Mode12
	}
	return time.Date(
		2000+bcdToDec(regs[regYear]),
		time.Month(bcdToDec(regs[regMonth])),
		bcdToDec(regs[regDate]),
		decodeHour(regs[regHours], mode),
		bcdToDec(regs[regMinutes]),
		bcdToDec(regs[regSeconds]&^chFlag),
		0, time.Local), nil
}

// SetTime writes t to the device, preserving the clock halt flag and the
// configured hour mode. The device only stores years 2000 through 2099.
func (d *Dev) SetTime(t time.Time) error {
	if y := t.Year(); y < 2000 || y > 2099 {
		return fmt.Errorf("ds1307: year %d out of range", y)
	}
	// Registers 0 and 2 carry the halt flag and the hour mode next to the
	// time itself; read them first so both survive the rewrite.
	var regs [3]byte
	if err := d.readRegisters(regSeconds, regs[:]); err != nil {
		return fmt.Errorf("ds1307: reading configuration: %w", err)
	}
	ch := regs[regSeconds] & chFlag
	mode := Mode24
	if regs[regHours]&modeFlag != 0 {
		mode = Mode12
	}
	err := d.writeRegisters(regSeconds,
		ch|decToBcd(t.Second()),
		decToBcd(t.Minute()),
		encodeHour(t.Hour(), mode),
		dayOfWeek(t.Weekday()),
		decToBcd(t.Day()),
		decToBcd(int(t.Month())),
		decToBcd(t.Year()-2000),
	)
	if err != nil {
		return fmt.Errorf("ds1307: writing time: %w", err)
	}
	return nil
}

// Run starts the oscillator. The stored time is left untouched.
func (d *Dev) Run() error {
	b, err := d.readRegister(regSeconds)
	if err != nil {
		return fmt.Errorf("ds1307: %w", err)
	}
	if b&chFlag == 0 {
		return nil
	}
	if err := d.writeRegisters(regSeconds, b&^chFlag); err != nil {
		return fmt.Errorf("ds1307: %w", err)
	}
	return nil
}

// Halt implements conn.Resource. It stops the oscillator; the device keeps
// the stored time and restarts from it on Run.
func (d *Dev) Halt() error {
	b, err := d.readRegister(regSeconds)
	if err != nil {
		return fmt.Errorf("ds1307: %w", err)
	}
	if b&chFlag != 0 {
		return nil
	}
	if err := d.writeRegisters(regSeconds, b|chFlag); err != nil {
		return fmt.Errorf("ds1307: %w", err)
	}
	return nil
}

// IsRunning reports whether the oscillator is running.
func (d *Dev) IsRunning() (bool, error) {
	b, err := d.readRegister(regSeconds)
	if err != nil {
		return false, fmt.Errorf("ds1307: %w", err)
	}
	return b&chFlag == 0, nil
}

// SetMode re-encodes the hour register in the given mode. The stored time is
// unchanged.
func (d *Dev) SetMode(mode HourMode) error {
	b, err := d.readRegister(regHours)
	if err != nil {
		return fmt.Errorf("ds1307: %w", err)
	}
	cur := Mode24
	if b&modeFlag != 0 {
		cur = Mode12
	}
	if cur == mode {
		return nil
	}
	if err := d.writeRegisters(regHours, encodeHour(decodeHour(b, cur), mode)); err != nil {
		return fmt.Errorf("ds1307: %w", err)
	}
	return nil
}

// SetSquareWave programs the square wave output pin.
func (d *Dev) SetSquareWave(rate SQWRate) error {
	if err := d.writeRegisters(regControl, byte(rate)); err != nil {
		return fmt.Errorf("ds1307: %w", err)
	}
	return nil
}

func (d *Dev) readRegister(reg byte) (byte, error) {
	var buf [1]byte
	if err := d.readRegisters(reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *Dev) readRegisters(reg byte, buf []byte) error {
	if err := d.m.Open(Addr); err != nil {
		d.m.Close()
		return err
	}
	err := d.m.ReadRegisters(reg, buf)
	d.m.Close()
	return err
}

// writeRegisters writes successive registers starting at reg in one burst;
// the device auto-increments its register pointer.
func (d *Dev) writeRegisters(reg byte, data ...byte) error {
	if err := d.m.Open(Addr); err != nil {
		d.m.Close()
		return err
	}
	err := d.m.WriteBytes(append([]byte{reg}, data...))
	d.m.Close()
	return err
}

// decodeHour converts a raw hour register value to 0..23.
func decodeHour(b byte, mode HourMode) int {
	if mode == Mode24 {
		return bcdToDec(b & 0x3f)
	}
	h := bcdToDec(b&0x1f) % 12
	if b&pmFlag != 0 {
		h += 12
	}
	return h
}

// encodeHour converts an hour in 0..23 to the register encoding of the given
// mode.
func encodeHour(hour int, mode HourMode) byte {
	if mode == Mode24 {
		return decToBcd(hour)
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	b := modeFlag | decToBcd(h)
	if hour >= 12 {
		b |= pmFlag
	}
	return b
}

// dayOfWeek maps a time.Weekday to the device's 1..7 with Monday as 1.
func dayOfWeek(w time.Weekday) byte {
	return byte((int(w)+6)%7) + 1
}

func bcdToDec(b byte) int {
	return int(b>>4)*10 + int(b&0x0f)
}

func decToBcd(d int) byte {
	return byte(d/10)<<4 | byte(d%10)
}

var _ conn.Resource = &Dev{}
