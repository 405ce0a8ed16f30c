// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 controls a Dallas Semi / Maxim DS18B20 temperature sensor
// over a 1-wire bus.
package ds18b20

import (
	"errors"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"

	"github.com/DrCranium78/Atmel-Studio-Projects/common"
	"github.com/DrCranium78/Atmel-Studio-Projects/owi"
)

// Function commands (datasheet p.11).
const (
	cmdConvert         = 0x44
	cmdWriteScratchpad = 0x4e
	cmdReadScratchpad  = 0xbe
)

// Bus is the subset of the 1-wire master the driver needs. *owi.Dev
// implements it.
type Bus interface {
	DetectPresence() (bool, error)
	SkipROM() error
	MatchROM(rom owi.ROM) error
	WriteByte(b byte) error
	ReadByte() (byte, error)
	IsBusy() (bool, error)
	ReadROM() (owi.ROM, error)
	AlarmSearch() (bool, error)
}

// New returns a driver for a DS18B20 on the given bus.
//
// resolutionBits must be in the range 9..12 and determines how many bits of
// precision the readings have. The resolution affects the conversion time:
// 9bits:94ms, 10bits:188ms, 11bits:375ms, 12bits:750ms. The device is
// reconfigured only when its current resolution differs.
//
// The device is addressed by skipping ROM selection until UseROM is called,
// which is only correct with a single device on the bus.
func New(b Bus, resolutionBits int) (*Dev, error) {
	if resolutionBits < 9 || resolutionBits > 12 {
		return nil, errors.New("ds18b20: invalid resolutionBits")
	}
	d := &Dev{bus: b, resolution: resolutionBits}
	// Reading the scratchpad tells us whether we can talk to the device at
	// all and how it is configured.
	spad, err := d.readScratchpad()
	if err != nil {
		return nil, err
	}
	if int(spad[4]>>5) != resolutionBits-9 {
		if err := d.writeScratchpad(spad[2], spad[3], configByte(resolutionBits)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Dev is a handle to a DS18B20 temperature sensor on a 1-wire bus.
type Dev struct {
	bus        Bus
	resolution int // resolution in bits (9..12)
	rom        owi.ROM
	useROM     bool
}

func (d *Dev) String() string {
	if d.useROM {
		return "DS18B20{" + d.rom.String() + "}"
	}
	return "DS18B20{skip}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// UseROM makes the driver address the device with the given ROM code instead
// of skipping ROM selection, which is required as soon as the bus carries
// more than one device.
func (d *Dev) UseROM(rom owi.ROM) {
	d.rom = rom
	d.useROM = true
}

// ClearROM reverts to skip-ROM addressing.
func (d *Dev) ClearROM() {
	d.rom = owi.ROM{}
	d.useROM = false
}

// ReadROM reads the 64-bit ROM code of the device. Only valid with a single
// device on the bus.
func (d *Dev) ReadROM() (owi.ROM, error) {
	return d.bus.ReadROM()
}

// IsConnected reports whether any device answers the presence check.
func (d *Dev) IsConnected() (bool, error) {
	return d.bus.DetectPresence()
}

// StartConversion triggers a temperature conversion and returns without
// waiting for it. The command is always broadcast with skip-ROM, so every
// sensor on the bus converts at once; busy polling and the conversion timing
// budget still apply per device.
func (d *Dev) StartConversion() error {
	present, err := d.bus.DetectPresence()
	if err != nil {
		return err
	}
	if !present {
		return busError("ds18b20: no device present")
	}
	if err := d.bus.SkipROM(); err != nil {
		return err
	}
	return d.bus.WriteByte(cmdConvert)
}

// Temperature performs a full measurement: it starts a conversion, polls the
// bus until the device reports the conversion done and reads the result.
//
// It blocks for the conversion time of the configured resolution, up to
// roughly 750ms at 12 bits.
func (d *Dev) Temperature() (physic.Temperature, error) {
	if err := d.StartConversion(); err != nil {
		return 0, err
	}
	if err := d.waitConversion(); err != nil {
		return 0, err
	}
	return d.LastTemp()
}

// LastTemp reads the temperature resulting from the last conversion without
// starting a new one.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	spad, err := d.readScratchpad()
	if err != nil {
		return 0, err
	}
	rawTemp := int16(spad[1])<<8 | int16(spad[0])
	// rawTemp has 4 fractional bits, datasheet p.4.
	c := physic.Temperature(rawTemp)*physic.Kelvin/16 + physic.ZeroCelsius

	// The device powers up with a value of 85°C, so if we read that, odds are
	// very high that either no conversion was performed or that the conversion
	// failed due to lack of power. This prevents reading a temp of exactly
	// 85°C, but that seems like the right tradeoff.
	if c == physic.ZeroCelsius+85*physic.Celsius {
		return 0, busError("ds18b20: has not performed a temperature conversion (insufficient pull-up?)")
	}
	return c, nil
}

// SetResolution reconfigures the conversion resolution, preserving the alarm
// thresholds already stored in the device.
func (d *Dev) SetResolution(resolutionBits int) error {
	if resolutionBits < 9 || resolutionBits > 12 {
		return errors.New("ds18b20: invalid resolutionBits")
	}
	spad, err := d.readScratchpad()
	if err != nil {
		return err
	}
	if int(spad[4]>>5) != resolutionBits-9 {
		if err := d.writeScratchpad(spad[2], spad[3], configByte(resolutionBits)); err != nil {
			return err
		}
	}
	d.resolution = resolutionBits
	return nil
}

// SetAlarms stores the alarm thresholds in degrees Celsius, preserving the
// configured resolution. The device raises its alarm flag when a conversion
// result is below low or above high. Only the integer part of a conversion is
// compared, datasheet p.9.
func (d *Dev) SetAlarms(low, high int) error {
	if low < -55 || high > 125 || low > high {
		return errors.New("ds18b20: invalid alarm thresholds")
	}
	spad, err := d.readScratchpad()
	if err != nil {
		return err
	}
	return d.writeScratchpad(byte(int8(high)), byte(int8(low)), spad[4])
}

// CheckAlarm reports whether any device on the bus has an active alarm. It
// cannot tell which one; with multiple sensors, follow up by reading each
// device's scratchpad.
func (d *Dev) CheckAlarm() (bool, error) {
	return d.bus.AlarmSearch()
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	t, err := d.Temperature()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
func (d *Dev) SenseContinuous(time.Duration) (<-chan physic.Env, error) {
	return nil, errors.New("ds18b20: not implemented")
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

// address resets the bus and selects the device, by ROM code when one is
// configured, by skip-ROM otherwise.
func (d *Dev) address() error {
	present, err := d.bus.DetectPresence()
	if err != nil {
		return err
	}
	if !present {
		return busError("ds18b20: no device present")
	}
	if d.useROM {
		return d.bus.MatchROM(d.rom)
	}
	return d.bus.SkipROM()
}

// waitConversion polls the bus until the device stops answering busy. The
// deadline is twice the nominal conversion time of the configured resolution.
func (d *Dev) waitConversion() error {
	limit := 2 * conversionTime(d.resolution)
	for elapsed := time.Duration(0); elapsed < limit; elapsed += conversionPoll {
		busy, err := d.bus.IsBusy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		sleep(conversionPoll)
	}
	return busError("ds18b20: conversion did not complete in time")
}

// readScratchpad reads the 9 bytes of scratchpad and checks the CRC. It
// returns the 8 bytes of scratchpad data (excluding the CRC byte).
func (d *Dev) readScratchpad() ([]byte, error) {
	if err := d.address(); err != nil {
		return nil, err
	}
	if err := d.bus.WriteByte(cmdReadScratchpad); err != nil {
		return nil, err
	}
	var spad [9]byte
	for i := range spad {
		b, err := d.bus.ReadByte()
		if err != nil {
			return nil, err
		}
		spad[i] = b
	}
	if common.CRC8(spad[:8]) != spad[8] {
		// All ones means nothing drove the line, i.e. the addressed device is
		// not answering at all.
		for _, s := range spad {
			if s != 0xff {
				return nil, crcError("ds18b20: incorrect scratchpad CRC")
			}
		}
		return nil, busError("ds18b20: device did not respond")
	}
	return spad[:8], nil
}

// writeScratchpad writes the TH and TL alarm registers and the configuration
// register. All three must be written together, datasheet p.11.
func (d *Dev) writeScratchpad(th, tl, config byte) error {
	if err := d.address(); err != nil {
		return err
	}
	for _, b := range []byte{cmdWriteScratchpad, th, tl, config} {
		if err := d.bus.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

// configByte encodes a resolution into the configuration register value,
// datasheet p.8.
func configByte(resolutionBits int) byte {
	return byte((resolutionBits-9)<<5) | 0x1f
}

// conversionTime is the nominal conversion time for a resolution:
// 9bits:94ms, 10bits:188ms, 11bits:376ms, 12bits:752ms, datasheet p.6.
func conversionTime(bits int) time.Duration {
	return (94 << uint(bits-9)) * time.Millisecond
}

const conversionPoll = 10 * time.Millisecond

// busError implements error and the onewire BusError marker.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// crcError implements error and a CRCError marker in addition to BusError.
type crcError string

func (e crcError) Error() string  { return string(e) }
func (e crcError) BusError() bool { return true }
func (e crcError) CRCError() bool { return true }

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
