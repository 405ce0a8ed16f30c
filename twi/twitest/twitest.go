// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package twitest provides a scripted implementation of twi.Registers to test
// bus engines and device drivers without hardware.
package twitest

import (
	"github.com/DrCranium78/Atmel-Studio-Projects/twi"
)

// Playback is a twi.Registers whose status codes and received data are
// scripted. Triggered bus events complete immediately: the interrupt flag
// reads as set on every Control read unless Hang is true.
//
// All register writes are recorded so tests can assert on the exact byte and
// control sequence the engine produced.
type Playback struct {
	// Statuses are returned by successive Status reads. Once exhausted the
	// peripheral reports 0xf8, the "no relevant state" code, which matches
	// no expectation.
	Statuses []twi.Status
	// RxData are returned by successive Data reads; 0xff once exhausted, as
	// on a released bus.
	RxData []byte
	// Hang keeps the interrupt flag clear so that every wait times out.
	Hang bool

	// Controls records every control register write.
	Controls []byte
	// Writes records every data register write.
	Writes []byte
	// BitRate is the last programmed bit-rate divisor.
	BitRate byte
	// Pullups is the last programmed pull-up state.
	Pullups bool

	control   byte
	statusIdx int
	dataIdx   int
}

func (p *Playback) SetControl(b byte) {
	p.control = b
	p.Controls = append(p.Controls, b)
}

func (p *Playback) Control() byte {
	if p.Hang {
		return p.control &^ 0x80
	}
	return p.control | 0x80
}

func (p *Playback) SetData(b byte) {
	p.Writes = append(p.Writes, b)
}

func (p *Playback) Data() byte {
	if p.dataIdx < len(p.RxData) {
		b := p.RxData[p.dataIdx]
		p.dataIdx++
		return b
	}
	return 0xff
}

func (p *Playback) Status() byte {
	if p.statusIdx < len(p.Statuses) {
		s := p.Statuses[p.statusIdx]
		p.statusIdx++
		return byte(s)
	}
	return 0xf8
}

func (p *Playback) SetBitRate(b byte) { p.BitRate = b }

func (p *Playback) SetPullups(on bool) { p.Pullups = on }

var _ twi.Registers = &Playback{}
