// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package digitalclock implements a small clock application driven by a
// button, a real-time clock and a 1602-style character display.
//
// The engine is a two-state machine. In the default state the display shows
// the time with the backlight off. A button press switches to the active
// state: the backlight comes on and a date line is added. The active state
// falls back to the default when no press arrives within the timeout.
//
// The engine does no I/O scheduling of its own; the caller pumps it by
// calling Update with the elapsed milliseconds, typically measured with
// package timer. Lines are redrawn only when their text changes, keeping bus
// traffic to the display minimal.
package digitalclock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Display is the output surface. Both lcd.Dev and screenlcd.Dev implement it.
type Display interface {
	Clear() error
	MoveTo(row, col int) error
	Print(s string) error
	Backlight(on bool) error
}

// Clock is the time source. ds1307.Dev implements it.
type Clock interface {
	Now() (time.Time, error)
}

type state int

const (
	stateDefault state = iota
	stateActive
)

// Layout of the two display lines.
const (
	timeRow    = 0
	timeCol    = 4 // centers "15:04:05" on 16 columns
	dateRow    = 1
	timeLayout = "15:04:05"
	dateLayout = "Mon 02 Jan 2006"
	blankLine  = "                "
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// ActiveTimeout is how long the active state lasts without a button
	// press.
	ActiveTimeout time.Duration

	_ struct{}
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{ActiveTimeout: 5 * time.Second}

// New returns an engine in the default state with a cleared display and the
// backlight off.
func New(disp Display, clock Clock, opts *Opts) (*Engine, error) {
	if disp == nil || clock == nil {
		return nil, errors.New("digitalclock: display and clock are required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	timeout := opts.ActiveTimeout
	if timeout == 0 {
		timeout = DefaultOpts.ActiveTimeout
	}
	e := &Engine{disp: disp, clock: clock, timeout: timeout}
	if err := disp.Clear(); err != nil {
		return nil, err
	}
	if err := disp.Backlight(false); err != nil {
		return nil, err
	}
	return e, nil
}

// Engine drives the display from the clock.
type Engine struct {
	mu      sync.Mutex
	disp    Display
	clock   Clock
	timeout time.Duration

	state     state
	remaining time.Duration
	pressed   bool

	// Last rendered text per line, to skip unchanged redraws.
	lastTime string
	lastDate string
}

func (e *Engine) String() string {
	return "DigitalClock"
}

// ButtonPressed notifies the engine of a button press. It only records the
// press; the effect is applied on the next Update. Safe to call from any
// goroutine, e.g. a GPIO edge handler.
func (e *Engine) ButtonPressed() {
	e.mu.Lock()
	e.pressed = true
	e.mu.Unlock()
}

// Active reports whether the engine is in the active state.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateActive
}

// Update advances the state machine by dtMillis milliseconds and redraws the
// lines whose text changed.
//
// A recorded button press activates the engine, or refreshes the timeout when
// it is already active. With no press, the active state counts down and falls
// back to the default state when the timeout expires.
func (e *Engine) Update(dtMillis int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pressed {
		e.pressed = false
		if e.state == stateDefault {
			if err := e.enterActive(); err != nil {
				return err
			}
		} else {
			e.remaining = e.timeout
		}
	} else if e.state == stateActive {
		e.remaining -= time.Duration(dtMillis) * time.Millisecond
		if e.remaining <= 0 {
			if err := e.enterDefault(); err != nil {
				return err
			}
		}
	}
	return e.render()
}

func (e *Engine) enterActive() error {
	e.state = stateActive
	e.remaining = e.timeout
	e.lastDate = ""
	return e.disp.Backlight(true)
}

func (e *Engine) enterDefault() error {
	e.state = stateDefault
	e.lastDate = ""
	if err := e.disp.Backlight(false); err != nil {
		return err
	}
	if err := e.disp.MoveTo(dateRow, 0); err != nil {
		return err
	}
	return e.disp.Print(blankLine)
}

func (e *Engine) render() error {
	now, err := e.clock.Now()
	if err != nil {
		return err
	}
	t := now.Format(timeLayout)
	if t != e.lastTime {
		if err := e.disp.MoveTo(timeRow, timeCol); err != nil {
			return err
		}
		if err := e.disp.Print(t); err != nil {
			return err
		}
		e.lastTime = t
	}
	if e.state != stateActive {
		return nil
	}
	d := fmt.Sprintf("%-16s", now.Format(dateLayout))
	if d != e.lastDate {
		if err := e.disp.MoveTo(dateRow, 0); err != nil {
			return err
		}
		if err := e.disp.Print(d); err != nil {
			return err
		}
		e.lastDate = d
	}
	return nil
}
