// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screenlcd emulates a 1602 character LCD on the terminal (stdout)
// using ANSI color codes.
//
// It offers the same surface as package lcd, so code driving a real display
// runs unchanged against the console. Useful while you are waiting for your
// display to come by mail.
package screenlcd

import (
	"bytes"
	"fmt"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3"
)

// Opts represents the options available for this display.
type Opts struct {
	Rows    int
	Cols    int
	Palette *ansi256.Palette

	_ struct{}
}

// DefaultOpts is the geometry of a 1602.
var DefaultOpts = Opts{Rows: 2, Cols: 16}

// New returns a Dev that displays at the console.
//
// Permits local testing of display layouts and animations.
func New(opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	rows, cols := opts.Rows, opts.Cols
	if rows == 0 {
		rows = DefaultOpts.Rows
	}
	if cols == 0 {
		cols = DefaultOpts.Cols
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	d := &Dev{
		w:       colorable.NewColorableStdout(),
		rows:    rows,
		cols:    cols,
		palette: *p,
		on:      true,
		cells:   make([][]byte, rows),
	}
	for i := range d.cells {
		d.cells[i] = bytes.Repeat([]byte{' '}, cols)
	}
	return d
}

// Dev is a character LCD emulator that outputs to the console.
type Dev struct {
	w       io.Writer
	rows    int
	cols    int
	palette ansi256.Palette

	cells     [][]byte
	row, col  int
	backlight bool
	on        bool
	drawn     bool
	buf       bytes.Buffer
}

func (d *Dev) String() string {
	return fmt.Sprintf("ScreenLCD{%dx%d}", d.cols, d.rows)
}

// Halt implements conn.Resource.
//
// It moves past the rendered block and resets the terminal colors so the
// shell prompt is not corrupted.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Clear blanks the display and moves the caret home.
func (d *Dev) Clear() error {
	for i := range d.cells {
		for j := range d.cells[i] {
			d.cells[i][j] = ' '
		}
	}
	d.row, d.col = 0, 0
	return d.refresh()
}

// Home moves the caret to the first position of the first line. The display
// contents are unchanged.
func (d *Dev) Home() error {
	d.row, d.col = 0, 0
	return nil
}

// Line moves the caret to the first position of the given line.
func (d *Dev) Line(row int) error {
	return d.MoveTo(row, 0)
}

// MoveTo moves the caret to the given position.
func (d *Dev) MoveTo(row, col int) error {
	if row < 0 || row >= d.rows || col < 0 || col >= d.cols {
		return fmt.Errorf("screenlcd: position (%d, %d) out of range", row, col)
	}
	d.row, d.col = row, col
	return nil
}

// Print writes a string at the current caret position. Like the real display,
// text running past the end of the line is dropped, not wrapped.
func (d *Dev) Print(s string) error {
	for i := 0; i < len(s) && d.col < d.cols; i++ {
		d.cells[d.row][d.col] = s[i]
		d.col++
	}
	return d.refresh()
}

// Backlight turns the backlight on or off, which changes how the rendered
// block is colored.
func (d *Dev) Backlight(on bool) error {
	d.backlight = on
	return d.refresh()
}

// Display turns the display on or off. An off display renders blank but keeps
// its contents.
func (d *Dev) Display(on bool) error {
	d.on = on
	return d.refresh()
}

// Backlight indicator colors.
var (
	ledOn  = color.NRGBA{0x00, 0xff, 0x00, 0xff}
	ledOff = color.NRGBA{0x40, 0x40, 0x40, 0xff}
)

func (d *Dev) refresh() error {
	// This code is designed to minimize the amount of memory allocated per
	// call. Every frame redraws in place by moving the cursor back up over
	// the previously rendered block.
	d.buf.Reset()
	if d.drawn {
		fmt.Fprintf(&d.buf, "\033[%dA", d.rows)
	}
	for i := 0; i < d.rows; i++ {
		_, _ = d.buf.WriteString("\r\033[0m")
		if d.backlight {
			_, _ = io.WriteString(&d.buf, d.palette.Block(ledOn))
		} else {
			_, _ = io.WriteString(&d.buf, d.palette.Block(ledOff))
		}
		_, _ = d.buf.WriteString("\033[0m")
		if d.on {
			if d.backlight {
				// Black text on a lit green background.
				_, _ = d.buf.WriteString("\033[30;42m")
			} else {
				// Dim text on the unlit panel.
				_, _ = d.buf.WriteString("\033[90;40m")
			}
			_, _ = d.buf.Write(d.cells[i])
		} else {
			for j := 0; j < d.cols; j++ {
				_ = d.buf.WriteByte(' ')
			}
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}
	d.drawn = true
	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ conn.Resource = &Dev{}
var _ fmt.Stringer = &Dev{}
