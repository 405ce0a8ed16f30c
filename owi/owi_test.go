// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// scriptPin is a gpio.PinIO whose successive Read results are scripted. It
// records every drive and release of the line: 'l' driven low, 'h' driven
// high, 'r' released to input.
type scriptPin struct {
	levels []gpio.Level
	reads  int
	ops    []byte
	outErr error
}

func (p *scriptPin) String() string   { return "script" }
func (p *scriptPin) Halt() error      { return nil }
func (p *scriptPin) Name() string     { return "script" }
func (p *scriptPin) Number() int      { return 0 }
func (p *scriptPin) Function() string { return "In/Out" }

func (p *scriptPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.ops = append(p.ops, 'r')
	return nil
}

func (p *scriptPin) Read() gpio.Level {
	if p.reads < len(p.levels) {
		l := p.levels[p.reads]
		p.reads++
		return l
	}
	return gpio.High
}

func (p *scriptPin) WaitForEdge(timeout time.Duration) bool { return false }
func (p *scriptPin) Pull() gpio.Pull                        { return gpio.PullUp }
func (p *scriptPin) DefaultPull() gpio.Pull                 { return gpio.PullUp }

func (p *scriptPin) Out(l gpio.Level) error {
	if p.outErr != nil {
		return p.outErr
	}
	if l == gpio.Low {
		p.ops = append(p.ops, 'l')
	} else {
		p.ops = append(p.ops, 'h')
	}
	return nil
}

func (p *scriptPin) PWM(d gpio.Duty, f physic.Frequency) error {
	return errors.New("not supported")
}

var _ gpio.PinIO = &scriptPin{}

// levelsForBytes expands bytes into the per-bit read levels a device would
// place on the line, least significant bit first.
func levelsForBytes(bs ...byte) []gpio.Level {
	var ls []gpio.Level
	for _, b := range bs {
		for mask := byte(0x01); mask != 0; mask <<= 1 {
			if b&mask != 0 {
				ls = append(ls, gpio.High)
			} else {
				ls = append(ls, gpio.Low)
			}
		}
	}
	return ls
}

var (
	write1Slot = []time.Duration{tWrite1Low, tWrite1Release}
	write0Slot = []time.Duration{tWrite0Low, tWrite0Release}
)

// captureDelays replaces the busy-wait with a recorder for the duration of
// the test.
func captureDelays(t *testing.T) *[]time.Duration {
	t.Helper()
	var ds []time.Duration
	delay = func(d time.Duration) { ds = append(ds, d) }
	t.Cleanup(func() { delay = func(time.Duration) {} })
	return &ds
}

func TestDetectPresence(t *testing.T) {
	p := &scriptPin{levels: []gpio.Level{gpio.Low}}
	d, err := New(p)
	if err != nil {
		t.Fatal(err)
	}
	present, err := d.DetectPresence()
	if err != nil {
		t.Fatal(err)
	}
	if !present {
		t.Error("device held the line low, expected presence")
	}
	// New releases the line, then the reset slot drives low and releases.
	if want := []byte{'r', 'l', 'r'}; !reflect.DeepEqual(p.ops, want) {
		t.Errorf("line ops = %q, want %q", p.ops, want)
	}
}

func TestDetectPresence_absent(t *testing.T) {
	p := &scriptPin{levels: []gpio.Level{gpio.High}}
	d, _ := New(p)
	present, err := d.DetectPresence()
	if err != nil {
		t.Fatal(err)
	}
	if present {
		t.Error("line stayed high, expected no presence")
	}
}

func TestWriteByte_slots(t *testing.T) {
	ds := captureDelays(t)
	d, _ := New(&scriptPin{})
	if err := d.WriteByte(0xcc); err != nil {
		t.Fatal(err)
	}
	// 0xcc = 0b11001100, sent lsb first: 0,0,1,1,0,0,1,1.
	var want []time.Duration
	for _, bit := range []int{0, 0, 1, 1, 0, 0, 1, 1} {
		if bit == 1 {
			want = append(want, write1Slot...)
		} else {
			want = append(want, write0Slot...)
		}
	}
	if !reflect.DeepEqual(*ds, want) {
		t.Errorf("slot timing = %v, want %v", *ds, want)
	}
}

func TestReadByte(t *testing.T) {
	p := &scriptPin{levels: levelsForBytes(0x33)}
	d, _ := New(p)
	b, err := d.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if b != 0x33 {
		t.Errorf("ReadByte = %#x, want 0x33", b)
	}
}

func TestReadBit_slotTiming(t *testing.T) {
	ds := captureDelays(t)
	d, _ := New(&scriptPin{levels: []gpio.Level{gpio.High}})
	bit, err := d.ReadBit()
	if err != nil {
		t.Fatal(err)
	}
	if !bit {
		t.Error("line high at sample, expected 1")
	}
	want := []time.Duration{tReadLow, tReadPreSample, tReadPostSample}
	if !reflect.DeepEqual(*ds, want) {
		t.Errorf("slot timing = %v, want %v", *ds, want)
	}
}

func TestIsBusy(t *testing.T) {
	d, _ := New(&scriptPin{levels: []gpio.Level{gpio.Low, gpio.High}})
	busy, err := d.IsBusy()
	if err != nil {
		t.Fatal(err)
	}
	if !busy {
		t.Error("device holding read slots low is busy")
	}
	busy, err = d.IsBusy()
	if err != nil {
		t.Fatal(err)
	}
	if busy {
		t.Error("device answering 1 is ready")
	}
}

var fixtureROM = ROM{0x28, 0x6e, 0x38, 0xdd, 0x06, 0x00, 0x00, 0x39}

func TestReadROM(t *testing.T) {
	levels := append([]gpio.Level{gpio.Low}, levelsForBytes(fixtureROM[:]...)...)
	d, _ := New(&scriptPin{levels: levels})
	rom, err := d.ReadROM()
	if err != nil {
		t.Fatal(err)
	}
	if rom != fixtureROM {
		t.Errorf("ReadROM = %v, want %v", rom, fixtureROM)
	}
	if rom.Family() != 0x28 {
		t.Errorf("Family = %#x, want 0x28", rom.Family())
	}
	if rom.Serial() != 0x06dd386e {
		t.Errorf("Serial = %#x, want 0x06dd386e", rom.Serial())
	}
	if s := rom.String(); s != "28-000006dd386e" {
		t.Errorf("String = %q", s)
	}
	if !rom.Valid() {
		t.Error("fixture ROM must have a valid CRC")
	}
}

func TestReadROM_crcMismatch(t *testing.T) {
	bad := fixtureROM
	bad[7] = 0x38
	levels := append([]gpio.Level{gpio.Low}, levelsForBytes(bad[:]...)...)
	d, _ := New(&scriptPin{levels: levels})
	rom, err := d.ReadROM()
	if err == nil {
		t.Fatal("expected CRC error")
	}
	var ce interface{ CRCError() bool }
	if !errors.As(err, &ce) || !ce.CRCError() {
		t.Errorf("error %v does not mark a CRC failure", err)
	}
	if rom != (ROM{}) {
		t.Errorf("ROM must be zero on failure, got %v", rom)
	}
}

func TestReadROM_noDevice(t *testing.T) {
	d, _ := New(&scriptPin{})
	_, err := d.ReadROM()
	if err == nil {
		t.Fatal("expected bus error")
	}
	var be interface{ BusError() bool }
	if !errors.As(err, &be) || !be.BusError() {
		t.Errorf("error %v does not mark a bus error", err)
	}
	var ce interface{ CRCError() bool }
	if errors.As(err, &ce) {
		t.Errorf("no-presence must be distinct from a CRC failure: %v", err)
	}
}

func TestAlarmSearch(t *testing.T) {
	tests := []struct {
		name      string
		bits      []gpio.Level
		alarm     bool
		lastSlots []time.Duration // the re-asserted bit, nil when silent
	}{
		{"no response", []gpio.Level{gpio.High, gpio.High}, false, nil},
		{"first bit 1", []gpio.Level{gpio.High, gpio.Low}, true, write1Slot},
		{"first bit 0", []gpio.Level{gpio.Low, gpio.High}, true, write0Slot},
		{"collision reads as silence", []gpio.Level{gpio.Low, gpio.Low}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := captureDelays(t)
			levels := append([]gpio.Level{gpio.Low}, tt.bits...)
			d, _ := New(&scriptPin{levels: levels})
			alarm, err := d.AlarmSearch()
			if err != nil {
				t.Fatal(err)
			}
			if alarm != tt.alarm {
				t.Errorf("alarm = %t, want %t", alarm, tt.alarm)
			}
			if tt.lastSlots != nil {
				got := (*ds)[len(*ds)-len(tt.lastSlots):]
				if !reflect.DeepEqual(got, tt.lastSlots) {
					t.Errorf("re-asserted bit timing = %v, want %v", got, tt.lastSlots)
				}
			}
		})
	}
}

func TestAlarmSearch_noDevice(t *testing.T) {
	d, _ := New(&scriptPin{})
	alarm, err := d.AlarmSearch()
	if err != nil {
		t.Fatal(err)
	}
	if alarm {
		t.Error("empty bus cannot alarm")
	}
}

func TestTx(t *testing.T) {
	levels := append([]gpio.Level{gpio.Low}, levelsForBytes(0xe0, 0x01)...)
	d, _ := New(&scriptPin{levels: levels})
	r := make([]byte, 2)
	if err := d.Tx([]byte{0xcc, 0xbe}, r); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0xe0, 0x01}; !reflect.DeepEqual(r, want) {
		t.Errorf("read %#v, want %#v", r, want)
	}
}

func TestTx_noDevice(t *testing.T) {
	d, _ := New(&scriptPin{})
	if err := d.Tx([]byte{0xcc}, nil); err == nil {
		t.Fatal("expected bus error")
	}
}

func TestPersistentError(t *testing.T) {
	p := &scriptPin{outErr: errors.New("pin gone")}
	d, _ := New(p)
	if err := d.WriteByte(0x44); err == nil {
		t.Fatal("expected pin error")
	}
	// The error latches: the device refuses further work.
	if _, err := d.DetectPresence(); err == nil {
		t.Fatal("expected persisted error")
	}
}

func TestROMValid(t *testing.T) {
	if !fixtureROM.Valid() {
		t.Error("fixture ROM is valid")
	}
	bad := fixtureROM
	bad[3] ^= 0x01
	if bad.Valid() {
		t.Error("corrupted ROM must fail validation")
	}
}

func init() {
	delay = func(time.Duration) {}
}
