// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package twi_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/DrCranium78/Atmel-Studio-Projects/twi"
	"github.com/DrCranium78/Atmel-Studio-Projects/twi/twitest"
)

func TestEnable_idempotent(t *testing.T) {
	p := &twitest.Playback{}
	m := twi.New(p, nil)
	if m.IsEnabled() {
		t.Fatal("fresh master must be disabled")
	}
	m.Enable()
	m.Enable()
	if !m.IsEnabled() {
		t.Fatal("master must be enabled")
	}
	if !p.Pullups {
		t.Error("pull-ups must be active")
	}
	// 16MHz core, 100kbps bus: (160-16)/2 = 72.
	if p.BitRate != 72 {
		t.Errorf("bit-rate divisor = %d, want 72", p.BitRate)
	}
	// The second Enable must not touch the peripheral again.
	if want := []byte{0x45}; !reflect.DeepEqual(p.Controls, want) {
		t.Errorf("control writes = %#v, want %#v", p.Controls, want)
	}
}

func TestDisable_idempotent(t *testing.T) {
	p := &twitest.Playback{}
	m := twi.New(p, nil)
	m.Disable() // no-op on a disabled master
	if len(p.Controls) != 0 {
		t.Errorf("disabling a disabled master wrote %#v", p.Controls)
	}
	m.Enable()
	m.Disable()
	if m.IsEnabled() {
		t.Fatal("master must be disabled")
	}
	if p.Pullups {
		t.Error("pull-ups must be released")
	}
	if want := []byte{0x45, 0x00}; !reflect.DeepEqual(p.Controls, want) {
		t.Errorf("control writes = %#v, want %#v", p.Controls, want)
	}
}

func TestOpen(t *testing.T) {
	p := &twitest.Playback{
		Statuses: []twi.Status{twi.StatusStart, twi.StatusAddrWriteACK},
	}
	m := twi.New(p, nil)
	m.Enable()
	if err := m.Open(0x68); err != nil {
		t.Fatal(err)
	}
	// SLA+W for 0x68 is 0xd0.
	if want := []byte{0xd0}; !reflect.DeepEqual(p.Writes, want) {
		t.Errorf("data writes = %#v, want %#v", p.Writes, want)
	}
	// Enable, start condition, transmit.
	if want := []byte{0x45, 0xa4, 0x84}; !reflect.DeepEqual(p.Controls, want) {
		t.Errorf("control writes = %#v, want %#v", p.Controls, want)
	}
}

func TestOpen_addressNotAcked(t *testing.T) {
	p := &twitest.Playback{
		// SLA+W answered with NACK (0x20) instead of ACK.
		Statuses: []twi.Status{twi.StatusStart, twi.Status(0x20)},
	}
	m := twi.New(p, nil)
	m.Enable()
	err := m.Open(0x68)
	var se *twi.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Got != twi.Status(0x20) || se.Want != twi.StatusAddrWriteACK {
		t.Errorf("got %s / want %s", se.Got, se.Want)
	}
	// Nothing must be transmitted after the failed step.
	if len(p.Writes) != 1 {
		t.Errorf("data writes after failure: %#v", p.Writes)
	}
}

func TestOpen_disabled(t *testing.T) {
	m := twi.New(&twitest.Playback{}, nil)
	if err := m.Open(0x68); err != twi.ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestOpen_invalidAddress(t *testing.T) {
	m := twi.New(&twitest.Playback{}, nil)
	m.Enable()
	if err := m.Open(0x80); err == nil {
		t.Fatal("8-bit address must be rejected")
	}
}

func TestWriteBytes(t *testing.T) {
	p := &twitest.Playback{
		Statuses: []twi.Status{
			twi.StatusStart, twi.StatusAddrWriteACK,
			twi.StatusDataWriteACK, twi.StatusDataWriteACK,
		},
	}
	m := twi.New(p, nil)
	m.Enable()
	if err := m.Open(0x27); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteBytes([]byte{0x34, 0x30}); err != nil {
		t.Fatal(err)
	}
	m.Close()
	if want := []byte{0x4e, 0x34, 0x30}; !reflect.DeepEqual(p.Writes, want) {
		t.Errorf("data writes = %#v, want %#v", p.Writes, want)
	}
	// The transaction must end with a stop condition.
	if last := p.Controls[len(p.Controls)-1]; last != 0x94 {
		t.Errorf("last control write = %#x, want stop (0x94)", last)
	}
}

func TestWriteBytes_stopsAtFirstFailure(t *testing.T) {
	p := &twitest.Playback{
		Statuses: []twi.Status{
			twi.StatusStart, twi.StatusAddrWriteACK,
			twi.StatusDataWriteACK, twi.Status(0x30), // second byte not acked
		},
	}
	m := twi.New(p, nil)
	m.Enable()
	if err := m.Open(0x27); err != nil {
		t.Fatal(err)
	}
	err := m.WriteBytes([]byte{0x01, 0x02, 0x03})
	var se *twi.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	// The third byte must never be loaded.
	if want := []byte{0x4e, 0x01, 0x02}; !reflect.DeepEqual(p.Writes, want) {
		t.Errorf("data writes = %#v, want %#v", p.Writes, want)
	}
}

func TestReadRegisters(t *testing.T) {
	rx := []byte{0x25, 0x59, 0x11, 0x02, 0x14, 0x08, 0x26}
	statuses := []twi.Status{
		twi.StatusStart, twi.StatusAddrWriteACK, // open
		twi.StatusDataWriteACK,                  // register pointer
		twi.StatusRepStart, twi.StatusAddrReadACK, // repeated start + SLA+R
	}
	for i := 0; i < 6; i++ {
		statuses = append(statuses, twi.StatusDataReadACK)
	}
	statuses = append(statuses, twi.StatusDataReadNACK)
	p := &twitest.Playback{Statuses: statuses, RxData: rx}
	m := twi.New(p, nil)
	m.Enable()
	if err := m.Open(0x68); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 7)
	if err := m.ReadRegisters(0x00, buf); err != nil {
		t.Fatal(err)
	}
	m.Close()
	if !reflect.DeepEqual(buf, rx) {
		t.Errorf("read %#v, want %#v", buf, rx)
	}
	// SLA+W, register pointer, SLA+R.
	if want := []byte{0xd0, 0x00, 0xd1}; !reflect.DeepEqual(p.Writes, want) {
		t.Errorf("data writes = %#v, want %#v", p.Writes, want)
	}
}

func TestReadRegisters_abortKeepsPartialRead(t *testing.T) {
	statuses := []twi.Status{
		twi.StatusStart, twi.StatusAddrWriteACK,
		twi.StatusDataWriteACK,
		twi.StatusRepStart, twi.StatusAddrReadACK,
		twi.StatusDataReadACK, twi.StatusDataReadACK,
		twi.Status(0x38), // arbitration lost mid-read
	}
	p := &twitest.Playback{Statuses: statuses, RxData: []byte{0xaa, 0xbb, 0xcc}}
	m := twi.New(p, nil)
	m.Enable()
	if err := m.Open(0x68); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	err := m.ReadRegisters(0x00, buf)
	if err == nil {
		t.Fatal("expected status error")
	}
	// The two bytes read before the failure stay in the buffer.
	if want := []byte{0xaa, 0xbb, 0x00, 0x00}; !reflect.DeepEqual(buf, want) {
		t.Errorf("buf = %#v, want %#v", buf, want)
	}
}

func TestReadRegister(t *testing.T) {
	p := &twitest.Playback{
		Statuses: []twi.Status{
			twi.StatusStart, twi.StatusAddrWriteACK,
			twi.StatusDataWriteACK,
			twi.StatusRepStart, twi.StatusAddrReadACK,
			twi.StatusDataReadNACK,
		},
		RxData: []byte{0x42},
	}
	m := twi.New(p, nil)
	m.Enable()
	if err := m.Open(0x68); err != nil {
		t.Fatal(err)
	}
	b, err := m.ReadRegister(0x07)
	if err != nil {
		t.Fatal(err)
	}
	if b != 0x42 {
		t.Errorf("ReadRegister = %#x, want 0x42", b)
	}
}

func TestTimeout(t *testing.T) {
	p := &twitest.Playback{Hang: true}
	m := twi.New(p, &twi.Opts{WaitTimeout: time.Millisecond})
	m.Enable()
	if err := m.Open(0x68); err != twi.ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestTx(t *testing.T) {
	p := &twitest.Playback{
		Statuses: []twi.Status{
			twi.StatusStart, twi.StatusAddrWriteACK,
			twi.StatusDataWriteACK,
			twi.StatusRepStart, twi.StatusAddrReadACK,
			twi.StatusDataReadACK, twi.StatusDataReadNACK,
		},
		RxData: []byte{0x12, 0x34},
	}
	m := twi.New(p, nil)
	m.Enable()
	r := make([]byte, 2)
	if err := m.Tx(0x68, []byte{0x00}, r); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x12, 0x34}; !reflect.DeepEqual(r, want) {
		t.Errorf("read %#v, want %#v", r, want)
	}
	// Tx owns the transaction and must close it.
	if last := p.Controls[len(p.Controls)-1]; last != 0x94 {
		t.Errorf("last control write = %#x, want stop (0x94)", last)
	}
}

func TestTx_closesOnFailure(t *testing.T) {
	p := &twitest.Playback{
		Statuses: []twi.Status{twi.StatusStart, twi.Status(0x20)},
	}
	m := twi.New(p, nil)
	m.Enable()
	if err := m.Tx(0x68, []byte{0x00}, nil); err == nil {
		t.Fatal("expected status error")
	}
	if last := p.Controls[len(p.Controls)-1]; last != 0x94 {
		t.Errorf("last control write = %#x, want stop (0x94)", last)
	}
}

func TestTx_readNeedsRegister(t *testing.T) {
	m := twi.New(&twitest.Playback{}, nil)
	m.Enable()
	if err := m.Tx(0x68, nil, make([]byte, 1)); err == nil {
		t.Fatal("register-less read must be rejected")
	}
}

func TestSetSpeed(t *testing.T) {
	p := &twitest.Playback{}
	m := twi.New(p, nil)
	if err := m.SetSpeed(400 * physic.KiloHertz); err != nil {
		t.Fatal(err)
	}
	m.Enable()
	// 16MHz core, 400kbps bus: (40-16)/2 = 12.
	if p.BitRate != 12 {
		t.Errorf("bit-rate divisor = %d, want 12", p.BitRate)
	}
	if err := m.SetSpeed(100 * physic.KiloHertz); err == nil {
		t.Error("speed change while enabled must fail")
	}
	m.Disable()
	if err := m.SetSpeed(10 * physic.MegaHertz); err == nil {
		t.Error("bus faster than clock/16 must be rejected")
	}
}

func TestStatusString(t *testing.T) {
	if s := twi.StatusStart.String(); s != "start sent" {
		t.Errorf("String = %q", s)
	}
	if s := twi.Status(0x20).String(); s != "status 0x20" {
		t.Errorf("String = %q", s)
	}
}
