// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, the Dallas/Maxim CRC8 used on the 1-wire bus.
package common

// CRC8Byte folds one byte into a running Dallas/Maxim CRC-8 and returns the
// new accumulator value. Each data bit is XOR-ed into the low bit of the
// accumulator and the result fed back at the x^4 and x^5 taps; since the
// accumulator is shifted first, the feedback lands on bits 3, 4 and 7.
//
// A seed of 0 computes the CRC of a single byte. Chaining the return value as
// the seed for the next byte computes the CRC of a byte string.
func CRC8Byte(b, crc byte) byte {
	for i := 0; i < 8; i++ {
		feedback := (crc ^ b) & 0x01
		crc >>= 1
		if feedback != 0 {
			crc ^= 0x8c
		}
		b >>= 1
	}
	return crc
}

// CRC8 calculates the Dallas/Maxim CRC-8 of the byte slice parameter, seeded
// with 0. CRC bytes of this form protect 1-wire ROM codes and the DS18B20
// scratchpad.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = CRC8Byte(b, crc)
	}
	return crc
}
