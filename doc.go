// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devices is a container for the bus engines and device drivers of a
// small clock and thermometer system: a software-timed 1-wire bus master
// (owi), a two-wire serial bus master (twi), and the clients built on top of
// them (ds18b20, ds1307, lcd).
package devices
