package main

import (
	"math/rand/v2"

	"github.com/kabili207/sensornet-go/device/leaf"
)

// simSensor produces plausible readings that drift slowly.
type simSensor struct {
	rng      *rand.Rand
	battery  int32 // V * 100
	temp     int32 // C * 100
	humidity int32 // %RH * 100
}

func newSimSensor(seed uint64) *simSensor {
	return &simSensor{
		rng:      rand.New(rand.NewPCG(seed, seed>>32)),
		battery:  420,
		temp:     2000,
		humidity: 5000,
	}
}

// Read returns the next reading. The battery only ever drains.
func (s *simSensor) Read() leaf.Reading {
	if s.rng.IntN(10) == 0 && s.battery > 300 {
		s.battery--
	}
	s.temp = clamp(s.temp+s.rng.Int32N(41)-20, -4000, 8500)
	s.humidity = clamp(s.humidity+s.rng.Int32N(101)-50, 0, 10000)

	var status uint8
	if s.battery < 330 {
		status |= 0x01 // low battery
	}
	return leaf.Reading{
		Battery:  uint16(s.battery),
		Temp:     int16(s.temp),
		Humidity: uint16(s.humidity),
		Status:   status,
	}
}

func clamp(v, lo, hi int32) int32 {
	return max(lo, min(v, hi))
}
