// Package gps reads GNSS receivers and republishes them as sample sources.
//
// Two ingest paths are supported:
//   - NMEA over a serial port (RMC/GGA for the fix, GSA/GSV for satellites)
//   - gpsd JSON over TCP (TPV for the fix, SKY for satellites)
//
// Both publish sensor.Fix and sensor.SatelliteStatus on stream hubs.
package gps
