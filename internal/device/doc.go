package device

// Package device talks to the GPS Freak control board over its framed serial
// protocol.
//
// The board exposes one command channel:
// - framed messages with a 2-byte magic, code, length, payload and CRC-16
// - synthesizer register access (single bytes or bulk windows)
// - housekeeping: ping, identification, GPS/synthesizer reset lines, reboot
