// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package kevo

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The device certificate is a tag/length/value byte blob the identity
// server expects in the authorize request. The layout mirrors what the
// official web client emits: a fixed preamble, a validity window of one
// day, the zero UUID plus the device UUID in the server's mixed-endian
// byte order, and two 32-byte random fields.

func certIntVal(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func certShortVal(v uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return buf
}

// certLengthEncoded renders one TLV field: tag byte, little-endian length,
// value bytes.
func certLengthEncoded(tag byte, value []byte) []byte {
	out := make([]byte, 0, 3+len(value))
	out = append(out, tag)
	out = append(out, certShortVal(uint16(len(value)))...)
	out = append(out, value...)
	return out
}

// certUUIDBytes converts a UUID string into the byte order the server
// expects: the first three dash-separated groups have their byte pairs
// reversed, then the whole sequence is reversed.
func certUUIDBytes(guid string) []byte {
	var out []byte
	for i, part := range strings.Split(guid, "-") {
		pairs := make([]byte, 0, len(part)/2)
		for j := 0; j+2 <= len(part); j += 2 {
			pairs = append(pairs, hexByte(part[j], part[j+1]))
		}
		if i < 3 {
			for l, r := 0, len(pairs)-1; l < r; l, r = l+1, r-1 {
				pairs[l], pairs[r] = pairs[r], pairs[l]
			}
		}
		out = append(out, pairs...)
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func hexByte(hi, lo byte) byte {
	return hexNibble(hi)<<4 | hexNibble(lo)
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// deviceCertificate builds and base64-encodes the certificate blob for the
// given issue time.
func (c *Client) deviceCertificate(now time.Time) string {
	issued := uint32(now.Unix())

	blob := []byte{17, 1, 0, 1, 19, 1, 0, 1, 16, 1, 0, 48}
	blob = append(blob, certLengthEncoded(18, certIntVal(1))...)
	blob = append(blob, certLengthEncoded(20, certIntVal(issued))...)
	blob = append(blob, certLengthEncoded(21, certIntVal(issued))...)
	blob = append(blob, certLengthEncoded(22, certIntVal(issued+86400))...)
	blob = append(blob, 48, 1, 0, 6)
	blob = append(blob, certLengthEncoded(49, certUUIDBytes(uuid.Nil.String()))...)
	blob = append(blob, certLengthEncoded(50, certUUIDBytes(c.cfg.DeviceID.String()))...)
	blob = append(blob, certLengthEncoded(53, randomBytes(32))...)
	blob = append(blob, certLengthEncoded(54, randomBytes(32))...)

	return base64.StdEncoding.EncodeToString(blob)
}

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return buf
}
