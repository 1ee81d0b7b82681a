// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package kevo

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCertUUIDBytes_ByteOrder(t *testing.T) {
	got := certUUIDBytes("11223344-5566-7788-9900-aabbccddeeff")
	want := []byte{
		0xff, 0xee, 0xdd, 0xcc, 0xbb, 0xaa,
		0x00, 0x99,
		0x77, 0x88,
		0x55, 0x66,
		0x11, 0x22, 0x33, 0x44,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("certUUIDBytes mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestCertUUIDBytes_ZeroUUID(t *testing.T) {
	got := certUUIDBytes(uuid.Nil.String())
	if len(got) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(got))
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("expected all-zero bytes, got %x at index %d", b, i)
		}
	}
}

func TestCertLengthEncoded(t *testing.T) {
	got := certLengthEncoded(20, []byte{1, 2, 3})
	want := []byte{20, 3, 0, 1, 2, 3}
	if !bytes.Equal(got, want) {
		t.Fatalf("certLengthEncoded mismatch: got %v want %v", got, want)
	}
}

func TestDeviceCertificate_Layout(t *testing.T) {
	c := NewClient(Config{DeviceID: uuid.MustParse("11223344-5566-7788-9900-aabbccddeeff")})
	issued := time.Unix(1700000000, 0)

	blob, err := base64.StdEncoding.DecodeString(c.deviceCertificate(issued))
	if err != nil {
		t.Fatalf("certificate is not valid base64: %v", err)
	}

	// preamble + four int fields + separator + two UUID fields + two
	// 32-byte random fields
	const wantLen = 12 + 4*7 + 4 + 2*19 + 2*35
	if len(blob) != wantLen {
		t.Fatalf("certificate length = %d, want %d", len(blob), wantLen)
	}
	if blob[0] != 17 {
		t.Fatalf("certificate does not start with the expected tag, got %d", blob[0])
	}

	issuedAt := binary.LittleEndian.Uint32(blob[22:26])
	if issuedAt != uint32(issued.Unix()) {
		t.Fatalf("issue timestamp = %d, want %d", issuedAt, issued.Unix())
	}
	expiresAt := binary.LittleEndian.Uint32(blob[36:40])
	if expiresAt != uint32(issued.Unix())+86400 {
		t.Fatalf("expiry timestamp = %d, want %d", expiresAt, uint32(issued.Unix())+86400)
	}

	deviceField := blob[12+4*7+4+19+3 : 12+4*7+4+19+19]
	if !bytes.Equal(deviceField, certUUIDBytes(c.DeviceID().String())) {
		t.Fatalf("device UUID field mismatch: got %x", deviceField)
	}
}

func TestDeviceCertificate_RandomFieldsDiffer(t *testing.T) {
	c := NewClient(Config{})
	issued := time.Unix(1700000000, 0)
	if c.deviceCertificate(issued) == c.deviceCertificate(issued) {
		t.Fatal("expected the random fields to differ between certificates")
	}
}
