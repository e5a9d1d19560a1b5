package core

import (
	"testing"
	"time"
)

func TestFingerprintEqual(t *testing.T) {
	now := time.Now()
	a := Fingerprint{Size: 3, ModTime: now, Checksum: [16]byte{1}, HasChecksum: true}
	b := Fingerprint{Size: 3, ModTime: now, Checksum: [16]byte{1}, HasChecksum: true}
	if !a.Equal(b) {
		t.Fatal("expected equal fingerprints")
	}
	b.Size = 4
	if a.Equal(b) {
		t.Fatal("expected unequal fingerprints after size change")
	}
}

func TestFingerprintNewerThanTieBreak(t *testing.T) {
	now := time.Now()
	small := Fingerprint{Size: 1, ModTime: now}
	large := Fingerprint{Size: 2, ModTime: now}
	if !large.NewerThan(small) {
		t.Fatal("expected larger size to win tie on equal mtime")
	}
	later := Fingerprint{Size: 1, ModTime: now.Add(time.Second)}
	if !later.NewerThan(small) {
		t.Fatal("expected later mtime to win regardless of size")
	}
}
