package fingerprint

import "testing"

func TestHash32Deterministic(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		seed uint32
	}{
		{"empty", nil, 0},
		{"short", []byte("abc"), 42},
		{"aligned", []byte("0123456789ABCDEF"), 7},
		{"unaligned", []byte("0123456789ABCDE"), 7},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := Hash32(c.data, c.seed)
			b := Hash32(c.data, c.seed)
			if a != b {
				t.Fatalf("Hash32 not deterministic: %d != %d", a, b)
			}
		})
	}
}

func TestHash32SeedChangesOutput(t *testing.T) {
	data := []byte("the quick brown fox")
	a := Hash32(data, 1)
	b := Hash32(data, 2)
	if a == b {
		t.Fatalf("expected different seeds to (almost always) produce different hashes")
	}
}

func TestHash32Distribution(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		h := Hash32(key, 0)
		seen[h] = true
	}
	if len(seen) < 990 {
		t.Fatalf("too many collisions over 1000 near-sequential keys: %d unique", len(seen))
	}
}

func TestHash64Deterministic(t *testing.T) {
	data := []byte("fingerprint me")
	a := Hash64(data, 9)
	b := Hash64(data, 9)
	if a != b {
		t.Fatalf("Hash64 not deterministic: %d != %d", a, b)
	}
}

func TestOatHashDeterministic(t *testing.T) {
	data := []byte("one-at-a-time")
	a := oatHash(data, 0)
	b := oatHash(data, 0)
	if a != b {
		t.Fatalf("oatHash not deterministic")
	}
}
