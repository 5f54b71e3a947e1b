package coding

import (
	"math/rand"
	"testing"
)

func roundTrip(t *testing.T, name string, in []uint32) {
	t.Helper()
	p, err := Get(name)
	if err != nil {
		t.Fatalf("Get(%q): %v", name, err)
	}
	padded := in
	if bs := p.BlockSize(); bs > 0 && len(in)%bs != 0 {
		padded = make([]uint32, (len(in)/bs+1)*bs)
		copy(padded, in)
	}
	enc := make([]uint32, EncodeBound(len(padded)))
	words, err := p.Encode(enc, padded)
	if err != nil {
		t.Fatalf("%s encode: %v", name, err)
	}
	dec := make([]uint32, DecodeBound(len(padded)))
	consumed, err := p.Decode(dec, enc[:words], len(padded))
	if err != nil {
		t.Fatalf("%s decode: %v", name, err)
	}
	if consumed != words {
		t.Errorf("%s: encoded %d words but decode consumed %d", name, words, consumed)
	}
	for i, want := range padded {
		if dec[i] != want {
			t.Fatalf("%s: value %d decoded as %d, want %d", name, i, dec[i], want)
		}
	}
}

func TestPoliciesRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	gaps := make([]uint32, 128)
	for i := range gaps {
		gaps[i] = uint32(rng.Intn(1000)) + 1
	}
	skewed := make([]uint32, 300)
	for i := range skewed {
		skewed[i] = uint32(rng.Intn(4)) + 1
		if i%37 == 0 {
			skewed[i] = uint32(rng.Intn(1 << 20))
		}
	}
	cases := []struct {
		desc string
		in   []uint32
	}{
		{"small gaps", gaps},
		{"skewed with outliers", skewed},
		{"single value", []uint32{7}},
		{"zeros", make([]uint32, 16)},
		{"large values", []uint32{1 << 27, 1<<28 - 1, 0, 12345678}},
	}
	for _, name := range []string{"null", "vbyte", "s16", "rice", "turbo-rice", "pfor"} {
		for _, tc := range cases {
			t.Run(name+"/"+tc.desc, func(t *testing.T) {
				roundTrip(t, name, tc.in)
			})
		}
	}
}

func TestGetUnknownPolicy(t *testing.T) {
	if _, err := Get("lz77"); err == nil {
		t.Fatal("expected error for unknown policy name")
	}
}

func TestVbyteStreamsConcatenate(t *testing.T) {
	// Two runs encoded back to back must decode independently, since chunk
	// streams are laid out consecutively in a block.
	p, _ := Get("vbyte")
	a := []uint32{1, 300, 70000}
	b := []uint32{9, 2, 2, 1 << 30}
	buf := make([]uint32, EncodeBound(len(a)+len(b)))
	wa, err := p.Encode(buf, a)
	if err != nil {
		t.Fatal(err)
	}
	wb, err := p.Encode(buf[wa:], b)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]uint32, DecodeBound(4))
	consumed, err := p.Decode(out, buf[:wa+wb], len(a))
	if err != nil {
		t.Fatal(err)
	}
	if consumed != wa {
		t.Fatalf("first run consumed %d words, want %d", consumed, wa)
	}
	if _, err := p.Decode(out, buf[consumed:wa+wb], len(b)); err != nil {
		t.Fatal(err)
	}
	if out[3] != 1<<30 {
		t.Fatalf("second run decoded %d, want %d", out[3], uint32(1<<30))
	}
}

func BenchmarkVbyteDecode(b *testing.B) {
	p, _ := Get("vbyte")
	in := make([]uint32, 128)
	for i := range in {
		in[i] = uint32(i*i) + 1
	}
	enc := make([]uint32, EncodeBound(len(in)))
	words, _ := p.Encode(enc, in)
	out := make([]uint32, DecodeBound(len(in)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Decode(out, enc[:words], len(in)); err != nil {
			b.Fatal(err)
		}
	}
}
