// Package chord implements the ring-membership and routing engine of
// dyschord: a Chord-style distributed key-value store. One *LocalNode is
// one ring member; NodeRef is the capability interface shared by local
// nodes and remote proxies (see noderef.go).
package chord

import (
	"crypto/md5"
	"math/big"
)

// Metric defines the identifier space (2^HashBits) and the function that
// places keys into it. Grounded on node.py's Md5Metric/TrivialMetric.
type Metric interface {
	// HashBits is B: identifiers live in [0, 2^B).
	HashBits() uint
	// HashKey maps an opaque key to an identifier in the space.
	HashKey(key []byte) *big.Int
}

type md5Metric struct{ bits uint }

// NewMD5Metric returns the default metric: the full MD5 digest of the key,
// reduced modulo 2^bits.
func NewMD5Metric(bits uint) Metric { return md5Metric{bits: bits} }

func (m md5Metric) HashBits() uint { return m.bits }

func (m md5Metric) HashKey(key []byte) *big.Int {
	sum := md5.Sum(key)
	h := new(big.Int).SetBytes(sum[:])
	return mod2Pow(h, m.bits)
}

type trivialMetric struct{ bits uint }

// NewTrivialMetric returns the test metric: the key, parsed as a decimal
// integer, reduced modulo 2^bits. Non-numeric keys hash to zero.
func NewTrivialMetric(bits uint) Metric { return trivialMetric{bits: bits} }

func (m trivialMetric) HashBits() uint { return m.bits }

func (m trivialMetric) HashKey(key []byte) *big.Int {
	n, ok := new(big.Int).SetString(string(key), 10)
	if !ok {
		n = new(big.Int)
	}
	return mod2Pow(n, m.bits)
}

// mod2Pow reduces v modulo 2^bits, always returning a non-negative result.
func mod2Pow(v *big.Int, bits uint) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), bits)
	r := new(big.Int).Mod(v, m)
	return r
}

// Distance computes the clockwise distance d(a,b) = (b - a) mod 2^bits.
func Distance(a, b *big.Int, bits uint) *big.Int {
	d := new(big.Int).Sub(b, a)
	return mod2Pow(d, bits)
}

// addMod computes (id + step) mod 2^bits.
func addMod(id, step *big.Int, bits uint) *big.Int {
	sum := new(big.Int).Add(id, step)
	return mod2Pow(sum, bits)
}

// FingerSteps computes the offsets 2^floor(B*i/tableSize) for i in
// [0,tableSize), grounded on node.py's compute_finger_steps. tableSize is
// clamped to hashBits since with more slots than bits some exponents would
// repeat, giving duplicate offsets.
func FingerSteps(hashBits uint, tableSize int) []*big.Int {
	if tableSize <= 0 {
		return nil
	}
	if uint(tableSize) > hashBits {
		tableSize = int(hashBits)
	}
	steps := make([]*big.Int, tableSize)
	for i := 0; i < tableSize; i++ {
		exp := hashBits * uint(i) / uint(tableSize)
		steps[i] = new(big.Int).Lsh(big.NewInt(1), exp)
	}
	return steps
}
