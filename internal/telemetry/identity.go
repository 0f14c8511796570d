package telemetry

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// identityModulus keeps derived codes inside a signed 32-bit range.
const identityModulus = 2147483647

// digitRuns matches runs of any Unicode decimal digit, not only ASCII.
var digitRuns = regexp.MustCompile(`\p{Nd}+`)

// usableCode reports whether a raw VehicleCD can be taken as the identity.
func usableCode(v any) bool {
	if v == nil {
		return false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	return s != "" && s != "0" && s != Sentinel
}

// DeriveIdentity computes the natural identity code for a vehicle name. Every
// run of Unicode decimal digits is concatenated and reduced modulo 2147483647;
// names without digits fall back to the first 32 bits of an MD5 of the name.
func DeriveIdentity(name string) float64 {
	if runs := digitRuns.FindAllString(name, -1); len(runs) > 0 {
		var code uint64
		for _, run := range runs {
			for _, r := range run {
				code = (code*10 + uint64(digitValue(r))) % identityModulus
			}
		}
		return float64(code)
	}

	sum := md5.Sum([]byte(strings.ToValidUTF8(name, "")))
	return float64(binary.BigEndian.Uint32(sum[:4]) % identityModulus)
}

// digitValue returns the value of a decimal digit rune. Every Nd block is a
// contiguous run of ten starting at zero.
func digitValue(r rune) int {
	if r >= '0' && r <= '9' {
		return int(r - '0')
	}
	offset := 0
	for unicode.IsDigit(r - rune(offset) - 1) {
		offset++
	}
	return offset % 10
}

// OnePassAllocator probes upward from each candidate until it finds a value no
// earlier record in the batch holds. A probed value may take a later record's
// natural candidate, pushing that record further up.
type OnePassAllocator struct{}

func (OnePassAllocator) Assign(candidates []float64) []float64 {
	used := make(map[float64]struct{}, len(candidates))
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		for {
			if _, taken := used[c]; !taken {
				break
			}
			c = nextIdentity(c)
		}
		used[c] = struct{}{}
		out[i] = c
	}
	return out
}

// TwoPassAllocator reserves every natural candidate in the batch before
// probing, so the first record to claim a candidate always keeps it and a
// probed value never lands on another record's natural candidate.
type TwoPassAllocator struct{}

func (TwoPassAllocator) Assign(candidates []float64) []float64 {
	natural := make(map[float64]struct{}, len(candidates))
	for _, c := range candidates {
		natural[c] = struct{}{}
	}

	used := make(map[float64]struct{}, len(candidates))
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		if _, taken := used[c]; taken {
			for {
				c = nextIdentity(c)
				_, taken := used[c]
				_, reserved := natural[c]
				if !taken && !reserved {
					break
				}
			}
		}
		used[c] = struct{}{}
		out[i] = c
	}
	return out
}

func nextIdentity(c float64) float64 {
	if n := c + 1; n != c {
		return n
	}
	return math.Nextafter(c, math.Inf(1))
}
