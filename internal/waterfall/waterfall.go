// Package waterfall implements the pure, side-effect-free allocation of
// a payment amount against a loan's outstanding receivable buckets, per
// spec §4.3. It performs no I/O: callers supply the outstanding amounts
// and get back an Allocation whose fields always sum to the input
// amount.
package waterfall

import (
	"fmt"
	"sort"
)

// Bucket names the receivable categories a payment can be applied to.
type Bucket string

const (
	BucketFees      Bucket = "fees"
	BucketInterest  Bucket = "interest"
	BucketPrincipal Bucket = "principal"
	BucketEscrow    Bucket = "escrow"
)

// DefaultOrder is the waterfall order used unless an operator configures
// another: fees -> interest -> principal -> escrow, residual to suspense.
var DefaultOrder = []Bucket{BucketFees, BucketInterest, BucketPrincipal, BucketEscrow}

// Outstanding carries the loan's receivable state at allocation time.
type Outstanding struct {
	Fees      int64
	Interest  int64
	Principal int64
	Escrow    int64
}

func (o Outstanding) need(b Bucket) int64 {
	switch b {
	case BucketFees:
		return o.Fees
	case BucketInterest:
		return o.Interest
	case BucketPrincipal:
		return o.Principal
	case BucketEscrow:
		return o.Escrow
	default:
		return 0
	}
}

// bucketRank gives buckets a fixed order matching DefaultOrder, so that
// any tie-break over a set of buckets is deterministic regardless of map
// iteration order. Buckets outside DefaultOrder rank last, by their
// first byte; AllocateProportional breaks equal ranks by bucket name, so
// those buckets end up in alphabetical order.
func bucketRank(b Bucket) int {
	for i, d := range DefaultOrder {
		if d == b {
			return i
		}
	}
	rank := len(DefaultOrder)
	if len(b) > 0 {
		rank += int(b[0])
	}
	return rank
}

// Allocation is the result tuple (xF, xI, xP, xE, suspense) of spec §4.3.
// Fields always sum to the amount that was allocated.
type Allocation struct {
	Fees      int64
	Interest  int64
	Principal int64
	Escrow    int64
	Suspense  int64
}

// Sum returns the total of all buckets, which by construction equals
// the input amount.
func (a Allocation) Sum() int64 {
	return a.Fees + a.Interest + a.Principal + a.Escrow + a.Suspense
}

func (a Allocation) add(b Bucket, cents int64) Allocation {
	switch b {
	case BucketFees:
		a.Fees += cents
	case BucketInterest:
		a.Interest += cents
	case BucketPrincipal:
		a.Principal += cents
	case BucketEscrow:
		a.Escrow += cents
	}
	return a
}

// Allocate applies amountCents against outstanding in the given order
// (DefaultOrder if order is nil), consuming min(remaining, bucket need)
// at each step, with any residual landing in suspense. The returned
// Allocation always satisfies Sum() == amountCents and every field >= 0.
func Allocate(amountCents int64, outstanding Outstanding, order []Bucket) (Allocation, error) {
	if amountCents < 0 {
		return Allocation{}, fmt.Errorf("waterfall: amount must be >= 0, got %d", amountCents)
	}
	if order == nil {
		order = DefaultOrder
	}

	remaining := amountCents
	var alloc Allocation
	for _, b := range order {
		if remaining <= 0 {
			break
		}
		need := outstanding.need(b)
		if need < 0 {
			need = 0
		}
		take := remaining
		if need < take {
			take = need
		}
		alloc = alloc.add(b, take)
		remaining -= take
	}
	alloc.Suspense = remaining

	if alloc.Sum() != amountCents {
		return Allocation{}, fmt.Errorf("waterfall: invariant violated, sum %d != amount %d", alloc.Sum(), amountCents)
	}
	return alloc, nil
}

// AllocateProportional resolves a tie between buckets that compete at
// equal priority by splitting amountCents across them proportionally to
// each bucket's need, rounding down, with the final leftover cent(s)
// assigned to the bucket(s) with the largest fractional remainder
// (largest-remainder method; bankers' rounding is deliberately not used
// per spec §4.3, since it breaks reconciliation).
func AllocateProportional(amountCents int64, needs map[Bucket]int64) map[Bucket]int64 {
	result := make(map[Bucket]int64, len(needs))
	if amountCents <= 0 || len(needs) == 0 {
		for b := range needs {
			result[b] = 0
		}
		return result
	}

	var totalNeed int64
	order := make([]Bucket, 0, len(needs))
	for b, n := range needs {
		if n < 0 {
			n = 0
		}
		totalNeed += n
		order = append(order, b)
	}
	// Map iteration order is randomized; fix it before it feeds the
	// remainder tie-break below, or the leftover cent(s) would land on
	// a different bucket from one run to the next whenever two buckets
	// share a remainder.
	sort.Slice(order, func(i, j int) bool {
		ri, rj := bucketRank(order[i]), bucketRank(order[j])
		if ri != rj {
			return ri < rj
		}
		return order[i] < order[j]
	})
	if totalNeed == 0 {
		for _, b := range order {
			result[b] = 0
		}
		return result
	}

	toAllocate := amountCents
	if toAllocate > totalNeed {
		toAllocate = totalNeed
	}

	type frac struct {
		bucket    Bucket
		remainder int64 // numerator mod totalNeed, for ranking
	}
	fracs := make([]frac, 0, len(order))

	var allocatedSoFar int64
	for _, b := range order {
		n := needs[b]
		if n < 0 {
			n = 0
		}
		share := (toAllocate * n) / totalNeed
		remainder := (toAllocate * n) % totalNeed
		result[b] = share
		allocatedSoFar += share
		fracs = append(fracs, frac{bucket: b, remainder: remainder})
	}

	leftover := toAllocate - allocatedSoFar
	// Sort descending by remainder (stable insertion sort; bucket counts
	// here are always small — at most the fixed receivable buckets).
	for i := 1; i < len(fracs); i++ {
		for j := i; j > 0 && fracs[j].remainder > fracs[j-1].remainder; j-- {
			fracs[j], fracs[j-1] = fracs[j-1], fracs[j]
		}
	}
	for i := int64(0); i < leftover; i++ {
		result[fracs[i%int64(len(fracs))].bucket]++
	}

	return result
}
