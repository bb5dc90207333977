package mapper

import "sync"

// Tier indexes into Pool's size ladder.
type Tier int

// PoolTierSizes is the stepped buffer ladder a Mapper[T].Serialize
// retries against on overflow (spec §4.7): 64 KiB, then 2 MiB, then a
// final 16 MiB ceiling before the document is rejected as too large.
var PoolTierSizes = [3]int{64 * 1024, 2 * 1024 * 1024, 16 * 1024 * 1024}

// Pool reuses tier-sized byte slices across serialize calls to reduce
// allocation churn, the same motivation as the teacher's page-cache
// buffer pool, widened to three size tiers instead of one fixed size.
type Pool struct {
	tiers [len(PoolTierSizes)]sync.Pool
}

// NewPool constructs a Pool with one sync.Pool per size tier.
func NewPool() *Pool {
	p := &Pool{}
	for i, size := range PoolTierSizes {
		size := size
		p.tiers[i].New = func() any { return make([]byte, size) }
	}
	return p
}

// Get returns a buffer from the smallest tier, along with the tier index
// so the caller can request the next larger tier via GetTier. ok is
// false only if tier 0 itself has no size configured (never, in
// practice — PoolTierSizes is fixed).
func (p *Pool) Get() ([]byte, Tier, bool) {
	return p.GetTier(0)
}

// GetTier returns a buffer from a specific tier, or ok=false if tier is
// past the end of the ladder (the caller should give up with
// ErrDocumentTooLarge).
func (p *Pool) GetTier(tier Tier) ([]byte, Tier, bool) {
	if int(tier) >= len(p.tiers) {
		return nil, tier, false
	}
	buf := p.tiers[tier].Get().([]byte)
	return buf, tier, true
}

// Next returns the next larger tier's buffer, for the serialize retry
// ladder.
func (p *Pool) Next(tier Tier) ([]byte, Tier, bool) {
	return p.GetTier(tier + 1)
}

// Put returns a buffer to its tier's pool.
func (p *Pool) Put(tier Tier, buf []byte) {
	if int(tier) >= len(p.tiers) {
		return
	}
	p.tiers[tier].Put(buf[:cap(buf)])
}
