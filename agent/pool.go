// Package agent supplies realistic browser identities for outbound
// requests: a User-Agent pool that learns per-domain success rates, and a
// header builder producing a full browser-like header set.
package agent

import (
	"math/rand"
	"sort"
	"sync"
)

// defaultUserAgents covers current desktop and mobile builds of Chrome,
// Firefox, Safari and Edge.
var defaultUserAgents = []string{
	// Chrome (Desktop)
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	// Firefox (Desktop)
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	// Safari (Desktop)
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	// Edge (Desktop)
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	// Chrome (Mobile)
	"Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/120.0.6099.119 Mobile/15E148 Safari/604.1",
	// Firefox (Mobile)
	"Mozilla/5.0 (Android 13; Mobile; rv:121.0) Gecko/121.0 Firefox/121.0",
	// Safari (Mobile)
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
}

type uaStats struct {
	success int
	failure int
}

// Pool selects User-Agent strings per domain, preferring agents that have
// worked there before while still exploring the rest of the pool.
type Pool struct {
	mu     sync.Mutex
	agents []string
	// domain -> UA -> counters
	prefs map[string]map[string]*uaStats
	// Probability of picking from the top-3 scored agents instead of a
	// uniform random one. 0.7 matches the historical behaviour; tests may
	// set 0 or 1 to force a branch.
	ExploreChance float64
	rng           *rand.Rand
}

// NewPool returns a Pool over the default User-Agent list.
func NewPool() *Pool {
	return &Pool{
		agents:        defaultUserAgents,
		prefs:         make(map[string]map[string]*uaStats),
		ExploreChance: 0.7,
		rng:           rand.New(rand.NewSource(rand.Int63())),
	}
}

// Agents returns the full User-Agent list.
func (p *Pool) Agents() []string {
	return p.agents
}

// Pick returns a User-Agent for the next request to domain. With no
// history the choice is uniform; otherwise agents are scored by success
// rate (unseen agents score 0.5) and with probability ExploreChance one of
// the top three is used.
func (p *Pool) Pick(domain string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	history, ok := p.prefs[domain]
	if !ok || len(history) == 0 {
		return p.agents[p.rng.Intn(len(p.agents))]
	}

	type scored struct {
		ua    string
		score float64
	}
	scores := make([]scored, 0, len(p.agents))
	for _, ua := range p.agents {
		score := 0.5
		if st, ok := history[ua]; ok {
			if total := st.success + st.failure; total > 0 {
				score = float64(st.success) / float64(total)
			}
		}
		scores = append(scores, scored{ua, score})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if p.rng.Float64() < p.ExploreChance && len(scores) >= 3 {
		return scores[p.rng.Intn(3)].ua
	}
	return p.agents[p.rng.Intn(len(p.agents))]
}

// RecordSuccess records that ua worked against domain.
func (p *Pool) RecordSuccess(domain, ua string) {
	p.record(domain, ua, true)
}

// RecordFailure records that ua failed against domain.
func (p *Pool) RecordFailure(domain, ua string) {
	p.record(domain, ua, false)
}

func (p *Pool) record(domain, ua string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	history, ok := p.prefs[domain]
	if !ok {
		history = make(map[string]*uaStats)
		p.prefs[domain] = history
	}
	st, ok := history[ua]
	if !ok {
		st = &uaStats{}
		history[ua] = st
	}
	if success {
		st.success++
	} else {
		st.failure++
	}
}
