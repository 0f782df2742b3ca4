// Package identity produces synthetic, display-only visitor attributes.
// Nothing here is observed from the remote client.
package identity

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// Identity is a randomized browser profile attached to a visitor record.
type Identity struct {
	UserAgent string
	Platform  string
	Browser   string
	Referrer  string
}

// Generator draws identities from the fixed pools. It is safe for
// concurrent use by enrichment goroutines.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator backed by src. A nil src uses a randomly
// seeded source.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{rng: rand.New(src)}
}

// RandomIdentity draws each field independently and uniformly.
func (g *Generator) RandomIdentity() Identity {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Identity{
		UserAgent: g.userAgent(),
		Platform:  pick(g.rng, platforms),
		Browser:   pick(g.rng, browsers),
		Referrer:  pick(g.rng, referrers),
	}
}

func (g *Generator) userAgent() string {
	tmpl := pick(g.rng, userAgentTemplates)
	version := pick(g.rng, browserVersions[browserFamily(tmpl)])
	return strings.ReplaceAll(tmpl, "{version}", version)
}

// browserFamily picks the version pool implied by a user agent template.
// Chrome templates also mention Safari, so Chrome is checked first.
func browserFamily(tmpl string) string {
	switch {
	case strings.Contains(tmpl, "Chrome"):
		return "Chrome"
	case strings.Contains(tmpl, "Firefox"):
		return "Firefox"
	default:
		return "Safari"
	}
}

// Fingerprint returns the synthetic fingerprint for ip. The generator is
// seeded from the decimal digits of the address concatenated in order, so the
// same address always yields the same fingerprint. Addresses whose digit
// strings concatenate identically (1.23.4.5 and 12.3.4.5) share a fingerprint.
func Fingerprint(ip string) model.Fingerprint {
	seed := digitSeed(ip)
	rng := rand.New(rand.NewPCG(seed, 0))

	sign := "-"
	if rng.Float64() > 0.5 {
		sign = "+"
	}
	offset := fmt.Sprintf("%s%d:%s", sign, rng.IntN(13), pick(rng, []string{"00", "30"}))

	fp := model.Fingerprint{
		Resolution:     pick(rng, resolutions),
		ColorDepth:     pick(rng, colorDepths),
		Language:       pick(rng, languages),
		TimezoneOffset: offset,
		Plugins:        strings.Join(sample(rng, plugins, minPlugins+rng.IntN(maxPlugins-minPlugins+1)), ", "),
		Cookies:        "Disabled",
		DNT:            "Enabled",
	}
	if rng.Float64() > 0.1 {
		fp.Cookies = "Enabled"
	}
	if rng.Float64() > 0.3 {
		fp.DNT = "Not Enabled"
	}
	fp.CanvasHash = hexString(rng, hashLength)
	fp.WebGLHash = hexString(rng, hashLength)
	return fp
}

// digitSeed folds the decimal digits of s into a uint64. Overlong digit
// strings wrap around instead of overflowing.
func digitSeed(s string) uint64 {
	var seed uint64
	for _, r := range s {
		if r >= '0' && r <= '9' {
			seed = seed*10 + uint64(r-'0')
		}
	}
	return seed
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.IntN(len(pool))]
}

func sample(rng *rand.Rand, pool []string, n int) []string {
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]string, 0, n)
	for _, idx := range rng.Perm(len(pool))[:n] {
		out = append(out, pool[idx])
	}
	return out
}

func hexString(rng *rand.Rand, n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(hexDigits[rng.IntN(len(hexDigits))])
	}
	return b.String()
}
