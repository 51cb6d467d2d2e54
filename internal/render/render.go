package render

import (
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Renderer resolves message templates against per-contact variables.
//
// Two passes, in order:
//  1. Placeholders: "[name]" is replaced by vars["name"]. Keys are matched
//     case-insensitively with surrounding whitespace ignored. Unknown
//     placeholders stay verbatim; a missing variable must never abort a send.
//  2. Variant groups: "{hi/hello/hey}" picks one alternative uniformly at
//     random, independently for each occurrence.
//
// Rendering does no I/O. Pass a seeded *rand.Rand for repeatable output.
type Renderer struct {
	rng *rand.Rand
}

var (
	placeholderRe = regexp.MustCompile(`\[([^\[\]]+)\]`)
	variantRe     = regexp.MustCompile(`\{([^{}]+)\}`)
)

func New(rng *rand.Rand) *Renderer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Renderer{rng: rng}
}

// NormalizeKey is the canonical form of a variable name: trimmed, lowered.
func NormalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func (r *Renderer) Render(template string, vars map[string]string) string {
	norm := make(map[string]string, len(vars))
	for k, v := range vars {
		norm[NormalizeKey(k)] = v
	}

	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := NormalizeKey(m[1 : len(m)-1])
		if v, ok := norm[key]; ok {
			return v
		}
		return m
	})

	out = variantRe.ReplaceAllStringFunc(out, func(m string) string {
		body := m[1 : len(m)-1]
		if !strings.Contains(body, "/") {
			// Not a variant group; leave literal braces alone.
			return m
		}
		alts := strings.Split(body, "/")
		return alts[r.rng.Intn(len(alts))]
	})

	return out
}
