// Package scoring implements the trust score for pull-request claims.
// The score is a pure function of the verification snapshot: five
// account and repository factors, each graded against three cumulative
// thresholds, summed and normalized to 0-100.
package scoring

import (
	"math"
	"time"

	"github.com/claimbridge/claimbridge/pkg/types"
)

// Factors are the inputs to the scoring function.
type Factors struct {
	AuthorAgeDays   int
	AuthorFollowers int
	RepoAgeDays     int
	RepoStars       int
	RepoForks       int
}

// thresholds holds the three tier breakpoints for one factor. A value
// strictly above T1 earns 1 point, above T2 another 2, above T3 another
// 4, so a factor contributes at most 7.
type thresholds struct {
	T1, T2, T3 int
}

var (
	authorAgeTiers       = thresholds{365, 1825, 3650}
	authorFollowersTiers = thresholds{50, 250, 1000}
	repoAgeTiers         = thresholds{90, 365, 1825}
	repoStarsTiers       = thresholds{50, 250, 1000}
	repoForksTiers       = thresholds{10, 50, 250}
)

// maxRawScore is five factors at the top tier: 5 * (1+2+4).
const maxRawScore = 35

// Score grades the factors and returns an integer in [0,100].
func Score(f Factors) int {
	raw := points(f.AuthorAgeDays, authorAgeTiers) +
		points(f.AuthorFollowers, authorFollowersTiers) +
		points(f.RepoAgeDays, repoAgeTiers) +
		points(f.RepoStars, repoStarsTiers) +
		points(f.RepoForks, repoForksTiers)

	normalized := math.Round(float64(raw) / maxRawScore * 100)
	if normalized > 100 {
		normalized = 100
	}
	return int(normalized)
}

func points(value int, t thresholds) int {
	p := 0
	if value > t.T1 {
		p++
	}
	if value > t.T2 {
		p += 2
	}
	if value > t.T3 {
		p += 4
	}
	return p
}

// FactorsFromSnapshot derives scoring factors from a verification
// snapshot, computing ages relative to now.
func FactorsFromSnapshot(snap *types.VerificationSnapshot, now time.Time) Factors {
	return Factors{
		AuthorAgeDays:   ageDays(snap.AuthorCreatedAt, now),
		AuthorFollowers: snap.AuthorFollowers,
		RepoAgeDays:     ageDays(snap.RepoCreatedAt, now),
		RepoStars:       snap.RepoStars,
		RepoForks:       snap.RepoForks,
	}
}

func ageDays(t, now time.Time) int {
	if t.IsZero() || t.After(now) {
		return 0
	}
	return int(now.Sub(t).Hours() / 24)
}
