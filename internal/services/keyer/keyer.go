package keyer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"

	"BTProxy/internal/domain/models"
	"BTProxy/pkg/cache"
)

const (
	// SchemaVersion must be bumped whenever normalization or the simulation
	// statistics change, so old and new summaries never share a key.
	SchemaVersion = 3

	Namespace = "bt:sum"
	Prefix    = Namespace + ":"

	// absentLeg encodes an unset front/back day count.
	absentLeg = -1
)

// payload is the canonical form of a signal. Fields are declared in JSON
// name order so the encoding is byte-stable.
type payload struct {
	Back         int     `json:"back"`
	DTE          int     `json:"dte"`
	Front        int     `json:"front"`
	Horizon      int     `json:"horizon"`
	IVRankBucket int     `json:"iv_rank_bucket"`
	Schema       int     `json:"schema"`
	SL           float64 `json:"sl"`
	Strategy     string  `json:"strategy"`
	TP           float64 `json:"tp"`
	Underlying   string  `json:"underlying"`
}

// DeriveKey returns "bt:sum:" followed by the first 16 hex chars of the
// SHA-256 of the canonical signal encoding. Pure and safe for concurrent use.
func DeriveKey(sig models.Signal, horizonYears int) string {
	return cache.GenerateKey(Namespace, Digest(sig, horizonYears))
}

// Digest is the bare 16-char fingerprint.
func Digest(sig models.Signal, horizonYears int) string {
	b := Canonical(sig, horizonYears)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// Canonical returns the normalized encoding that gets hashed.
func Canonical(sig models.Signal, horizonYears int) []byte {
	p := payload{
		Back:         leg(sig.Back),
		DTE:          int(math.Round(finite(sig.DTE))),
		Front:        leg(sig.Front),
		Horizon:      horizonYears,
		IVRankBucket: IVRankBucket(sig.IVRank),
		Schema:       SchemaVersion,
		SL:           round4(sig.ExitStopLoss),
		Strategy:     strings.ToLower(string(sig.Strategy)),
		TP:           round4(sig.ExitTakeProfit),
		Underlying:   strings.ToUpper(strings.TrimSpace(sig.Underlying)),
	}
	// A struct of finite scalars always encodes.
	b, _ := json.Marshal(p)
	return b
}

// IVRankBucket snaps an IV rank to the nearest multiple of 5.
func IVRankBucket(ivRank float64) int {
	return int(math.Round(finite(ivRank)/5)) * 5
}

// Pattern is the glob matching every summary key.
func Pattern() string {
	return cache.BuildPattern(Prefix)
}

func leg(days *int) int {
	if days == nil {
		return absentLeg
	}
	return *days
}

func round4(f float64) float64 {
	return math.Round(finite(f)*1e4) / 1e4
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
