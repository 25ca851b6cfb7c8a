package keyer

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BTProxy/internal/domain/models"
)

func baseSignal() models.Signal {
	return models.Signal{
		Strategy:       models.StrategyDoubleDiagonal,
		Underlying:     "SPY",
		DTE:            14,
		WidthToEM:      1,
		IVRank:         42,
		Front:          models.Days(14),
		Back:           models.Days(45),
		ExitTakeProfit: 0.35,
		ExitStopLoss:   1,
	}
}

var keyShape = regexp.MustCompile(`^bt:sum:[0-9a-f]{16}$`)

func TestDeriveKeyShapeAndDeterminism(t *testing.T) {
	sig := baseSignal()
	k := DeriveKey(sig, 2)
	assert.Regexp(t, keyShape, k)
	for i := 0; i < 10; i++ {
		assert.Equal(t, k, DeriveKey(sig, 2))
	}
}

func TestDeriveKeyConcurrent(t *testing.T) {
	sig := baseSignal()
	want := DeriveKey(sig, 2)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, DeriveKey(sig, 2))
		}()
	}
	wg.Wait()
}

func TestDeriveKeyNormalization(t *testing.T) {
	base := DeriveKey(baseSignal(), 2)

	s := baseSignal()
	s.IVRank = 41
	assert.Equal(t, base, DeriveKey(s, 2), "iv rank within bucket")

	s = baseSignal()
	s.Underlying = " spy "
	assert.Equal(t, base, DeriveKey(s, 2), "underlying case and spaces")

	s = baseSignal()
	s.ExitTakeProfit = 0.35000000001
	s.DTE = 14.2
	assert.Equal(t, base, DeriveKey(s, 2), "float noise")

	s = baseSignal()
	s.WidthToEM = 1.7
	assert.Equal(t, base, DeriveKey(s, 2), "width is not keyed")
}

func TestDeriveKeyDistinguishes(t *testing.T) {
	base := DeriveKey(baseSignal(), 2)

	s := baseSignal()
	s.Strategy = models.StrategyCalendar
	assert.NotEqual(t, base, DeriveKey(s, 2), "strategy")

	s = baseSignal()
	s.IVRank = 60
	assert.NotEqual(t, base, DeriveKey(s, 2), "iv bucket")

	s = baseSignal()
	s.Back = nil
	assert.NotEqual(t, base, DeriveKey(s, 2), "absent back leg")

	s = baseSignal()
	s.ExitStopLoss = 1.5
	assert.NotEqual(t, base, DeriveKey(s, 2), "stop loss")

	assert.NotEqual(t, base, DeriveKey(baseSignal(), 3), "horizon")
}

func TestCanonicalEncoding(t *testing.T) {
	sig := models.Signal{
		Strategy:       models.StrategyIronCondor,
		Underlying:     "qqq",
		DTE:            30.4,
		IVRank:         27.4,
		ExitTakeProfit: 0.5,
		ExitStopLoss:   2,
	}
	got := string(Canonical(sig, 1))
	want := `{"back":-1,"dte":30,"front":-1,"horizon":1,"iv_rank_bucket":25,"schema":3,` +
		`"sl":2,"strategy":"iron_condor","tp":0.5,"underlying":"QQQ"}`
	require.Equal(t, want, got)
}

func TestIVRankBucket(t *testing.T) {
	cases := map[float64]int{0: 0, 2.4: 0, 2.5: 5, 42: 40, 43: 45, 97.6: 100}
	for in, want := range cases {
		assert.Equal(t, want, IVRankBucket(in), "iv rank %v", in)
	}
	assert.Equal(t, "bt:sum:*", Pattern())
}
