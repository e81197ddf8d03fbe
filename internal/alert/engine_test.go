package alert

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"btcalerts/internal/model"
	"btcalerts/internal/notification"
)

var (
	testTFs  = []string{"1m", "1h"}
	testInds = model.IndicatorNames
)

// recorder is a Notifier that keeps every alert it receives.
type recorder struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recorder) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newTestEngine(n notification.Notifier, opts ...Option) *Engine {
	return New(testTFs, testInds, DefaultRule(), n, opts...)
}

// far returns a set whose every value is far from 100 except the ones overridden.
func far() model.IndicatorSet {
	return model.IndicatorSet{
		RSI:    50,
		EMA20:  200,
		EMA50:  200,
		EMA200: 200,
		BB:     model.Bands{Upper: 300, Middle: 200, Lower: 150},
	}
}

func TestEvaluate_FiresOnceThenSilent(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(rec)

	set := far()
	set.EMA20 = 100.05 // within 0.1% of 100
	sets := map[string]model.IndicatorSet{"1m": set}

	first := e.Evaluate(context.Background(), 100, sets)
	if len(first) != 1 || first[0].Key != "1m_EMA20" {
		t.Fatalf("expected single 1m_EMA20 firing, got %+v", first)
	}
	second := e.Evaluate(context.Background(), 100, sets)
	if len(second) != 0 {
		t.Fatalf("active alert re-fired: %+v", second)
	}
	if rec.count() != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", rec.count())
	}

	if !e.ClearAlert("1m_EMA20") {
		t.Fatal("ClearAlert should report removal")
	}
	if again := e.Evaluate(context.Background(), 100, sets); len(again) != 1 {
		t.Fatalf("expected re-fire after clear, got %+v", again)
	}
	if rec.count() != 2 {
		t.Fatalf("expected 2 notifications after clear, got %d", rec.count())
	}
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  bool
	}{
		{"exact", 100, true},
		{"inside", 100.09, true},
		{"outside", 100.2, false},
		{"below outside", 99.8, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(nil)
			set := far()
			set.EMA50 = tc.value
			got := e.Evaluate(context.Background(), 100, map[string]model.IndicatorSet{"1h": set})
			if (len(got) == 1) != tc.want {
				t.Fatalf("value %v: fired=%v, want %v", tc.value, len(got) == 1, tc.want)
			}
		})
	}
}

func TestEvaluate_BollingerBandsIndependent(t *testing.T) {
	e := newTestEngine(nil)
	set := far()
	set.BB = model.Bands{Upper: 100.01, Middle: 99.98, Lower: 90}

	got := e.Evaluate(context.Background(), 100, map[string]model.IndicatorSet{"1m": set})
	keys := map[string]bool{}
	for _, f := range got {
		keys[f.Key] = true
	}
	if len(got) != 2 || !keys["1m_BB_upper"] || !keys["1m_BB_middle"] {
		t.Fatalf("expected upper+middle firings, got %+v", got)
	}
	if active := e.Active(); len(active) != 2 || active[0] != "1m_BB_middle" {
		t.Fatalf("unexpected active set %v", active)
	}
}

func TestEvaluate_DisabledRuleAndZeroValues(t *testing.T) {
	e := newTestEngine(nil)
	if err := e.SetRule("1m", "EMA20", false, 0.1); err != nil {
		t.Fatal(err)
	}
	set := far()
	set.EMA20 = 100
	set.EMA200 = 0 // not enough data

	// A 100% threshold would match 0 if zero values were evaluated.
	if err := e.SetRule("1m", "EMA200", true, 100); err != nil {
		t.Fatal(err)
	}
	got := e.Evaluate(context.Background(), 100, map[string]model.IndicatorSet{"1m": set})
	for _, f := range got {
		if f.Indicator == model.IndEMA20 || f.Indicator == model.IndEMA200 {
			t.Fatalf("unexpected firing %+v", f)
		}
	}
}

func TestEvaluate_UnknownTimeframeIgnored(t *testing.T) {
	e := newTestEngine(nil)
	set := far()
	set.EMA20 = 100
	if got := e.Evaluate(context.Background(), 100, map[string]model.IndicatorSet{"5m": set}); len(got) != 0 {
		t.Fatalf("unconfigured tf fired: %+v", got)
	}
	if got := e.Evaluate(context.Background(), math.NaN(), map[string]model.IndicatorSet{"1m": set}); got != nil {
		t.Fatal("NaN price should not evaluate")
	}
}

func TestPriceAlert_OneShot(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(rec)

	pa, err := e.AddPriceAlert(decimal.NewFromInt(50000))
	if err != nil {
		t.Fatal(err)
	}
	if pa.ID == "" {
		t.Fatal("price alert id not set")
	}

	ctx := context.Background()
	for _, p := range []string{"49000", "49900", "49960", "50010", "49990"} {
		e.CheckPriceAlerts(ctx, decimal.RequireFromString(p))
	}

	if rec.count() != 1 {
		t.Fatalf("expected exactly one firing, got %d", rec.count())
	}
	if len(e.PriceAlerts()) != 0 {
		t.Fatal("price alert should be consumed")
	}
	if rec.alerts[0].Key != "price_50000.00" || rec.alerts[0].Kind != notification.KindPrice {
		t.Fatalf("unexpected alert %+v", rec.alerts[0])
	}
	found := false
	for _, k := range e.Active() {
		found = found || k == "price_50000.00"
	}
	if !found {
		t.Fatal("price key missing from active set")
	}
}

func TestPriceAlert_ReAddSameTargetNotifiesAgain(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(rec)
	ctx := context.Background()
	target := decimal.NewFromInt(50000)

	e.AddPriceAlert(target)
	e.CheckPriceAlerts(ctx, target)
	if rec.count() != 1 {
		t.Fatalf("first alert: expected 1 notification, got %d", rec.count())
	}

	if _, err := e.AddPriceAlert(target); err != nil {
		t.Fatal(err)
	}
	for _, k := range e.Active() {
		if k == PriceKey(target) {
			t.Fatal("re-adding the target should clear its active key")
		}
	}
	if got := e.CheckPriceAlerts(ctx, target); len(got) != 1 {
		t.Fatalf("re-added alert should fire, got %d firings", len(got))
	}
	if rec.count() != 2 {
		t.Fatalf("expected a second notification, got %d", rec.count())
	}
	if len(e.PriceAlerts()) != 0 {
		t.Fatal("re-added alert should be consumed")
	}
}

func TestEvaluate_SlowNotifierBehindQueueDoesNotStall(t *testing.T) {
	slow := notification.NotifierFunc(func(ctx context.Context, _ notification.Alert) error {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	})
	q := notification.NewQueue(slow, 64, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	e := newTestEngine(q, WithPriceTolerance(0.01))
	if err := e.SetRule("1m", model.IndBB, true, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.SetRule("1m", model.IndEMA20, true, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.SetRule("1m", model.IndEMA50, true, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.SetRule("1m", model.IndEMA200, true, 1); err != nil {
		t.Fatal(err)
	}
	set := model.IndicatorSet{
		RSI:    50,
		EMA20:  100.2,
		EMA50:  100.4,
		EMA200: 99.6,
		BB:     model.Bands{Upper: 100.5, Middle: 100, Lower: 99.5},
	}
	e.AddPriceAlert(decimal.NewFromFloat(100.3))

	start := time.Now()
	fired := e.Evaluate(ctx, 100, map[string]model.IndicatorSet{"1m": set})
	fired = append(fired, e.CheckPriceAlerts(ctx, decimal.NewFromInt(100))...)
	elapsed := time.Since(start)

	if len(fired) != 7 {
		t.Fatalf("expected 7 firings, got %d", len(fired))
	}
	if elapsed > 100*time.Millisecond {
		t.Fatalf("evaluation took %v with a slow notifier", elapsed)
	}
}

func TestPriceAlert_Tolerance(t *testing.T) {
	e := newTestEngine(nil, WithPriceTolerance(0.01))
	if _, err := e.AddPriceAlert(decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}
	if got := e.CheckPriceAlerts(context.Background(), decimal.NewFromFloat(101.5)); len(got) != 0 {
		t.Fatal("1.5% away should not fire with 1% tolerance")
	}
	if got := e.CheckPriceAlerts(context.Background(), decimal.NewFromFloat(100.9)); len(got) != 1 {
		t.Fatal("0.9% away should fire with 1% tolerance")
	}
}

func TestPriceAlert_KeepsUntriggered(t *testing.T) {
	e := newTestEngine(nil)
	a, _ := e.AddPriceAlert(decimal.NewFromInt(100))
	b, _ := e.AddPriceAlert(decimal.NewFromInt(200))
	c, _ := e.AddPriceAlert(decimal.NewFromInt(300))

	e.CheckPriceAlerts(context.Background(), decimal.NewFromInt(200))

	pending := e.PriceAlerts()
	if len(pending) != 2 || pending[0].ID != a.ID || pending[1].ID != c.ID {
		t.Fatalf("unexpected pending list %+v", pending)
	}
	if e.RemovePriceAlert(b.ID) {
		t.Fatal("consumed alert should not be removable")
	}
	if !e.RemovePriceAlert(a.ID) || len(e.PriceAlerts()) != 1 {
		t.Fatal("RemovePriceAlert failed")
	}
}

func TestAddPriceAlert_RejectsNonPositive(t *testing.T) {
	e := newTestEngine(nil)
	for _, v := range []int64{0, -5} {
		if _, err := e.AddPriceAlert(decimal.NewFromInt(v)); !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("target %d: expected ErrInvalidPrice, got %v", v, err)
		}
	}
	if len(e.PriceAlerts()) != 0 {
		t.Fatal("invalid alert was stored")
	}
}

func TestSetRule_Validation(t *testing.T) {
	e := newTestEngine(nil)
	before := e.Rules()

	cases := []struct {
		tf, ind string
		thr     float64
	}{
		{"5m", "EMA20", 0.1},
		{"1m", "MACD", 0.1},
		{"1m", "EMA20", -1},
		{"1m", "EMA20", math.NaN()},
		{"1m", "EMA20", math.Inf(1)},
	}
	for _, tc := range cases {
		if err := e.SetRule(tc.tf, tc.ind, true, tc.thr); !errors.Is(err, ErrInvalidRule) {
			t.Errorf("SetRule(%s,%s,%v): expected ErrInvalidRule, got %v", tc.tf, tc.ind, tc.thr, err)
		}
	}
	after := e.Rules()
	if after["1m"]["EMA20"] != before["1m"]["EMA20"] {
		t.Fatal("rule changed after rejected update")
	}

	if err := e.SetRule("1h", "bb", false, 0.5); err != nil {
		t.Fatalf("valid SetRule failed: %v", err)
	}
	if r := e.Rules()["1h"]["BB"]; r.Enabled || r.ThresholdPercent != 0.5 {
		t.Fatalf("rule not applied: %+v", r)
	}
}

func TestRules_ReturnsCopy(t *testing.T) {
	e := newTestEngine(nil)
	r := e.Rules()
	r["1m"]["RSI"] = Rule{Enabled: false, ThresholdPercent: 9}
	if got := e.Rules()["1m"]["RSI"]; got != DefaultRule() {
		t.Fatalf("Rules copy leaked into engine: %+v", got)
	}
}

func TestResetAlerts(t *testing.T) {
	e := newTestEngine(nil)
	set := far()
	set.EMA20 = 100
	e.Evaluate(context.Background(), 100, map[string]model.IndicatorSet{"1m": set, "1h": set})
	if len(e.Active()) != 2 {
		t.Fatalf("expected 2 active, got %v", e.Active())
	}
	e.ResetAlerts()
	if len(e.Active()) != 0 {
		t.Fatal("active set not cleared")
	}
	if e.ClearAlert("1m_EMA20") {
		t.Fatal("ClearAlert on empty set should be false")
	}
}

func TestEvaluate_NotifyErrorNotFatal(t *testing.T) {
	failing := notification.NotifierFunc(func(context.Context, notification.Alert) error {
		return errors.New("down")
	})
	e := newTestEngine(failing)
	var errs, fires int
	e.OnNotifyError = func(error) { errs++ }
	e.OnFire = func(Firing) { fires++ }

	set := far()
	set.EMA20 = 100
	got := e.Evaluate(context.Background(), 100, map[string]model.IndicatorSet{"1m": set})
	if len(got) != 1 || fires != 1 || errs != 1 {
		t.Fatalf("got firings=%d fires=%d errs=%d", len(got), fires, errs)
	}
	if len(e.Active()) != 1 {
		t.Fatal("firing should stay active despite notify failure")
	}
}

func TestEngine_ConcurrentMutation(t *testing.T) {
	e := newTestEngine(nil)
	set := far()
	set.EMA20 = 100
	sets := map[string]model.IndicatorSet{"1m": set}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				e.Evaluate(context.Background(), 100, sets)
				e.CheckPriceAlerts(context.Background(), decimal.NewFromInt(100))
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = e.SetRule("1m", "EMA20", j%2 == 0, 0.1)
				e.ClearAlert("1m_EMA20")
				_, _ = e.AddPriceAlert(decimal.NewFromInt(int64(100 + i)))
				_ = e.Active()
			}
		}(i)
	}
	wg.Wait()

	for _, k := range e.Active() {
		if k == "" {
			t.Fatal("corrupted key in active set")
		}
	}
}

func TestFiring_AlertText(t *testing.T) {
	f := Firing{Key: "1m_BB_upper", Kind: notification.KindIndicator, TF: "1m", Indicator: "BB", Band: "upper", Value: 100.12, Price: 100}
	a := f.Alert()
	if a.Title != "1m BB upper alert" || a.Key != "1m_BB_upper" || a.Level != notification.AlertInfo {
		t.Fatalf("unexpected alert %+v", a)
	}
}
