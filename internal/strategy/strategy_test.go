package strategy

import (
	"reflect"
	"testing"
	"time"

	"github.com/livefir/streamtemplate/internal/analyzer"
)

func analysisOf(sizeKB float64, complexity float64, kinds int) *analyzer.Analysis {
	a := &analyzer.Analysis{
		SizeKB:     sizeKB,
		Complexity: complexity,
		Hash:       "deadbeef",
	}
	order := []analyzer.EdgeCaseKind{
		analyzer.NestedTables, analyzer.DeepDOM, analyzer.LargeGrid,
		analyzer.ComplexForm, analyzer.HeavyParent,
	}
	for i := 0; i < kinds && i < len(order); i++ {
		a.EdgeCases = append(a.EdgeCases, analyzer.EdgeCase{Kind: order[i], Count: 1})
	}
	return a
}

func TestSizeGates(t *testing.T) {
	tests := []struct {
		name         string
		sizeKB       float64
		complexity   float64
		kinds        int
		wantDecision string
		wantChunking ChunkStrategy
		wantTier     Tier
		wantMode     Mode
	}{
		{
			name:         "below enhanced: single chunk, no optimizer",
			sizeKB:       50,
			wantDecision: "progressive",
			wantChunking: ChunkNone,
			wantTier:     TierNone,
			wantMode:     ModeSequential,
		},
		{
			name:         "mid-size without edge cases",
			sizeKB:       500,
			wantDecision: "enhanced",
			wantChunking: ChunkSection,
			wantTier:     TierNone,
			wantMode:     ModeSequential,
		},
		{
			name:         "mid-size with two edge-case kinds",
			sizeKB:       500,
			kinds:        2,
			wantDecision: "enhanced",
			wantChunking: ChunkSection,
			wantTier:     TierBasic,
			wantMode:     ModeSequential,
		},
		{
			name:         "streaming size, quiet template",
			sizeKB:       2048,
			wantDecision: "streaming",
			wantChunking: ChunkSection,
			wantTier:     TierBasic,
			wantMode:     ModeBoundedParallel,
		},
		{
			name:         "streaming size with high complexity",
			sizeKB:       2048,
			complexity:   80,
			wantDecision: "streaming",
			wantChunking: ChunkSection,
			wantTier:     TierAdvanced,
			wantMode:     ModeBoundedParallel,
		},
		{
			name:         "streaming size with many edge-case kinds",
			sizeKB:       2048,
			kinds:        4,
			wantDecision: "streaming",
			wantChunking: ChunkSection,
			wantTier:     TierAdvanced,
			wantMode:     ModeBoundedParallel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(DefaultConfig(), nil)
			plan := s.Select(analysisOf(tt.sizeKB, tt.complexity, tt.kinds))
			if plan.Justification.Decision != tt.wantDecision {
				t.Errorf("decision = %s, want %s", plan.Justification.Decision, tt.wantDecision)
			}
			if plan.Chunking != tt.wantChunking {
				t.Errorf("chunking = %s, want %s", plan.Chunking, tt.wantChunking)
			}
			if plan.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", plan.Tier, tt.wantTier)
			}
			if plan.Mode != tt.wantMode {
				t.Errorf("mode = %s, want %s", plan.Mode, tt.wantMode)
			}
		})
	}
}

func TestOverComplexityPromotesTier(t *testing.T) {
	s := NewSelector(DefaultConfig(), nil)

	plan := s.Select(analysisOf(50, 90, 0))
	if plan.Tier != TierBasic {
		t.Errorf("small but complex input: tier = %s, want promotion to %s", plan.Tier, TierBasic)
	}

	found := false
	for _, f := range plan.Justification.Factors {
		if f.Name == "complexity_override" && f.Contribution == 90 {
			found = true
		}
	}
	if !found {
		t.Errorf("justification must record the complexity override, got %+v", plan.Justification.Factors)
	}
}

func TestAdvancedTierIsOptIn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdvancedOptimization = false
	s := NewSelector(cfg, nil)
	plan := s.Select(analysisOf(2048, 95, 5))
	if plan.Tier != TierBasic {
		t.Errorf("tier = %s, want cap at %s when advanced is disabled", plan.Tier, TierBasic)
	}
}

func TestAggressiveContraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aggressive = true
	s := NewSelector(cfg, nil)

	t.Run("large input halves budgets", func(t *testing.T) {
		plan := s.Select(analysisOf(6*1024, 0, 0))
		if plan.ChunkTargetSize != cfg.ChunkTargetSize/2 {
			t.Errorf("chunk target = %d, want %d", plan.ChunkTargetSize, cfg.ChunkTargetSize/2)
		}
		if plan.BufferBytes != cfg.BufferBytes/2 {
			t.Errorf("buffer = %d, want %d", plan.BufferBytes, cfg.BufferBytes/2)
		}
	})

	t.Run("high-water mark arms small inputs too", func(t *testing.T) {
		small := s.Select(analysisOf(500, 0, 0))
		if small.ChunkTargetSize != cfg.ChunkTargetSize {
			t.Fatal("small input should not contract before the mark is set")
		}
		s.NoteMemoryHighWater()
		contracted := s.Select(analysisOf(500, 0, 0))
		if contracted.ChunkTargetSize != cfg.ChunkTargetSize/2 {
			t.Errorf("chunk target = %d, want contraction after high-water mark", contracted.ChunkTargetSize)
		}
	})
}

func TestExplicitChunkStrategyOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkStrategy = ChunkDOM
	s := NewSelector(cfg, nil)

	if plan := s.Select(analysisOf(500, 0, 0)); plan.Chunking != ChunkDOM {
		t.Errorf("chunking = %s, want explicit %s", plan.Chunking, ChunkDOM)
	}
	// A single-chunk plan ignores the override.
	if plan := s.Select(analysisOf(10, 0, 0)); plan.Chunking != ChunkNone {
		t.Errorf("chunking = %s, want %s for sub-threshold input", plan.Chunking, ChunkNone)
	}
}

func TestPlanStability(t *testing.T) {
	s := NewSelector(DefaultConfig(), nil)
	a1 := analysisOf(700, 30, 2)
	a2 := analysisOf(700, 30, 2)
	if !reflect.DeepEqual(s.Select(a1), s.Select(a2)) {
		t.Error("equal analyses must produce equal plans")
	}
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 2)
	s := NewSelector(DefaultConfig(), cache)

	a := analysisOf(500, 0, 0)
	first := s.Select(a)
	second := s.Select(a)
	if first != second {
		t.Error("second select must return the cached plan instance")
	}
	if cache.HitRate() <= 0 {
		t.Errorf("hit rate = %f, want > 0", cache.HitRate())
	}

	t.Run("eviction respects capacity", func(t *testing.T) {
		cache.Record("k1", &Plan{})
		cache.Record("k2", &Plan{})
		cache.Record("k3", &Plan{})
		if cache.Len() > 2 {
			t.Errorf("len = %d, want at most 2", cache.Len())
		}
	})

	t.Run("ttl expiry", func(t *testing.T) {
		short := NewMemoryCache(time.Nanosecond, 10)
		short.Record("k", &Plan{})
		time.Sleep(time.Millisecond)
		if _, ok := short.Lookup("k"); ok {
			t.Error("expired entry must miss")
		}
	})
}

func TestCachelessModeIsFirstClass(t *testing.T) {
	s := NewSelector(DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		if plan := s.Select(analysisOf(500, 0, 0)); plan == nil {
			t.Fatal("nil plan without cache")
		}
	}
}

func TestConfigFingerprintDistinguishesConfigs(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	b.ChunkTargetSize = a.ChunkTargetSize / 2
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different configurations must not share a fingerprint")
	}
}
