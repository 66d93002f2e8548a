package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"livefeed/src/model"
)

var at = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestAnalyzeContext(t *testing.T) {
	tests := []struct {
		name       string
		tick       model.Tick
		trend      string
		decision   model.Decision
		confidence int
		volatility string
	}{
		{"bullish", model.Tick{Instrument: "NIFTY", LastPrice: 24512.35, Close: 24450}, TrendBullish, model.DecisionApproved, 82, "Low"},
		{"bearish", model.Tick{Instrument: "NIFTY", LastPrice: 24300, Close: 24450}, TrendBearish, model.DecisionApproved, 82, "Moderate"},
		{"sideways", model.Tick{Instrument: "NIFTY", LastPrice: 24460, Close: 24450}, TrendSideways, model.DecisionNeutral, 55, "Low"},
		{"no close", model.Tick{Instrument: "GOLD", LastPrice: 62000}, TrendSideways, model.DecisionNeutral, 55, "Low"},
		{"wide range", model.Tick{Instrument: "GOLD", LastPrice: 100.1, Close: 100, High: 101.5, Low: 99.9}, TrendSideways, model.DecisionNeutral, 55, "High"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := AnalyzeContext(tt.tick, at)
			assert.Equal(t, AgentContext, ev.Agent)
			assert.Equal(t, tt.trend, ev.String("trend"))
			assert.Equal(t, tt.decision, ev.Decision)
			assert.Equal(t, tt.confidence, ev.Confidence)
			assert.Equal(t, tt.volatility, ev.String("volatility"))
			assert.NotEmpty(t, ev.ID)
		})
	}
}

func TestRangeBreakDetector(t *testing.T) {
	d := RangeBreakDetector{}

	bos := d.Detect(model.Tick{LastPrice: 105, High: 105, Low: 100})
	assert.Equal(t, PatternBOS, bos.Pattern)
	assert.Equal(t, 78, bos.Confidence)

	choch := d.Detect(model.Tick{LastPrice: 99, High: 105, Low: 100})
	assert.Equal(t, PatternCHoCH, choch.Pattern)
	assert.Equal(t, 75, choch.Confidence)

	assert.Equal(t, PatternNone, d.Detect(model.Tick{LastPrice: 102, High: 105, Low: 100}).Pattern)
	assert.Equal(t, PatternNone, d.Detect(model.Tick{LastPrice: 102}).Pattern)

	// same input, same answer
	assert.Equal(t, bos, d.Detect(model.Tick{LastPrice: 105, High: 105, Low: 100}))
}

func TestDetectPatternEvent(t *testing.T) {
	ev := DetectPattern(PatternFunc(func(model.Tick) Signal { return Signal{} }), model.Tick{Instrument: "GOLD", LastPrice: 10}, at)
	assert.Equal(t, PatternNone, ev.String("pattern"))
	assert.Equal(t, model.DecisionNeutral, ev.Decision)
	assert.Zero(t, ev.Confidence)
}

func TestValidateConfluence(t *testing.T) {
	ctxEv := func(trend string) model.PipelineEvent {
		d := model.DecisionApproved
		if trend == TrendSideways {
			d = model.DecisionNeutral
		}
		return model.NewPipelineEvent(AgentContext, "X", at, d, 82, "", map[string]any{"trend": trend}, nil)
	}
	patEv := func(pattern string) model.PipelineEvent {
		d := model.DecisionApproved
		if pattern == PatternNone {
			d = model.DecisionNeutral
		}
		return model.NewPipelineEvent(AgentPattern, "X", at, d, 78, "", map[string]any{"pattern": pattern}, nil)
	}

	tests := []struct {
		trend, pattern string
		decision       model.Decision
		confidence     int
	}{
		{TrendBullish, PatternBOS, model.DecisionApproved, 88},
		{TrendBearish, PatternCHoCH, model.DecisionApproved, 85},
		{TrendBullish, PatternCHoCH, model.DecisionFiltered, 50},
		{TrendBearish, PatternBOS, model.DecisionFiltered, 50},
		{TrendSideways, PatternBOS, model.DecisionFiltered, 50},
		{TrendBullish, PatternNone, model.DecisionFiltered, 50},
		{TrendSideways, PatternNone, model.DecisionRejected, 45},
	}
	for _, tt := range tests {
		t.Run(tt.trend+"_"+tt.pattern, func(t *testing.T) {
			ev := Validate("X", ctxEv(tt.trend), patEv(tt.pattern), at)
			assert.Equal(t, tt.decision, ev.Decision)
			assert.Equal(t, tt.confidence, ev.Confidence)
			assert.Equal(t, tt.decision == model.DecisionApproved, ev.Payload["allowed"])
		})
	}
}

func TestValidateNeutralCap(t *testing.T) {
	// a context that reports a trend while staying neutral forces the cap
	ctx := model.NewPipelineEvent(AgentContext, "X", at, model.DecisionNeutral, 55, "", map[string]any{"trend": TrendBullish}, nil)
	pat := model.NewPipelineEvent(AgentPattern, "X", at, model.DecisionApproved, 78, "", map[string]any{"pattern": PatternBOS}, nil)

	ev := Validate("X", ctx, pat, at)
	assert.Equal(t, model.DecisionApproved, ev.Decision)
	assert.Equal(t, 65, ev.Confidence)
	assert.Contains(t, ev.Reason, "Confidence downgraded")
}

func TestAdvisePriority(t *testing.T) {
	mk := func(agent string, d model.Decision, reason string) model.PipelineEvent {
		return model.NewPipelineEvent(agent, "NIFTY", at, d, 50, reason, nil, nil)
	}

	ev := Advise(nil, at)
	assert.Equal(t, "GLOBAL", ev.Symbol)
	assert.Equal(t, defaultAdvice, ev.Payload["advice"])

	ev = Advise([]model.PipelineEvent{
		mk(AgentExecution, model.DecisionApproved, "filled"),
		mk(AgentValidation, model.DecisionFiltered, "Filtered: no structure."),
	}, at)
	assert.Contains(t, ev.Reason, "Entry filtered!")
	assert.Equal(t, AgentValidation, ev.Context["source_agent"])

	ev = Advise([]model.PipelineEvent{
		mk(AgentValidation, model.DecisionApproved, ""),
		mk(AgentRisk, model.DecisionRejected, "Daily loss limit (1%) reached. Trading suspended."),
	}, at)
	assert.Contains(t, ev.Reason, "Trade blocked because Daily loss limit")

	ev = Advise([]model.PipelineEvent{
		mk(AgentRisk, model.DecisionApproved, ""),
		mk(AgentExecution, model.DecisionApproved, "filled"),
	}, at)
	assert.Contains(t, ev.Reason, "Trade executed!")
}
