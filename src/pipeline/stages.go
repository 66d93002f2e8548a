package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"livefeed/src/model"
)

const (
	AgentContext    = "MarketContextAgent"
	AgentPattern    = "StructurePatternAgent"
	AgentValidation = "ValidationAgent"
	AgentRisk       = "RiskAgent"
	AgentExecution  = "ExecutionAgent"
	AgentGuidance   = "GuidanceAgent"
)

// Agents lists the stages in pipeline order.
var Agents = []string{AgentContext, AgentPattern, AgentValidation, AgentRisk, AgentExecution, AgentGuidance}

const (
	TrendBullish  = "Bullish"
	TrendBearish  = "Bearish"
	TrendSideways = "Sideways"

	PatternBOS   = "BOS"
	PatternCHoCH = "CHoCH"
	PatternNone  = "None"
)

const (
	trendThreshold    = 0.002
	highVolThreshold  = 0.01
	modVolThreshold   = 0.005
	contextConfidence = 82
	neutralConfidence = 55
	neutralCap        = 65
)

// ----- context -----

// AnalyzeContext classifies trend from the move against the reference close
// and volatility from the day range, or from the move when no range is known.
func AnalyzeContext(t model.Tick, at time.Time) model.PipelineEvent {
	diff := 0.0
	if t.Close > 0 {
		diff = (t.LastPrice - t.Close) / t.Close
	}

	trend, decision, confidence := TrendSideways, model.DecisionNeutral, neutralConfidence
	switch {
	case diff > trendThreshold:
		trend, decision, confidence = TrendBullish, model.DecisionApproved, contextConfidence
	case diff < -trendThreshold:
		trend, decision, confidence = TrendBearish, model.DecisionApproved, contextConfidence
	}

	swing := math.Abs(diff)
	if t.High > 0 && t.Low > 0 && t.High >= t.Low && t.Close > 0 {
		swing = (t.High - t.Low) / t.Close
	}
	volatility := "Low"
	switch {
	case swing > highVolThreshold:
		volatility = "High"
	case swing > modVolThreshold:
		volatility = "Moderate"
	}

	liquidity := "Moderate"
	if t.Volume == 0 || t.Volume > 1000 {
		liquidity = "High"
	}

	reason := fmt.Sprintf("Market is in a %s phase with %s volatility.", strings.ToLower(trend), strings.ToLower(volatility))
	if decision == model.DecisionNeutral {
		reason = "Market is in a neutral consolidation phase. Awaiting volatility expansion."
	}

	return model.NewPipelineEvent(AgentContext, t.Instrument, at, decision, confidence, reason,
		map[string]any{
			"trend":      trend,
			"volatility": volatility,
			"liquidity":  liquidity,
			"change_pct": round(diff*100, 3),
		},
		map[string]any{"ltp": t.LastPrice, "close": t.Close},
	)
}

// ----- pattern -----

// Signal is what a PatternDetector reports for one tick.
type Signal struct {
	Pattern    string
	Confidence int
	Reason     string
}

// PatternDetector must be pure: the same tick always yields the same signal.
type PatternDetector interface {
	Detect(t model.Tick) Signal
}

type PatternFunc func(t model.Tick) Signal

func (f PatternFunc) Detect(t model.Tick) Signal { return f(t) }

// RangeBreakDetector reports a break of structure when price trades at or
// above the session high and a change of character at or below the low.
type RangeBreakDetector struct{}

func (RangeBreakDetector) Detect(t model.Tick) Signal {
	if t.High <= 0 || t.Low <= 0 || t.LastPrice <= 0 {
		return Signal{Pattern: PatternNone, Reason: "No session range available for structural analysis."}
	}
	switch {
	case t.LastPrice >= t.High:
		return Signal{
			Pattern:    PatternBOS,
			Confidence: 78,
			Reason:     fmt.Sprintf("Break of Structure (BOS) detected at %.2f. Shift in supply/demand confirmed.", t.LastPrice),
		}
	case t.LastPrice <= t.Low:
		return Signal{
			Pattern:    PatternCHoCH,
			Confidence: 75,
			Reason:     fmt.Sprintf("Change of Character (CHoCH) at %.2f. Counter-trend transition potential identified.", t.LastPrice),
		}
	}
	return Signal{Pattern: PatternNone, Reason: "No significant structural patterns detected in current price window."}
}

func DetectPattern(d PatternDetector, t model.Tick, at time.Time) model.PipelineEvent {
	sig := d.Detect(t)
	if sig.Pattern == "" {
		sig.Pattern = PatternNone
	}
	decision, confidence := model.DecisionNeutral, 0
	if sig.Pattern != PatternNone {
		decision, confidence = model.DecisionApproved, sig.Confidence
	}
	reason := sig.Reason
	if reason == "" {
		reason = "Scanning for structural developments."
	}
	return model.NewPipelineEvent(AgentPattern, t.Instrument, at, decision, confidence, reason,
		map[string]any{
			"pattern":             sig.Pattern,
			"price_level":         round(t.LastPrice, 2),
			"structural_validity": sig.Pattern != PatternNone,
		},
		map[string]any{"ltp": t.LastPrice},
	)
}

// ----- validation -----

// Validate applies the confluence table to the context and pattern events.
func Validate(symbol string, contextEv, patternEv model.PipelineEvent, at time.Time) model.PipelineEvent {
	trend := contextEv.String("trend")
	if trend == "" {
		trend = TrendSideways
	}
	pattern := patternEv.String("pattern")
	if pattern == "" {
		pattern = PatternNone
	}
	directional := trend == TrendBullish || trend == TrendBearish
	structural := pattern != PatternNone

	decision, confidence := model.DecisionRejected, 45
	reason := "Awaiting Trend + Structure alignment for institutional execution."
	switch {
	case trend == TrendBullish && pattern == PatternBOS:
		decision, confidence = model.DecisionApproved, 88
		reason = "Trend + Structure aligned; Bullish Breakout confirmed with high confluence."
	case trend == TrendBearish && pattern == PatternCHoCH:
		decision, confidence = model.DecisionApproved, 85
		reason = "Market character change detected; Bearish momentum confirmed via structural shift."
	case structural:
		decision, confidence = model.DecisionFiltered, 50
		reason = fmt.Sprintf("Filtered: %s context does not support %s structural signal at this time.", trend, pattern)
	case directional:
		decision, confidence = model.DecisionFiltered, 50
		reason = fmt.Sprintf("Filtered: %s context has no structural confirmation yet.", trend)
	}

	if patternEv.Approved() && contextEv.Decision == model.DecisionNeutral && confidence > neutralCap {
		confidence = neutralCap
		reason += " (Confidence downgraded: Context remains neutral despite structural break)"
	}

	allowed := decision == model.DecisionApproved
	return model.NewPipelineEvent(AgentValidation, symbol, at, decision, confidence, reason,
		map[string]any{
			"trend":           trend,
			"pattern":         pattern,
			"trend_alignment": allowed,
			"htf_agreement":   confidence > 80,
		},
		map[string]any{"allowed": allowed, "reason": reason},
	)
}

// ----- guidance -----

const defaultAdvice = "System is scanning for high-probability setups."

// Advise explains the newest decisive event among recent, which is ordered
// oldest first.
func Advise(recent []model.PipelineEvent, at time.Time) model.PipelineEvent {
	advice := defaultAdvice
	var source *model.PipelineEvent

scan:
	for i := len(recent) - 1; i >= 0; i-- {
		e := recent[i]
		switch e.Agent {
		case AgentRisk:
			if e.Decision == model.DecisionRejected {
				advice = fmt.Sprintf("ADVICE: Trade blocked because %s This protects your remaining capital.", e.Reason)
				source = &recent[i]
				break scan
			}
		case AgentValidation:
			if e.Decision != model.DecisionApproved {
				advice = fmt.Sprintf("ADVICE: Entry %s! %s Wait for higher-confidence confluence.", strings.ToLower(string(e.Decision)), e.Reason)
				source = &recent[i]
				break scan
			}
		case AgentExecution:
			if e.Decision == model.DecisionRejected {
				advice = fmt.Sprintf("ADVICE: Execution halted. %s", e.Reason)
			} else {
				advice = "ADVICE: Trade executed! Monitoring SL/TP targets based on structural volatility."
			}
			source = &recent[i]
			break scan
		}
	}

	ctx := map[string]any{"window": len(recent)}
	if source != nil {
		ctx["source_agent"] = source.Agent
		ctx["source_symbol"] = source.Symbol
		ctx["source_decision"] = string(source.Decision)
		ctx["source_event_id"] = source.ID
	}
	return model.NewPipelineEvent(AgentGuidance, "GLOBAL", at, model.DecisionNeutral, 100, advice, ctx,
		map[string]any{"advice": advice, "style": "rule-based"},
	)
}

// ----- helpers -----

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
