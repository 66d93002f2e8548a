package connectors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"livefeed/src/model"
)

// wireNumber accepts 123.4, "123.4" and "" on the wire. Inf and NaN are
// parse errors.
type wireNumber float64

func (n *wireNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid number %s: %v", model.ErrParse, s, err)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("%w: non-finite number %s", model.ErrParse, s)
	}
	*n = wireNumber(f)
	return nil
}

// wireString accepts a JSON string or number.
type wireString string

func (w *wireString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = unquoted
	}
	*w = wireString(s)
	return nil
}

// Frame is one message of the streaming channel. Pointer fields are nil
// when the venue omitted them, which is common on partial updates.
type Frame struct {
	Type      string      `json:"t"`
	Key       string      `json:"k"`
	Exchange  string      `json:"e"`
	Token     wireString  `json:"tk"`
	LastPrice *wireNumber `json:"lp"`
	LTP       *wireNumber `json:"ltp"`
	Volume    *wireNumber `json:"v"`
	Bid       *wireNumber `json:"bp1"`
	Ask       *wireNumber `json:"sp1"`
	OI        *wireNumber `json:"oi"`
	Close     *wireNumber `json:"c"`
	Open      *wireNumber `json:"o"`
	High      *wireNumber `json:"h"`
	Low       *wireNumber `json:"l"`
}

// ParseFrame decodes any JSON object frame.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return f, fmt.Errorf("%w: frame is not an object", model.ErrParse)
	}
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return f, fmt.Errorf("%w: %v", model.ErrParse, err)
	}
	return f, nil
}

// ParseTickFrame decodes a frame and rejects control or heartbeat frames,
// i.e. anything without lp/ltp.
func ParseTickFrame(raw []byte) (Frame, error) {
	f, err := ParseFrame(raw)
	if err != nil {
		return f, err
	}
	if _, ok := f.Price(); !ok {
		return f, fmt.Errorf("%w: control frame type %q", model.ErrParse, f.Type)
	}
	if f.Token == "" {
		return f, fmt.Errorf("%w: tick without token", model.ErrParse)
	}
	return f, nil
}

// Price prefers lp over ltp.
func (f Frame) Price() (float64, bool) {
	if f.LastPrice != nil {
		return float64(*f.LastPrice), true
	}
	if f.LTP != nil {
		return float64(*f.LTP), true
	}
	return 0, false
}

// IsAuthAck reports whether the frame answers the connect request, and if so
// whether the venue accepted it.
func (f Frame) IsAuthAck() (isAck bool, accepted bool) {
	if f.Type != "ck" {
		return false, false
	}
	return true, strings.EqualFold(f.Key, "OK")
}

// ApplyTo copies the fields present in the frame onto t, leaving the others untouched.
func (f Frame) ApplyTo(t *model.Tick) {
	if p, ok := f.Price(); ok {
		t.LastPrice = p
	}
	set := func(dst *float64, v *wireNumber) {
		if v != nil {
			*dst = float64(*v)
		}
	}
	set(&t.Volume, f.Volume)
	set(&t.Bid, f.Bid)
	set(&t.Ask, f.Ask)
	set(&t.OpenInterest, f.OI)
	set(&t.Close, f.Close)
	set(&t.Open, f.Open)
	set(&t.High, f.High)
	set(&t.Low, f.Low)
	if f.Exchange != "" {
		t.Exchange = f.Exchange
	}
	if f.Token != "" {
		t.Token = string(f.Token)
	}
}
