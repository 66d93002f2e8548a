package connectors

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livefeed/src/model"
)

func TestParseTickFrame(t *testing.T) {
	f, err := ParseTickFrame([]byte(`{"t":"tk","e":"NSE","tk":"26000","lp":"22150.35","v":"1200","bp1":22150,"sp1":"22150.5","oi":"0","c":"22000.10","o":"22010","h":"22180","l":"21990.25"}`))
	require.NoError(t, err)

	p, ok := f.Price()
	require.True(t, ok)
	assert.InDelta(t, 22150.35, p, 1e-9)

	var tick model.Tick
	f.ApplyTo(&tick)
	assert.Equal(t, "NSE", tick.Exchange)
	assert.Equal(t, "26000", tick.Token)
	assert.InDelta(t, 22150.35, tick.LastPrice, 1e-9)
	assert.InDelta(t, 1200, tick.Volume, 1e-9)
	assert.InDelta(t, 22150, tick.Bid, 1e-9)
	assert.InDelta(t, 22150.5, tick.Ask, 1e-9)
	assert.InDelta(t, 22000.10, tick.Close, 1e-9)
	assert.InDelta(t, 22180, tick.High, 1e-9)
	assert.InDelta(t, 21990.25, tick.Low, 1e-9)
}

func TestParseTickFrameLTPFallback(t *testing.T) {
	f, err := ParseTickFrame([]byte(`{"t":"df","tk":488292,"ltp":6012.5}`))
	require.NoError(t, err)
	p, ok := f.Price()
	require.True(t, ok)
	assert.InDelta(t, 6012.5, p, 1e-9)
	assert.Equal(t, "488292", string(f.Token))
}

func TestParseTickFrameRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `hello`},
		{name: "array", raw: `[1,2]`},
		{name: "empty", raw: ``},
		{name: "broken object", raw: `{"t":"tk",`},
		{name: "heartbeat", raw: `{"t":"hb"}`},
		{name: "ack", raw: `{"t":"ck","k":"OK"}`},
		{name: "no token", raw: `{"t":"tk","lp":"10"}`},
		{name: "bad number", raw: `{"t":"tk","tk":"1","lp":"abc"}`},
		{name: "inf price", raw: `{"t":"tk","tk":"1","lp":"inf"}`},
		{name: "signed inf price", raw: `{"t":"tk","tk":"1","lp":"+Inf"}`},
		{name: "infinity volume", raw: `{"t":"tk","tk":"1","lp":"10","v":"infinity"}`},
		{name: "nan close", raw: `{"t":"tk","tk":"1","lp":"10","c":"NaN"}`},
		{name: "overflow string", raw: `{"t":"tk","tk":"1","lp":"1e999"}`},
		{name: "overflow number", raw: `{"t":"tk","tk":"1","lp":1e999}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTickFrame([]byte(tc.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrParse)
		})
	}
}

func TestParseLTPRejectsNonFinite(t *testing.T) {
	for _, s := range []string{"inf", "-Inf", "NaN", "1e999"} {
		_, err := parseLTP(s)
		assert.ErrorIs(t, err, model.ErrParse, s)
	}
	v, err := parseLTP(" 24512.35 ")
	require.NoError(t, err)
	assert.InDelta(t, 24512.35, v, 1e-9)
}

func TestApplyToKeepsAbsentFields(t *testing.T) {
	tick := model.Tick{LastPrice: 100, Volume: 50, High: 110, Low: 90}
	f, err := ParseTickFrame([]byte(`{"t":"df","tk":"1","lp":"101"}`))
	require.NoError(t, err)

	f.ApplyTo(&tick)
	assert.InDelta(t, 101, tick.LastPrice, 1e-9)
	assert.InDelta(t, 50, tick.Volume, 1e-9)
	assert.InDelta(t, 110, tick.High, 1e-9)
	assert.InDelta(t, 90, tick.Low, 1e-9)
}

func TestIsAuthAck(t *testing.T) {
	cases := []struct {
		raw      string
		ack      bool
		accepted bool
	}{
		{`{"t":"ck","k":"OK"}`, true, true},
		{`{"t":"ck","k":"ok"}`, true, true},
		{`{"t":"ck","k":"NOT_OK"}`, true, false},
		{`{"t":"tk","tk":"1","lp":"1"}`, false, false},
	}
	for _, tc := range cases {
		f, err := ParseFrame([]byte(tc.raw))
		require.NoError(t, err)
		ack, accepted := f.IsAuthAck()
		assert.Equal(t, tc.ack, ack, tc.raw)
		assert.Equal(t, tc.accepted, accepted, tc.raw)
	}
}

func TestProtocolFrames(t *testing.T) {
	keys := []string{"NSE|26000", "MCX|454819"}

	v1, err := NewProtocol(ProtocolV1)
	require.NoError(t, err)
	frames, err := v1.SubscribeFrames(keys)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"t":"t","k":"NSE|26000"}`, string(frames[0]))
	assert.JSONEq(t, `{"t":"t","k":"MCX|454819"}`, string(frames[1]))

	frames, err = v1.UnsubscribeFrames(keys[:1])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"t":"u","k":"NSE|26000"}`, string(frames[0]))

	v2, err := NewProtocol(ProtocolV2)
	require.NoError(t, err)
	frames, err = v2.SubscribeFrames(keys)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"t":"t","k":"NSE|26000#MCX|454819"}`, string(frames[0]))

	frames, err = v2.SubscribeFrames(nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestAuthFrame(t *testing.T) {
	p, err := NewProtocol(ProtocolV2)
	require.NoError(t, err)

	raw, err := p.AuthFrame("AB123", "sess")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "c", got["t"])
	assert.Equal(t, "AB123_API", got["actid"])
	assert.Equal(t, "AB123_API", got["uid"])
	assert.Equal(t, "API", got["source"])
	assert.Equal(t, SessionToken("sess"), got["susertoken"])
	assert.Len(t, got["susertoken"], 64)
	assert.NotEqual(t, SessionToken("sess"), SessionToken("other"))

	_, err = p.AuthFrame("", "sess")
	require.Error(t, err)
}

func TestParseProtocolVersion(t *testing.T) {
	for in, want := range map[string]ProtocolVersion{"": ProtocolV1, "v1": ProtocolV1, "V2": ProtocolV2, "2": ProtocolV2} {
		got, err := ParseProtocolVersion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseProtocolVersion("v3")
	require.Error(t, err)
	assert.Equal(t, "v2", ProtocolV2.String())
}
