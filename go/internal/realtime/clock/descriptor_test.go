package clock

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptorAcceptsBothRunningSpellings(t *testing.T) {
	var a, b, c Descriptor
	require.NoError(t, json.Unmarshal([]byte(`{"elapsed":1500,"alarm":120000,"running":true}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"elapsed":1500,"alarm":null,"isRunning":true}`), &b))
	require.NoError(t, json.Unmarshal([]byte(`{"elapsed":7}`), &c))

	require.True(t, a.Running)
	require.Equal(t, int64(120000), *a.Alarm)
	require.True(t, b.Running)
	require.Nil(t, b.Alarm)
	require.False(t, c.Running)
	require.Equal(t, int64(7), c.Elapsed)
}

func TestResolve(t *testing.T) {
	idle := Clocks{
		KindIntermission: {},
		KindPeriod:       {Elapsed: 100},
		KindLineup:       {},
		KindJam:          {},
		KindTimeout:      {},
	}
	with := func(kinds ...Kind) Clocks {
		c := Clocks{}
		for k, v := range idle {
			c[k] = v
		}
		for _, k := range kinds {
			d := c[k]
			d.Running = true
			c[k] = d
		}
		return c
	}

	tests := []struct {
		name   string
		clocks Clocks
		field  string
		want   Kind
	}{
		{"game during period", with(KindPeriod), FieldGame, KindPeriod},
		{"game during intermission", with(KindIntermission), FieldGame, KindIntermission},
		{"action defaults to jam", idle, FieldAction, KindJam},
		{"action during lineup", with(KindLineup), FieldAction, KindLineup},
		{"action during timeout", with(KindTimeout, KindLineup), FieldAction, KindTimeout},
		{"concrete kind", idle, "period", KindPeriod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.clocks, tt.field)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveUnknownField(t *testing.T) {
	_, err := Resolve(Clocks{KindJam: {}}, "halftime")
	var unknown *UnknownTimerFieldError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "halftime", unknown.Field)
	require.Error(t, ValidateField("halftime"))
	require.NoError(t, ValidateField(FieldAction))

	// the bout lacks the timer the virtual field resolved to
	_, err = Resolve(Clocks{KindPeriod: {}}, FieldAction)
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, KindJam, unknown.Kind)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		ms     int64
		tenths bool
		want   string
	}{
		{0, true, "0.0"},
		{0, false, "0"},
		{-250, true, "0.0"},
		{-250, false, "0"},
		{9999, true, "9.9"},
		{9999, false, "9"},
		{10000, true, "10"},
		{10000, false, "10"},
		{1, true, "0.0"},
		{100, true, "0.1"},
		{59999, true, "59"},
		{60000, true, "1:00"},
		{125000, true, "2:05"},
		{1_800_000, true, "30:00"},
		{3_600_000, true, "1:00:00"},
		{3_661_000, false, "1:01:01"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Format(tt.ms, tt.tenths), "Format(%d, %v)", tt.ms, tt.tenths)
	}
}
