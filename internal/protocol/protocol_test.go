package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epdpi/internal/compose"
	"epdpi/internal/layout"
	"epdpi/internal/palette"
)

func TestDecodeClear(t *testing.T) {
	cmd, err := Decode("clear")
	require.NoError(t, err)
	assert.Equal(t, Command{Op: OpClear}, cmd)
}

func TestDecodeDraw(t *testing.T) {
	for _, tc := range []struct {
		payload string
		want    compose.Request
	}{
		{
			payload: "draw^^12:30^22^2^0^0",
			want:    compose.Request{Text: "12:30", Mode: layout.Full3, Color: palette.White, Shadow: palette.None},
		},
		{
			payload: "draw^/no/such/file.bmp^^20^1^0^0",
			want:    compose.Request{ImagePath: "/no/such/file.bmp", Mode: layout.Full1, Color: palette.Black},
		},
		{
			payload: "draw^/img/a.bmp^08:15^5^4^1^1",
			want: compose.Request{
				ImagePath: "/img/a.bmp", Text: "08:15", Mode: layout.Sect9MiddleCenter,
				Color: palette.Red, Shadow: palette.Black, Grid: true,
			},
		},
	} {
		t.Run(tc.payload, func(t *testing.T) {
			cmd, err := Decode(tc.payload)
			require.NoError(t, err)
			assert.Equal(t, OpDraw, cmd.Op)
			assert.Equal(t, tc.want, cmd.Draw)
			assert.Equal(t, tc.payload, EncodeDraw(cmd.Draw))
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, tc := range []struct {
		payload string
		op      Op
		reason  string
	}{
		{"clear^now", OpClear, "expected no arguments"},
		{"draw", OpDraw, "expected 7 fields, got 1"},
		{"draw^^12:30^22^2^0", OpDraw, "expected 7 fields, got 6"},
		{"draw^^a^b^c^d^e^f", OpDraw, "expected 7 fields"},
		{"draw^^12:30^x^2^0^0", OpDraw, "mode \"x\" is not an integer"},
		{"draw^^12:30^23^2^0^0", OpDraw, "mode 23 out of range"},
		{"draw^^12:30^-1^2^0^0", OpDraw, "mode -1 out of range"},
		{"draw^^12:30^22^9^0^0", OpDraw, "color 9 out of range"},
		{"draw^^12:30^22^2^red^0", OpDraw, "shadow \"red\" is not an integer"},
		{"draw^^12:30^22^2^0^yes", OpDraw, "grid flag \"yes\" must be 0 or 1"},
		{"paint^x", "", "unknown operation \"paint\""},
		{"", "", "unknown operation \"\""},
	} {
		t.Run(tc.payload, func(t *testing.T) {
			_, err := Decode(tc.payload)
			var de *DecodeError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, tc.op, de.Op)
			assert.Contains(t, de.Error(), tc.reason)
		})
	}
}

func TestResultEncode(t *testing.T) {
	assert.Equal(t, "result^draw^0", Result{Op: OpDraw, Code: Success}.Encode())
	assert.Equal(t, "result^clear^-1^Invalid machine.", Result{Op: OpClear, Code: InvalidMachine, Detail: DetailInvalidMachine}.Encode())
	assert.Equal(t, "result^draw^-2^E-Paper display is busy.", Result{Op: OpDraw, Code: Busy, Detail: DetailBusy}.Encode())
	assert.Equal(t, "result^clear^-3^spi gone", Result{Op: OpClear, Code: Exception, Detail: "spi gone"}.Encode())
}

func TestBusyUpdatedAndID(t *testing.T) {
	assert.Equal(t, "busy^updated", BusyUpdated())
	assert.Equal(t, "busy^updated", WithID("", BusyUpdated()))
	assert.Equal(t, "pi7^result^draw^0", WithID("pi7", Result{Op: OpDraw}.Encode()))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "BUSY", Busy.String())
	assert.Equal(t, "Code(5)", Code(5).String())
}
