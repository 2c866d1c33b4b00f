// errcode/errcode_test.go
package errcode

import (
	"errors"
	"testing"
)

func TestCodesAreStable(t *testing.T) {
	// Wire values; clients depend on these staying put.
	cases := map[Code]uint16{
		Success:               0,
		I2CCommunicationError: 1,
		DGTNotConfigured:      2,
		I2CCRCError:           3,
		DGTNotConnected:       4,
		JSONParseError:        5,
		JSONInvalidCommand:    6,
		JSONInvalidParameters: 7,
		CommandTimeout:        8,
		UnknownError:          9,
	}
	for c, want := range cases {
		if uint16(c) != want {
			t.Errorf("%s = %d, want %d", c, uint16(c), want)
		}
	}
}

func TestOf(t *testing.T) {
	if Of(nil) != Success {
		t.Error("Of(nil) != Success")
	}
	if Of(CommandTimeout) != CommandTimeout {
		t.Error("Of does not pass a Code through")
	}
	wrapped := &E{C: I2CCRCError, Op: "send", Err: errors.New("bit rot")}
	if Of(wrapped) != I2CCRCError {
		t.Error("Of does not unwrap *E")
	}
	if Of(errors.New("anything")) != UnknownError {
		t.Error("Of(unknown) != UnknownError")
	}
}

func TestEWrapper(t *testing.T) {
	cause := errors.New("bus stuck low")
	e := &E{C: I2CCommunicationError, Op: "tx", Msg: "frame lost", Err: cause}
	if !errors.Is(e, cause) {
		t.Error("Unwrap chain broken")
	}
	if e.Error() != "I2C Communication Error: frame lost" {
		t.Errorf("Error() = %q", e.Error())
	}
}
