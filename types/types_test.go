// types/types_test.go
package types

import (
	"strings"
	"testing"

	"dgtgateway-go/errcode"
)

func TestClockTimeValid(t *testing.T) {
	good := ClockTime{LeftHours: 9, LeftMinutes: 59, LeftSeconds: 59,
		RightHours: 9, RightMinutes: 59, RightSeconds: 59}
	if !good.Valid() {
		t.Error("maximal time rejected")
	}

	cases := []ClockTime{
		{LeftHours: 10},
		{RightHours: 10},
		{LeftMinutes: 60},
		{RightSeconds: 60},
	}
	for _, c := range cases {
		if c.Valid() {
			t.Errorf("%+v accepted", c)
		}
	}
}

func TestEventKindWireNames(t *testing.T) {
	cases := map[EventKind]string{
		TimeUpdate:        "timeUpdate",
		ButtonEvent:       "buttonEvent",
		ConnectionStatus:  "connectionStatus",
		ErrorEvent:        "error",
		SystemStatusEvent: "systemStatus",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}

func TestSetLastErrorTruncates(t *testing.T) {
	var s SystemStatus
	s.SetLastError(errcode.CommandTimeout, strings.Repeat("m", MaxErrorMessageLength+50))
	if len(s.LastErrorMessage) != MaxErrorMessageLength {
		t.Errorf("message length = %d, want %d", len(s.LastErrorMessage), MaxErrorMessageLength)
	}
	if s.LastError != errcode.CommandTimeout {
		t.Errorf("code = %v", s.LastError)
	}
}
