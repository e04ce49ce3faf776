package calls

import "testing"

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		from    CallStatus
		trg     Trigger
		want    CallStatus
		changed bool
		wantErr bool
	}{
		{StatusPending, TriggerAccept, StatusRinging, true, false},
		{StatusRinging, TriggerAccept, StatusRinging, true, false},
		{StatusJoined, TriggerAccept, StatusJoined, false, false},

		{StatusPending, TriggerJoin, StatusJoined, true, false},
		{StatusRinging, TriggerJoin, StatusJoined, true, false},
		{StatusJoined, TriggerJoin, StatusJoined, false, false},

		{StatusPending, TriggerReject, StatusRejected, true, false},
		{StatusRinging, TriggerReject, StatusRejected, true, false},
		{StatusJoined, TriggerReject, "", false, true},
		{StatusEnded, TriggerReject, StatusEnded, false, false},

		{StatusPending, TriggerCancel, StatusCancelled, true, false},
		{StatusJoined, TriggerCancel, "", false, true},
		{StatusMissed, TriggerCancel, StatusMissed, false, false},

		{StatusPending, TriggerTimeout, StatusMissed, true, false},
		{StatusRinging, TriggerTimeout, StatusMissed, true, false},
		{StatusJoined, TriggerTimeout, StatusJoined, false, false},
		{StatusEnded, TriggerTimeout, StatusEnded, false, false},

		{StatusPending, TriggerEnd, StatusEnded, true, false},
		{StatusRinging, TriggerEnd, StatusEnded, true, false},
		{StatusJoined, TriggerEnd, StatusEnded, true, false},
		{StatusRejected, TriggerEnd, StatusRejected, false, false},
		{StatusEnded, TriggerEnd, StatusEnded, false, false},

		{StatusEnded, TriggerAccept, "", false, true},
		{StatusMissed, TriggerJoin, "", false, true},
	}

	for _, tc := range tests {
		next, changed, err := Next(tc.from, tc.trg)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s from %s: expected error, got %s", tc.trg, tc.from, next)
			}
			if !IsInvalidTransition(err) {
				t.Fatalf("%s from %s: error %v is not an invalid transition", tc.trg, tc.from, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s from %s: unexpected error %v", tc.trg, tc.from, err)
		}
		if next != tc.want || changed != tc.changed {
			t.Fatalf("%s from %s: got (%s, %v), want (%s, %v)",
				tc.trg, tc.from, next, changed, tc.want, tc.changed)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []CallStatus{StatusMissed, StatusRejected, StatusCancelled, StatusEnded}
	for _, st := range terminal {
		if !st.Terminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
	for _, st := range []CallStatus{StatusPending, StatusRinging, StatusJoined} {
		if st.Terminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
}
