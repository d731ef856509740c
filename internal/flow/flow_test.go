package flow

import (
	"testing"
	"time"
)

func TestTaskFlow(t *testing.T) {
	t.Parallel()

	s := NewSessions()
	steps := []struct {
		ev       Event
		wantKind StateKind
		wantAct  ActionKind
	}{
		{Event{Kind: StartTask}, TaskTitle, Prompt},
		{Event{Kind: Input, Text: "  "}, TaskTitle, Reprompt},
		{Event{Kind: Input, Text: "Write report"}, TaskDeadline, Prompt},
		{Event{Kind: Input, Text: "1340"}, TaskDeadline, Reprompt},
		{Event{Kind: Input, Text: "1020"}, TaskDuration, Prompt},
		{Event{Kind: Input, Text: "soon"}, TaskDuration, Reprompt},
		{Event{Kind: Input, Text: "180"}, Idle, PlanTask},
	}
	var last Transition
	for i, st := range steps {
		last = s.Apply(7, st.ev)
		if last.Next.Kind != st.wantKind || last.Action.Kind != st.wantAct {
			t.Fatalf("step %d: got %s/%d, want %s/%d", i, last.Next.Kind, last.Action.Kind, st.wantKind, st.wantAct)
		}
		if s.Get(7).Kind != st.wantKind {
			t.Fatalf("step %d: stored state %s", i, s.Get(7).Kind)
		}
	}
	want := TaskDraft{Title: "Write report", Deadline: "1020", Duration: 3 * time.Hour}
	if last.Action.Task != want {
		t.Fatalf("draft = %+v, want %+v", last.Action.Task, want)
	}
	if s.Active() != 0 {
		t.Fatalf("finished session still stored")
	}
}

func TestHabitFlow(t *testing.T) {
	t.Parallel()

	st := State{}
	for _, e := range []Event{
		{Kind: StartHabit},
		{Kind: Input, Text: "Run"},
		{Kind: Input, Text: "9"},
		{Kind: Input, Text: "3"},
		{Kind: Input, Text: "45m"},
	} {
		tr := Step(st, e)
		st = tr.Next
		if tr.Action.Kind == PlanHabit {
			if tr.Action.Habit != (HabitDraft{Title: "Run", PerWeek: 3, Duration: 45 * time.Minute}) {
				t.Fatalf("habit = %+v", tr.Action.Habit)
			}
			return
		}
	}
	t.Fatalf("habit flow never planned; state %s", st.Kind)
}

func TestCancelFromAnyState(t *testing.T) {
	t.Parallel()

	for _, k := range []StateKind{
		TaskTitle, TaskDeadline, TaskDuration, HabitTitle, HabitRepetition, HabitDuration,
		EventTitle, EventDate, EventStart, EventEnd, EventConfirm,
		ReviewFeeling, ReviewFavourite, ReviewProud, ReviewImprove, ReviewComment,
	} {
		tr := Step(State{Kind: k, Task: TaskDraft{Title: "x"}}, Event{Kind: Cancel})
		if tr.Next != (State{}) || tr.Action.Kind != Cancelled || tr.Action.Message != msgCancelled {
			t.Fatalf("%s: cancel = %+v", k, tr)
		}
	}
	if tr := Step(State{}, Event{Kind: Cancel}); tr.Action.Message != msgNothing {
		t.Fatalf("idle cancel = %+v", tr)
	}
}

func TestEventFlow(t *testing.T) {
	t.Parallel()

	s := NewSessions()
	steps := []struct {
		ev       Event
		wantKind StateKind
		wantAct  ActionKind
	}{
		{Event{Kind: StartEvent}, EventTitle, Prompt},
		{Event{Kind: Input, Text: "Dentist"}, EventDate, Prompt},
		{Event{Kind: Input, Text: "0230"}, EventDate, Reprompt},
		{Event{Kind: Input, Text: "0312"}, EventStart, Prompt},
		{Event{Kind: Input, Text: "2460"}, EventStart, Reprompt},
		{Event{Kind: Input, Text: "930"}, EventEnd, Prompt},
		{Event{Kind: Input, Text: "09:30"}, EventEnd, Reprompt},
		{Event{Kind: Input, Text: "10:15"}, EventConfirm, ConfirmEvent},
		{Event{Kind: Input, Text: "yes please"}, EventConfirm, ConfirmEvent},
		{Event{Kind: Confirm}, Idle, CreateEvent},
	}
	var last Transition
	for i, st := range steps {
		last = s.Apply(9, st.ev)
		if last.Next.Kind != st.wantKind || last.Action.Kind != st.wantAct {
			t.Fatalf("step %d: got %s/%d, want %s/%d", i, last.Next.Kind, last.Action.Kind, st.wantKind, st.wantAct)
		}
	}
	want := EventDraft{Title: "Dentist", Date: "0312", Start: "09:30", End: "10:15"}
	if last.Action.Event != want {
		t.Fatalf("event = %+v, want %+v", last.Action.Event, want)
	}
	if s.Active() != 0 {
		t.Fatalf("finished session still stored")
	}
}

func TestConfirmWithoutPendingEvent(t *testing.T) {
	t.Parallel()

	for _, st := range []State{{}, {Kind: EventEnd, Event: EventDraft{Title: "x"}}} {
		tr := Step(st, Event{Kind: Confirm})
		if tr.Action.Kind != NoAction || tr.Next != st {
			t.Fatalf("%s: confirm = %+v", st.Kind, tr)
		}
	}
}

func TestReviewFlow(t *testing.T) {
	t.Parallel()

	st := Step(State{}, Event{Kind: StartReview}).Next
	if st.Kind != ReviewFeeling {
		t.Fatalf("start = %s", st.Kind)
	}
	if tr := Step(st, Event{Kind: Input, Text: " "}); tr.Action.Kind != Reprompt || tr.Next.Kind != ReviewFeeling {
		t.Fatalf("empty answer = %+v", tr)
	}

	var tr Transition
	for _, answer := range []string{"tired", "lunch", "shipping", "sleep earlier", "nope"} {
		tr = Step(st, Event{Kind: Input, Text: answer})
		st = tr.Next
	}
	want := ReviewDraft{Feeling: "tired", Favourite: "lunch", Proud: "shipping", Improve: "sleep earlier", Comment: "nope"}
	if tr.Action.Kind != ReviewDone || tr.Action.Review != want || st.Kind != Idle {
		t.Fatalf("review = %+v", tr)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	good := map[string][2]int{"1930": {19, 30}, "930": {9, 30}, "19:30": {19, 30}, "9:05": {9, 5}, "0000": {0, 0}}
	for in, want := range good {
		h, m, err := ParseHHMM(in)
		if err != nil || h != want[0] || m != want[1] {
			t.Fatalf("ParseHHMM(%q) = %d %d %v", in, h, m, err)
		}
	}
	for _, in := range []string{"", "7", "12345", "2400", "1960", "19:3", "1:930", "+930", "ab:cd"} {
		if _, _, err := ParseHHMM(in); err == nil {
			t.Fatalf("ParseHHMM(%q) accepted", in)
		}
	}
}

func TestIdleIgnoresText(t *testing.T) {
	t.Parallel()

	tr := Step(State{}, Event{Kind: Input, Text: "hello"})
	if tr.Action.Kind != NoAction || tr.Next.Kind != Idle {
		t.Fatalf("idle input = %+v", tr)
	}
}

func TestStartRestartsFlow(t *testing.T) {
	t.Parallel()

	tr := Step(State{Kind: TaskDuration, Task: TaskDraft{Title: "old"}}, Event{Kind: StartHabit})
	if tr.Next.Kind != HabitTitle || tr.Next.Task.Title != "" {
		t.Fatalf("restart = %+v", tr.Next)
	}
}

func TestParseMMDD(t *testing.T) {
	t.Parallel()

	good := map[string][2]int{"1020": {10, 20}, "0229": {2, 29}, "0101": {1, 1}, "1231": {12, 31}}
	for in, want := range good {
		m, d, err := ParseMMDD(in)
		if err != nil || int(m) != want[0] || d != want[1] {
			t.Fatalf("ParseMMDD(%q) = %d %d %v", in, m, d, err)
		}
	}
	for _, in := range []string{"", "102", "10200", "1300", "0000", "0431", "ab12"} {
		if _, _, err := ParseMMDD(in); err == nil {
			t.Fatalf("ParseMMDD(%q) accepted", in)
		}
	}
}

func TestParseMinutes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30", 30 * time.Minute, true},
		{"1h30m", 90 * time.Minute, true},
		{" 45m ", 45 * time.Minute, true},
		{"0", 0, false},
		{"-5", 0, false},
		{"30s", 0, false},
		{"17h", 0, false},
		{"later", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMinutes(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("ParseMinutes(%q) = %s, %v", tc.in, got, err)
		}
	}
}
