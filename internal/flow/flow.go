// Package flow is the per-chat conversation state machine for adding tasks,
// habits and fixed events, and for the evening review. Step is pure;
// Sessions stores the current state per chat.
package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type StateKind int

const (
	Idle StateKind = iota
	TaskTitle
	TaskDeadline
	TaskDuration
	HabitTitle
	HabitRepetition
	HabitDuration
	EventTitle
	EventDate
	EventStart
	EventEnd
	EventConfirm
	ReviewFeeling
	ReviewFavourite
	ReviewProud
	ReviewImprove
	ReviewComment
)

func (k StateKind) String() string {
	switch k {
	case Idle:
		return "idle"
	case TaskTitle:
		return "task.title"
	case TaskDeadline:
		return "task.deadline"
	case TaskDuration:
		return "task.duration"
	case HabitTitle:
		return "habit.title"
	case HabitRepetition:
		return "habit.repetition"
	case HabitDuration:
		return "habit.duration"
	case EventTitle:
		return "event.title"
	case EventDate:
		return "event.date"
	case EventStart:
		return "event.start"
	case EventEnd:
		return "event.end"
	case EventConfirm:
		return "event.confirm"
	case ReviewFeeling:
		return "review.feeling"
	case ReviewFavourite:
		return "review.favourite"
	case ReviewProud:
		return "review.proud"
	case ReviewImprove:
		return "review.improve"
	case ReviewComment:
		return "review.comment"
	default:
		return "unknown"
	}
}

type TaskDraft struct {
	Title    string
	Deadline string // MMDD
	Duration time.Duration
}

type HabitDraft struct {
	Title    string
	PerWeek  int
	Duration time.Duration
}

// EventDraft is a fixed calendar event. Start and End are "HH:MM".
type EventDraft struct {
	Title string
	Date  string // MMDD
	Start string
	End   string
}

type ReviewDraft struct {
	Feeling   string
	Favourite string
	Proud     string
	Improve   string
	Comment   string
}

// State is tagged by Kind; only the draft matching Kind is meaningful.
type State struct {
	Kind   StateKind
	Task   TaskDraft
	Habit  HabitDraft
	Event  EventDraft
	Review ReviewDraft
}

type EventKind int

const (
	StartTask EventKind = iota + 1
	StartHabit
	StartEvent
	StartReview
	Input
	// Confirm accepts the pending event.
	Confirm
	Cancel
)

type Event struct {
	Kind EventKind
	Text string
}

type ActionKind int

const (
	// NoAction means the event does not concern the flow, e.g. text while idle.
	NoAction ActionKind = iota
	Prompt
	Reprompt
	PlanTask
	PlanHabit
	Cancelled
	// ConfirmEvent asks the user to accept Event before it is created.
	ConfirmEvent
	CreateEvent
	ReviewDone
)

type Action struct {
	Kind    ActionKind
	Message string
	Task    TaskDraft   // set for PlanTask
	Habit   HabitDraft  // set for PlanHabit
	Event   EventDraft  // set for ConfirmEvent and CreateEvent
	Review  ReviewDraft // set for ReviewDone
}

type Transition struct {
	Next   State
	Action Action
}

const (
	promptTaskTitle       = "Cool! What is this task on your mind?"
	promptTaskDeadline    = "Got it! When should this be completed by?\n\n(MMDD format please!)"
	promptTaskDuration    = "Noted! About how long will it take?\n\n(minutes, or e.g. 1h30m)"
	promptHabitTitle      = "That's the spirit! What's this habit you want to build?"
	promptHabitRepetition = "Sounds amazing! How many times per week? (1-7)"
	promptHabitDuration   = "And how long will it take each time?\n\n(minutes, or e.g. 45m)"
	promptEventTitle      = "What would you like to name this event?"
	promptEventDate       = "When is this event?\n\n(in MMDD format please!)"
	promptEventStart      = "What time does this event start?\n\n(eg. 1930)"
	promptEventEnd        = "What time does this event end?\n\n(eg. 2030)"
	promptReviewFeeling   = "How are you feeling?"
	promptReviewFavourite = "What was your favourite part of the day?"
	promptReviewProud     = "What are you proud of yourself for today?"
	promptReviewImprove   = "What was one thing you can improve on?"
	promptReviewComment   = "Anything else you want to record for today?"

	msgReviewDone = "Recorded! Good job on taking the time to reflect about your day!"

	msgCancelled = "Cancelled. Nothing was saved."
	msgNothing   = "Nothing to cancel."
)

// Step computes the next state for e. It never mutates s.
func Step(s State, e Event) Transition {
	switch e.Kind {
	case Cancel:
		if s.Kind == Idle {
			return Transition{Next: State{}, Action: Action{Kind: Cancelled, Message: msgNothing}}
		}
		return Transition{Next: State{}, Action: Action{Kind: Cancelled, Message: msgCancelled}}
	case StartTask:
		return Transition{Next: State{Kind: TaskTitle}, Action: Action{Kind: Prompt, Message: promptTaskTitle}}
	case StartHabit:
		return Transition{Next: State{Kind: HabitTitle}, Action: Action{Kind: Prompt, Message: promptHabitTitle}}
	case StartEvent:
		return Transition{Next: State{Kind: EventTitle}, Action: Action{Kind: Prompt, Message: promptEventTitle}}
	case StartReview:
		return Transition{Next: State{Kind: ReviewFeeling}, Action: Action{Kind: Prompt, Message: promptReviewFeeling}}
	case Input:
		return input(s, strings.TrimSpace(e.Text))
	case Confirm:
		if s.Kind != EventConfirm {
			return Transition{Next: s}
		}
		return Transition{Next: State{}, Action: Action{Kind: CreateEvent, Event: s.Event}}
	}
	return Transition{Next: s}
}

func input(s State, text string) Transition {
	reprompt := func(problem, prompt string) Transition {
		return Transition{Next: s, Action: Action{Kind: Reprompt, Message: problem + "\n\n" + prompt}}
	}
	next := s

	switch s.Kind {
	case Idle:
		return Transition{Next: s}

	case TaskTitle:
		if text == "" {
			return reprompt("The task needs a name.", promptTaskTitle)
		}
		next.Kind, next.Task.Title = TaskDeadline, text
		return Transition{Next: next, Action: Action{Kind: Prompt, Message: promptTaskDeadline}}

	case TaskDeadline:
		if _, _, err := ParseMMDD(text); err != nil {
			return reprompt(err.Error(), promptTaskDeadline)
		}
		next.Kind, next.Task.Deadline = TaskDuration, text
		return Transition{Next: next, Action: Action{Kind: Prompt, Message: promptTaskDuration}}

	case TaskDuration:
		d, err := ParseMinutes(text)
		if err != nil {
			return reprompt(err.Error(), promptTaskDuration)
		}
		next.Task.Duration = d
		return Transition{Next: State{}, Action: Action{Kind: PlanTask, Task: next.Task}}

	case HabitTitle:
		if text == "" {
			return reprompt("The habit needs a name.", promptHabitTitle)
		}
		next.Kind, next.Habit.Title = HabitRepetition, text
		return Transition{Next: next, Action: Action{Kind: Prompt, Message: promptHabitRepetition}}

	case HabitRepetition:
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 || n > 7 {
			return reprompt("Please answer with a number from 1 to 7.", promptHabitRepetition)
		}
		next.Kind, next.Habit.PerWeek = HabitDuration, n
		return Transition{Next: next, Action: Action{Kind: Prompt, Message: promptHabitDuration}}

	case HabitDuration:
		d, err := ParseMinutes(text)
		if err != nil {
			return reprompt(err.Error(), promptHabitDuration)
		}
		next.Habit.Duration = d
		return Transition{Next: State{}, Action: Action{Kind: PlanHabit, Habit: next.Habit}}

	case EventTitle:
		if text == "" {
			return reprompt("The event needs a name.", promptEventTitle)
		}
		next.Kind, next.Event.Title = EventDate, text
		return Transition{Next: next, Action: Action{Kind: Prompt, Message: promptEventDate}}

	case EventDate:
		if _, _, err := ParseMMDD(text); err != nil {
			return reprompt(err.Error(), promptEventDate)
		}
		next.Kind, next.Event.Date = EventStart, text
		return Transition{Next: next, Action: Action{Kind: Prompt, Message: promptEventStart}}

	case EventStart:
		h, m, err := ParseHHMM(text)
		if err != nil {
			return reprompt(err.Error(), promptEventStart)
		}
		next.Kind, next.Event.Start = EventEnd, clock(h, m)
		return Transition{Next: next, Action: Action{Kind: Prompt, Message: promptEventEnd}}

	case EventEnd:
		h, m, err := ParseHHMM(text)
		if err != nil {
			return reprompt(err.Error(), promptEventEnd)
		}
		end := clock(h, m)
		// Zero-padded "HH:MM" strings order like the times they name.
		if end <= s.Event.Start {
			return reprompt(fmt.Sprintf("The event has to end after %s.", s.Event.Start), promptEventEnd)
		}
		next.Kind, next.Event.End = EventConfirm, end
		return confirmEvent(next)

	case EventConfirm:
		return confirmEvent(s)

	case ReviewFeeling, ReviewFavourite, ReviewProud, ReviewImprove, ReviewComment:
		if text == "" {
			return reprompt("Just a few words is fine.", reviewPrompts[s.Kind])
		}
		return reviewAnswer(next, text)
	}
	return Transition{Next: s}
}

var reviewPrompts = map[StateKind]string{
	ReviewFeeling:   promptReviewFeeling,
	ReviewFavourite: promptReviewFavourite,
	ReviewProud:     promptReviewProud,
	ReviewImprove:   promptReviewImprove,
	ReviewComment:   promptReviewComment,
}

func reviewAnswer(next State, text string) Transition {
	switch next.Kind {
	case ReviewFeeling:
		next.Kind, next.Review.Feeling = ReviewFavourite, text
	case ReviewFavourite:
		next.Kind, next.Review.Favourite = ReviewProud, text
	case ReviewProud:
		next.Kind, next.Review.Proud = ReviewImprove, text
	case ReviewImprove:
		next.Kind, next.Review.Improve = ReviewComment, text
	case ReviewComment:
		next.Review.Comment = text
		return Transition{Next: State{}, Action: Action{Kind: ReviewDone, Message: msgReviewDone, Review: next.Review}}
	}
	return Transition{Next: next, Action: Action{Kind: Prompt, Message: reviewPrompts[next.Kind]}}
}

func confirmEvent(s State) Transition {
	e := s.Event
	msg := fmt.Sprintf("Got it! Create %q on %s/%s from %s to %s?", e.Title, e.Date[:2], e.Date[2:], e.Start, e.End)
	return Transition{Next: s, Action: Action{Kind: ConfirmEvent, Message: msg, Event: e}}
}

func clock(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}

// ParseHHMM accepts a time of day as "1930", "930" or "19:30".
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	digits := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if i != len(s)-3 {
			return 0, 0, fmt.Errorf("%q is not a time like 1930", s)
		}
		digits = s[:i] + s[i+1:]
	}
	if len(digits) < 3 || len(digits) > 4 || strings.ContainsAny(digits, "+-") {
		return 0, 0, fmt.Errorf("%q is not a time like 1930", s)
	}
	h, err1 := strconv.Atoi(digits[:len(digits)-2])
	m, err2 := strconv.Atoi(digits[len(digits)-2:])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%q is not a time like 1930", s)
	}
	return h, m, nil
}

// ParseMMDD validates a month-day deadline such as "1020".
func ParseMMDD(s string) (time.Month, int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, 0, fmt.Errorf("%q is not in MMDD format", s)
	}
	mm, err1 := strconv.Atoi(s[:2])
	dd, err2 := strconv.Atoi(s[2:])
	if err1 != nil || err2 != nil || mm < 1 || mm > 12 || dd < 1 {
		return 0, 0, fmt.Errorf("%q is not in MMDD format", s)
	}
	// Day bound checked against a leap year so 0229 stays valid.
	if dd > time.Date(2024, time.Month(mm)+1, 0, 0, 0, 0, 0, time.UTC).Day() {
		return 0, 0, fmt.Errorf("%q is not a calendar date", s)
	}
	return time.Month(mm), dd, nil
}

// ParseMinutes accepts a bare number of minutes or a Go duration string.
// The result is positive, whole minutes, and at most 16 hours.
func ParseMinutes(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Minute
	} else if pd, err := time.ParseDuration(s); err == nil {
		d = pd.Truncate(time.Minute)
	} else {
		return 0, fmt.Errorf("%q is not a duration", s)
	}
	if d <= 0 || d > 16*time.Hour {
		return 0, fmt.Errorf("duration must be between 1 minute and 16 hours")
	}
	return d, nil
}
