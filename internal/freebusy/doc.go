// Package freebusy computes free time from calendar busy spans.
//
// The package is pure: it never talks to a calendar and never mutates its inputs.
//   - Merge normalizes raw busy spans (sorted, non-overlapping, touching spans joined)
//   - Gaps yields free spans between normalized busy spans
//   - EarliestFit and MaxBuffer search a request range for a slot
//   - RankDays orders days by total free time inside the schedule window
//
// "No slot" is a normal outcome and is reported through ok == false, not an error.
package freebusy
