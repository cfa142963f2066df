// Package schedule defines the wire-level Schedule Entry record (spec.md
// §3, §6) and the event types the schedule updater (C7) derives from it.
package schedule

import "math"

// DataSpec is one element of a Schedule Entry's data[] list. The wire
// format overloads this map: it may carry a file to stage, inline
// content, a transfer spec, a pause duration, or a resume marker. This
// type keeps every field so json.Unmarshal never loses information; the
// updater is responsible for classifying an entry by which fields are
// set (spec.md §9, open question on the data[0] overload).
type DataSpec struct {
	Filename      string  `json:"filename,omitempty"`
	Location      string  `json:"location,omitempty"`
	Executable    bool    `json:"executable,omitempty"`
	Content       []byte  `json:"content,omitempty"`
	Interval      float64 `json:"interval,omitempty"`
	Destination   string  `json:"destination,omitempty"`
	Resume        bool    `json:"resume,omitempty"`
	PauseDuration float64 `json:"pause_duration,omitempty"`
}

// NegativeInfinity is the break-marker sentinel for StartTime and
// PauseDuration (spec.md §3: "−∞ allowed as break marker").
var NegativeInfinity = math.Inf(-1)

// PositiveInfinity marks an infinite-duration pause, i.e. a break.
var PositiveInfinity = math.Inf(1)

// Entry is a single time-keyed instruction to a VM.
type Entry struct {
	StartTime     float64    `json:"start_time"`
	Executable    string     `json:"executable,omitempty"`
	Arguments     []string   `json:"arguments,omitempty"`
	Data          []DataSpec `json:"data,omitempty"`
	Pause         bool       `json:"pause,omitempty"`
	IgnoreFailure bool       `json:"ignore_failure,omitempty"`

	// Index is a process-local field, not part of the wire format. Nothing
	// in this tree sets it: the updater orders entries that share a
	// StartTime by its own arrival counter, and PriorityQueue breaks ties
	// by insertion order (container/heap alone is not stable on ties).
	Index int `json:"-"`
}

// IsBreak reports whether this entry is an infinite-duration pause.
func (e *Entry) IsBreak() bool {
	if !e.Pause || len(e.Data) == 0 {
		return false
	}
	return math.IsInf(e.Data[0].PauseDuration, 1)
}

// PauseDuration returns the finite pause duration carried by this entry,
// or 0 if this entry is not a finite pause.
func (e *Entry) PauseDuration() float64 {
	if !e.Pause || len(e.Data) == 0 {
		return 0
	}
	d := e.Data[0].PauseDuration
	if math.IsInf(d, 0) {
		return 0
	}
	return d
}

// IsResume reports whether this entry's first data spec carries "resume".
func (e *Entry) IsResume() bool {
	return len(e.Data) > 0 && e.Data[0].Resume
}

// IsTransfer reports whether this entry's first data spec carries both a
// location and an interval.
func (e *Entry) IsTransfer() bool {
	return len(e.Data) > 0 && e.Data[0].Location != "" && e.Data[0].Interval != 0
}

// WorkingDirFor derives the per-entry guest working directory, POSIX or
// Windows, per spec.md §6 filesystem layout: "/var/launch/<start_time>/<exe>/"
// (POSIX), "/launch/<start_time>/<exe>\" (Windows).
func WorkingDirFor(startTime float64, exe string, windows bool) string {
	if windows {
		return formatWindowsPath(startTime, exe)
	}
	return formatPosixPath(startTime, exe)
}

func formatPosixPath(startTime float64, exe string) string {
	return "/var/launch/" + formatStartTime(startTime) + "/" + exe + "/"
}

func formatWindowsPath(startTime float64, exe string) string {
	return "/launch/" + formatStartTime(startTime) + "/" + exe + "\\"
}

func formatStartTime(t float64) string {
	if math.IsInf(t, -1) {
		return "-inf"
	}
	if math.IsInf(t, 1) {
		return "inf"
	}
	return trimFloat(t)
}
