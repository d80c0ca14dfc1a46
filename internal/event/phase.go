package event

// Phase classifies a trace event by its single-character "ph" tag.
type Phase uint8

const (
	PhaseUnknown Phase = iota
	PhaseBegin
	PhaseEnd
	PhaseComplete
	PhaseInstant
	PhaseCounter
	PhaseNestableStart
	PhaseNestableInstant
	PhaseNestableEnd
	PhaseStart
	PhaseStep
	PhaseSample
	PhaseCreated
	PhaseSnapshot
	PhaseDestroyed
	PhaseMetadata
	PhaseGlobal
	PhaseProcess
	PhaseMark
	PhaseClockSync
)

var phaseChars = [...]byte{
	PhaseUnknown:         '?',
	PhaseBegin:           'B',
	PhaseEnd:             'E',
	PhaseComplete:        'X',
	PhaseInstant:         'i',
	PhaseCounter:         'C',
	PhaseNestableStart:   'b',
	PhaseNestableInstant: 'n',
	PhaseNestableEnd:     'e',
	PhaseStart:           's',
	PhaseStep:            't',
	PhaseSample:          'P',
	PhaseCreated:         'N',
	PhaseSnapshot:        'O',
	PhaseDestroyed:       'D',
	PhaseMetadata:        'M',
	PhaseGlobal:          'V',
	PhaseProcess:         'v',
	PhaseMark:            'R',
	PhaseClockSync:       'c',
}

var phaseNames = [...]string{
	PhaseUnknown:         "unknown",
	PhaseBegin:           "begin",
	PhaseEnd:             "end",
	PhaseComplete:        "complete",
	PhaseInstant:         "instant",
	PhaseCounter:         "counter",
	PhaseNestableStart:   "nestable-start",
	PhaseNestableInstant: "nestable-instant",
	PhaseNestableEnd:     "nestable-end",
	PhaseStart:           "start",
	PhaseStep:            "step",
	PhaseSample:          "sample",
	PhaseCreated:         "created",
	PhaseSnapshot:        "snapshot",
	PhaseDestroyed:       "destroyed",
	PhaseMetadata:        "metadata",
	PhaseGlobal:          "global",
	PhaseProcess:         "process",
	PhaseMark:            "mark",
	PhaseClockSync:       "clock-sync",
}

// ParsePhase maps a "ph" value to a Phase. Both 'i' and 'I' are instants.
func ParsePhase(s string) (Phase, bool) {
	if len(s) != 1 {
		return PhaseUnknown, false
	}
	c := s[0]
	if c == 'I' {
		return PhaseInstant, true
	}
	for p := PhaseBegin; p <= PhaseClockSync; p++ {
		if phaseChars[p] == c {
			return p, true
		}
	}
	return PhaseUnknown, false
}

// Char returns the canonical "ph" character.
func (p Phase) Char() byte {
	if int(p) >= len(phaseChars) {
		return '?'
	}
	return phaseChars[p]
}

// String returns the string representation of Phase.
func (p Phase) String() string {
	if int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Opens reports whether the phase pushes onto a thread's call stack.
func (p Phase) Opens() bool { return p == PhaseBegin || p == PhaseStart }

// Closes reports whether the phase pops a thread's call stack.
func (p Phase) Closes() bool { return p == PhaseEnd || p == PhaseNestableEnd }
