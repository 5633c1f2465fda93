package pipeline

import "strings"

// Stage is a pipeline step. Stages run strictly in declaration order.
type Stage int

const (
	StageInit Stage = iota
	StageForm
	StagePrepare
	StageCompose
	StageWrite
	StageVerify
	StageDone
)

var stageNames = [...]string{"INIT", "FORM", "PREPARE", "COMPOSE", "WRITE", "VERIFY", "DONE"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

// MarshalText encodes the stage name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// operation is the span and SLO name of a stage.
func (s Stage) operation() string {
	return strings.ToLower(s.String())
}
