package schemas

import "time"

// Instruction is a natural-language directive issued to the agent.
type Instruction struct {
	Source    string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// InstructionSnapshot is a point-in-time view of an instruction queue.
type InstructionSnapshot struct {
	Pending []Instruction `json:"instructions"`
	Current *Instruction  `json:"current"`
	// ResetSeq increases every time a reset sentinel was received. Sources that cannot
	// observe resets leave it at zero.
	ResetSeq uint64 `json:"reset_seq,omitempty"`
}
