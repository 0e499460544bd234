package agent

import "encoding/json"

// Command types understood by the agent.
const (
	CommandRunTree = "run_tree"
	CommandStop    = "stop"
	CommandSetFact = "set_fact"
)

// Command represents a controller-issued instruction handled by an agent.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RunTreeData names the catalog tree to start.
type RunTreeData struct {
	Tree string `json:"tree"`
}

// SetFactData writes a value into the blackboard that conditions read.
type SetFactData struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// NewCommand marshals data into a Command. A nil data leaves Data empty.
func NewCommand(typ string, data interface{}) (Command, error) {
	cmd := Command{Type: typ}
	if data == nil {
		return cmd, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return cmd, err
	}
	cmd.Data = raw
	return cmd, nil
}
