// Package mcp exposes a merge world to external controllers as MCP tools.
package mcp

// MergeResetInput defines the input for the merge_reset tool.
type MergeResetInput struct {
	Randomize bool `json:"randomize,omitempty" jsonschema:"Reshuffle the vehicles before restarting (default: false)"`
	Training  bool `json:"training,omitempty" jsonschema:"With randomize, sample fresh lanes of the same lengths (default: false)"`
}

// MergeResetOutput defines the output for the merge_reset tool.
type MergeResetOutput struct {
	Observation    int    `json:"observation" jsonschema:"Observation index of the initial state"`
	Left           []int  `json:"left" jsonschema:"Left lane coalition tags, head first"`
	Right          []int  `json:"right" jsonschema:"Right lane coalition tags, head first"`
	StateSpaceSize int    `json:"state_space_size" jsonschema:"Number of distinct observations"`
	Render         string `json:"render" jsonschema:"One-line drawing of both lanes"`
}

// MergeStepInput defines the input for the merge_step tool.
type MergeStepInput struct {
	Ego      int `json:"ego" jsonschema:"Ego action: 0 hold, 1 right, 2 left, 3 both"`
	Opponent int `json:"opponent" jsonschema:"Opponent action: 0 hold, 1 right, 2 left, 3 both"`
}

// MergeStepOutput defines the output for the merge_step tool.
type MergeStepOutput struct {
	Reward      []float64 `json:"reward" jsonschema:"Reward per controller, ego first"`
	Observation int       `json:"observation" jsonschema:"Observation index after the step"`
	Outcome     string    `json:"outcome" jsonschema:"Step outcome kind with payload"`
	Effective   string    `json:"effective" jsonschema:"Effective (left,right) decision, 1 for go"`
	SideEmpty   string    `json:"side_empty" jsonschema:"Lane that was empty before the step: none, left or right"`
	Popped      int       `json:"popped" jsonschema:"Number of vehicles that left"`
	Exited      []int     `json:"exited" jsonschema:"Coalition tags of the vehicles that left, in order"`
	Timestep    int       `json:"timestep" jsonschema:"Episode clock after the step"`
}

// MergeIsEndInput defines the input for the merge_is_end tool.
type MergeIsEndInput struct {
	Coalition int `json:"coalition" jsonschema:"Coalition id: 1 ego, 2 opponent"`
}

// MergeIsEndOutput defines the output for the merge_is_end tool.
type MergeIsEndOutput struct {
	Coalition   int  `json:"coalition" jsonschema:"Coalition id that was checked"`
	Ended       bool `json:"ended" jsonschema:"True the first time the coalition is seen gone from both lanes"`
	TimeToClear int  `json:"time_to_clear" jsonschema:"Recorded time-to-clear, 0 if none"`
}

// MergeIsTerminalInput defines the input for the merge_is_terminal tool.
type MergeIsTerminalInput struct{}

// MergeIsTerminalOutput defines the output for the merge_is_terminal tool.
type MergeIsTerminalOutput struct {
	Terminal   bool              `json:"terminal" jsonschema:"True once either coalition is gone; stays true until reset"`
	Coalitions []CoalitionStatus `json:"coalitions" jsonschema:"Coalitions with their time-to-clear"`
}

// MergeStatusInput defines the input for the merge_status tool.
type MergeStatusInput struct{}

// MergeStatusOutput defines the output for the merge_status tool.
type MergeStatusOutput struct {
	Left           []int             `json:"left" jsonschema:"Left lane coalition tags, head first"`
	Right          []int             `json:"right" jsonschema:"Right lane coalition tags, head first"`
	Observation    int               `json:"observation" jsonschema:"Current observation index"`
	Timestep       int               `json:"timestep" jsonschema:"Episode clock"`
	Terminal       bool              `json:"terminal" jsonschema:"Whether the terminal check has latched"`
	SideEmpty      string            `json:"side_empty" jsonschema:"Lane that was empty before the last step"`
	LastPopped     []int             `json:"last_popped" jsonschema:"Last vehicle released per lane, 0 for none"`
	Steps          int               `json:"steps" jsonschema:"Steps taken this episode"`
	Returns        []float64         `json:"returns" jsonschema:"Accumulated reward this episode, ego first"`
	StateSpaceSize int               `json:"state_space_size" jsonschema:"Number of distinct observations"`
	Coalitions     []CoalitionStatus `json:"coalitions" jsonschema:"Coalitions with their time-to-clear"`
}

// CoalitionStatus summarises one coalition.
type CoalitionStatus struct {
	ID          int `json:"id"`
	Vehicles    int `json:"vehicles"`
	TimeToClear int `json:"time_to_clear"`
}

// MergeRenderInput defines the input for the merge_render tool.
type MergeRenderInput struct{}

// MergeRenderOutput defines the output for the merge_render tool.
type MergeRenderOutput struct {
	Render string `json:"render" jsonschema:"One-line drawing of both lanes, heads at the * marker"`
}
