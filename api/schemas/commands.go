// api/schemas/commands.go
package schemas

// Action identifies one of the fixed page operations the external agent may
// request. The set is closed: anything else is rejected at the dispatch
// boundary as an invalid action.
type Action string

const (
	ActionOpenURL              Action = "open_url"
	ActionInputText            Action = "input_text"
	ActionClick                Action = "click"
	ActionRightClick           Action = "right_click"
	ActionDoubleClick          Action = "double_click"
	ActionScrollTo             Action = "scroll_to"
	ActionExtractContent       Action = "extract_content"
	ActionGetDropdownOptions   Action = "get_dropdown_options"
	ActionSelectDropdownOption Action = "select_dropdown_option"
	ActionScreenshotExtract    Action = "screenshot_extract_element"
)

// Valid reports whether the action is one of the enumerated commands.
func (a Action) Valid() bool {
	switch a {
	case ActionOpenURL, ActionInputText, ActionClick, ActionRightClick,
		ActionDoubleClick, ActionScrollTo, ActionExtractContent,
		ActionGetDropdownOptions, ActionSelectDropdownOption,
		ActionScreenshotExtract:
		return true
	}
	return false
}

// RequiresIndex reports whether the action references a highlight index.
func (a Action) RequiresIndex() bool {
	switch a {
	case ActionInputText, ActionClick, ActionRightClick, ActionDoubleClick,
		ActionScrollTo, ActionGetDropdownOptions, ActionSelectDropdownOption:
		return true
	}
	return false
}

// RequiresText reports whether the action carries a mandatory text payload
// (a URL for open_url, input text otherwise).
func (a Action) RequiresText() bool {
	switch a {
	case ActionOpenURL, ActionInputText, ActionSelectDropdownOption:
		return true
	}
	return false
}

// CommandRequest is the single request object consumed from the planning
// agent. Index is a pointer so "index 0" and "index absent" are
// distinguishable on the wire.
type CommandRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index,omitempty"`
	Text   string `json:"text,omitempty"`
}

// DropdownOption describes one <option> of a <select> element.
type DropdownOption struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Value string `json:"value"`
}

// DropdownInfo is the payload of get_dropdown_options.
type DropdownInfo struct {
	Options []DropdownOption `json:"options"`
	ID      string           `json:"id"`
	Name    string           `json:"name"`
}

// ScreenshotData carries a base64-encoded compressed screenshot together
// with its media type, ready for an agent's multimodal context.
type ScreenshotData struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// CommandResult is the single response object returned for every command.
// Success and Error form the uniform failure variant; the remaining fields
// are populated per action as tabulated in the command contracts.
type CommandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// open_url / extract_content
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`

	// screenshot_extract_element
	Screenshot *ScreenshotData `json:"image,omitempty"`
	Elements   string          `json:"text,omitempty"`

	// dropdown commands
	Dropdown         *DropdownInfo `json:"dropdown,omitempty"`
	SelectedValue    string        `json:"selectedValue,omitempty"`
	SelectedText     string        `json:"selectedText,omitempty"`
	AvailableOptions []string      `json:"availableOptions,omitempty"`
}

// Failure builds the uniform failure variant.
func Failure(msg string) CommandResult {
	return CommandResult{Success: false, Error: msg}
}
