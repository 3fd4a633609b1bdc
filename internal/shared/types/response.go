package types

// Button is a quick-reply rendered under a bot message.
type Button struct {
	Text  string `json:"text"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// DocumentLink points at a generated file the client can download.
type DocumentLink struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

// Response is the reply to one chat turn.
type Response struct {
	Message        string         `json:"message"`
	ThreadID       string         `json:"thread_id,omitempty"`
	Buttons        []Button       `json:"buttons,omitempty"`
	Widgets        map[string]any `json:"widgets,omitempty"`
	Attachments    []DocumentLink `json:"attachments,omitempty"`
	SessionHandled bool           `json:"session_handled"`
	Source         string         `json:"source,omitempty"`
}

// WithWidget sets a widget entry and returns r for chaining.
func (r *Response) WithWidget(key string, value any) *Response {
	if r.Widgets == nil {
		r.Widgets = make(map[string]any)
	}
	r.Widgets[key] = value
	return r
}

// WithButtons appends quick replies and returns r for chaining.
func (r *Response) WithButtons(buttons ...Button) *Response {
	r.Buttons = append(r.Buttons, buttons...)
	return r
}

// ChatRequest is the inbound chat payload.
type ChatRequest struct {
	Message  string    `json:"message" binding:"required"`
	ThreadID string    `json:"thread_id"`
	Employee *Employee `json:"employee,omitempty"`
}

// WSMessage is a frame on the chat websocket.
type WSMessage struct {
	Type     string    `json:"type"`
	Message  string    `json:"message,omitempty"`
	ThreadID string    `json:"thread_id,omitempty"`
	Employee *Employee `json:"employee,omitempty"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}
