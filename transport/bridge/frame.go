package bridge

// Frame types on the bridge socket.
const (
	frameSend    = "send"    // client → bridge: deliver text to a user
	frameAck     = "ack"     // bridge → client: outcome of a send
	frameStatus  = "status"  // bridge → client: chat session state
	frameMessage = "message" // bridge → client: text a user sent us
)

// frame is the single JSON envelope used in both directions. Unused fields
// are omitted.
type frame struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	Text   string `json:"text,omitempty"`
	OK     bool   `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	State  string `json:"state,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Message is an inbound chat message.
type Message struct {
	ID     string
	UserID string
	Text   string
}
