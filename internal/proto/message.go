package proto

// Actions a client may send over the socket.
const (
	ActionJoin   = "join"
	ActionUpdate = "update"
	ActionPing   = "ping"
	ActionLeave  = "leave"
)

// Events pushed to clients when presence changes elsewhere.
const (
	EventRemoteJoin   = "remote join/update"
	EventRemoteLeave  = "remote leave"
	EventRemoteExpire = "remote expire"
	EventExpired      = "expired"
)

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Action   string            `json:"action"`
	SpaceID  string            `json:"space_id,omitempty"`
	Identity string            `json:"identity,omitempty"`
	ClientID string            `json:"client_id,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// JoinAck is sent to a client right after a successful join. Clients holds
// the serialized records of every member currently present in the space,
// including the joining client itself.
type JoinAck struct {
	ID      string              `json:"id"`
	Clients []map[string]string `json:"clients"`
}

// Event notifies a client about a presence change in its space. Client is
// the serialized record of the subject; on leave/expire only the fields
// decodable from the presence key remain.
type Event struct {
	Event  string            `json:"event"`
	Client map[string]string `json:"client,omitempty"`
}

// LeaveAck confirms an explicit leave before the socket is closed.
type LeaveAck struct {
	Action string `json:"action"`
}

// Ping is the transport-level keepalive frame sent by the server.
type Ping struct {
	Ping bool `json:"ping"`
}

// ErrorDetail is a single rejection reason.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// Errors is the envelope for rejected operations.
type Errors struct {
	Errors []ErrorDetail `json:"errors"`
}

// NewErrors builds an Errors frame from detail strings.
func NewErrors(details ...string) Errors {
	out := Errors{Errors: make([]ErrorDetail, 0, len(details))}
	for _, d := range details {
		out.Errors = append(out.Errors, ErrorDetail{Detail: d})
	}
	return out
}
