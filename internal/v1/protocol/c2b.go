package protocol

import "encoding/json"

// C2BTypeAuth is the only typed C2B frame: the first text frame a client
// must send after connecting. Every frame after that is an opaque
// application payload, relayed verbatim inside B2MClientMsg.
const C2BTypeAuth = "auth"

// C2BAuth is the client's auth handshake frame, shaped
// `{"action":"auth","token":"..."}` per §6.
type C2BAuth struct {
	Action string `json:"action"`
	Token  string `json:"token"`
}

func DecodeC2BAuth(data []byte) (C2BAuth, error) {
	var a C2BAuth
	err := json.Unmarshal(data, &a)
	return a, err
}
