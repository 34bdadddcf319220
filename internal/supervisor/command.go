package supervisor

import "encoding/json"

// subscribeCommand is the request sent immediately after each successful
// connect. Every server gets the server and ledger streams; the validations
// stream is added for at most MAX_VAL_STREAMS servers, because every
// connected server reports every validation and the duplicates are pure
// overhead beyond a small redundancy margin.
type subscribeCommand struct {
	Command     string   `json:"command"`
	Streams     []string `json:"streams"`
	LedgerIndex string   `json:"ledger_index"`
}

// buildCommand renders the subscribe payload for one server. valStreams is
// the running count of validation-stream assignments; assignment happens once
// per server at startup and sticks across reconnects.
func buildCommand(hasValidators bool, valStreams *int, maxValStreams int) []byte {
	cmd := subscribeCommand{
		Command:     "subscribe",
		Streams:     []string{"server", "ledger"},
		LedgerIndex: "current",
	}
	if hasValidators && *valStreams < maxValStreams {
		cmd.Streams = append(cmd.Streams, "validations")
		*valStreams++
	}
	payload, _ := json.Marshal(cmd)
	return payload
}
