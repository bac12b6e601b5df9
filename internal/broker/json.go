package broker

import "encoding/json"

// mustJSON marshals v for embedding in a wire.Frame's Payload. The values
// passed here are always broker-internal literals (maps of primitives,
// wire structs), never user input, so a marshal failure would indicate a
// programming error.
func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("broker: mustJSON: " + err.Error())
	}
	return b
}
