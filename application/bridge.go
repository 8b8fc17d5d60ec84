package application

import "context"

// BridgeCommand is the tagged sum type of editor<->core IPC commands
// (spec.md section 6): register/unregister, tiddler changed/deleted, open
// tiddler window, update favicon, request sync, LAN sync fingerprint/
// batch/broadcast, collab editing. Concrete command payloads live in
// infrastructure/bridge; this port only needs the discriminator to route.
type BridgeCommand struct {
	Type    string
	WikiID  string
	Payload []byte // raw JSON, decoded by the bridge once Type is known
}

// Bridge multiplexes one or more editor process connections (desktop IPC
// or the Android HTTP poll bridge) into a single inbound command stream
// and a per-wiki outbound fan-out.
type Bridge interface {
	Start(ctx context.Context) error
	Commands() <-chan BridgeCommand
	EmitToEditors(wikiID string, eventType string, payload any) error
	Stop() error
}
