package common

const (
	ComponentIngest   = "ingest"
	ComponentFollow   = "follow"
	ComponentDecoder  = "decoder"
	ComponentRegistry = "registry"
	ComponentExpiry   = "expiry"
	ComponentQuery    = "query"
	ComponentChainRPC = "chainrpc"
	ComponentStorage  = "storage"
)

var AllComponents = map[string]struct{}{
	ComponentIngest:   {},
	ComponentFollow:   {},
	ComponentDecoder:  {},
	ComponentRegistry: {},
	ComponentExpiry:   {},
	ComponentQuery:    {},
	ComponentChainRPC: {},
	ComponentStorage:  {},
}
