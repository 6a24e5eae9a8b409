package models

// CanonicalChanges is the inbound feed record: changes from the canonical
// store for one collection.
type CanonicalChanges struct {
	CollectionName string     `json:"collectionName" validate:"required"`
	Changes        []Document `json:"changes"`
}

const (
	TransportMessageChanges    = "changes"
	TransportMessageCheckpoint = "checkpoint"
)

// TransportMessage is what gets delivered to the host for a push batch or a
// checkpoint acknowledgement.
type TransportMessage struct {
	Type           string      `json:"type"`
	CollectionName string      `json:"collectionName"`
	ChangedDocs    []Document  `json:"changedDocs,omitempty"`
	Checkpoint     *Checkpoint `json:"checkpoint,omitempty"`
}

// ReplicationStatus is the externally visible state of one collection.
type ReplicationStatus struct {
	Collection string     `json:"collection"`
	Checkpoint Checkpoint `json:"checkpoint"`
	Leader     bool       `json:"leader"`
	Queued     int        `json:"queued"`
	Started    bool       `json:"started"`
	LastError  string     `json:"lastError,omitempty"`
}
