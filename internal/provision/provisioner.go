package provision

import "context"

// WorkerSpec describes the worker a provisioner should bring up.
type WorkerSpec struct {
	Image        string   `json:"image"`
	Env          []string `json:"env,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Provisioner is the external collaborator that creates and destroys worker
// processes. The coordinator only issues requests; the provisioned worker is
// expected to register itself over the API once it is up.
type Provisioner interface {
	// CreateWorker brings up one worker and returns its provisioning handle.
	CreateWorker(ctx context.Context, spec WorkerSpec) (string, error)

	// TerminateWorker tears down the worker behind the given handle or
	// registered worker id.
	TerminateWorker(ctx context.Context, id string) error
}
