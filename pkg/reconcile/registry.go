package reconcile

import (
	"errors"
	"sync"
)

// ErrOperationNotFound is returned when no operation is registered for the
// requested key.
var ErrOperationNotFound = errors.New("deployment operation not found")

// Registry indexes running and finished poll handles. The orchestrator
// keeps no other cross-call state: one handle per operation id, plus the
// latest handle per organization for the status query path. Converged
// handles stay registered so their final report and manual sync remain
// reachable; they are dropped once a newer deployment for the same
// organization supersedes them, which bounds the registry by organizations
// rather than by deployments run.
type Registry struct {
	mu             sync.RWMutex
	byOperation    map[string]*Handle
	byOrganization map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byOperation:    make(map[string]*Handle),
		byOrganization: make(map[string]*Handle),
	}
}

// Add registers a handle under its operation id and as the organization's
// latest operation.
func (r *Registry) Add(h *Handle) {
	op := h.Tracker().Operation()
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byOrganization[op.OrganizationID]; ok && prev.Tracker().State().Terminal() {
		delete(r.byOperation, prev.Tracker().Operation().OperationID)
	}
	r.byOperation[op.OperationID] = h
	r.byOrganization[op.OrganizationID] = h
}

// ByOperation returns the handle for an operation id.
func (r *Registry) ByOperation(operationID string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byOperation[operationID]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return h, nil
}

// ByOrganization returns the latest handle for an organization.
func (r *Registry) ByOrganization(organizationID string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byOrganization[organizationID]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return h, nil
}

// CancelAll stops every registered poll loop; used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.byOperation {
		h.Cancel()
	}
}
