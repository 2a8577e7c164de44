package inventory

import (
	"context"
	"time"
)

// Kind identifies the workload type behind an asset.
type Kind string

const (
	KindDockerContainer Kind = "docker_container"
	KindDeployment      Kind = "k8s_deployment"
	KindStatefulSet     Kind = "k8s_statefulset"
	KindDaemonSet       Kind = "k8s_daemonset"
	KindHelmRelease     Kind = "helm_release"
)

// Status is the asset's position in its update lifecycle.
type Status string

const (
	StatusActive     Status = "active"
	StatusUpdating   Status = "updating"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusUnknown    Status = "unknown"
)

// Asset is a tracked workload. The update engine reads CurrentVersion,
// Kind, and Namespace, and writes Status and CurrentVersion after a
// confirmed change; everything else belongs to whoever populates the store.
type Asset struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Kind            Kind              `json:"kind"`
	Namespace       string            `json:"namespace,omitempty"`
	CurrentVersion  string            `json:"current_version"`
	PreviousVersion string            `json:"previous_version,omitempty"`
	Status          Status            `json:"status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Kind      Kind
	Status    Status
	Namespace string
}

// Matches reports whether the asset satisfies every set filter field.
func (f Filter) Matches(asset Asset) bool {
	if f.Kind != "" && asset.Kind != f.Kind {
		return false
	}
	if f.Status != "" && asset.Status != f.Status {
		return false
	}
	if f.Namespace != "" && asset.Namespace != f.Namespace {
		return false
	}
	return true
}

// Store is the inventory collaborator the update engine depends on.
type Store interface {
	Get(ctx context.Context, id string) (Asset, error)
	List(ctx context.Context, filter Filter) ([]Asset, error)
	Put(ctx context.Context, asset Asset) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateVersion(ctx context.Context, id string, newVersion string) error
}
