package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"

	"github.com/updatewatch/update-sentinel/internal/backend"
	"github.com/updatewatch/update-sentinel/internal/inventory"
)

// Compose labels that steer the update engine per service.
const (
	labelIgnore    = "update-sentinel.ignore"
	labelKind      = "update-sentinel.kind"
	labelNamespace = "update-sentinel.namespace"
)

const defaultServiceScale = 1

// Target is one workload the engine should track, extracted from a
// compose manifest. Version is the image tag; untagged images cannot be
// tracked and are rejected at parse time.
type Target struct {
	Name      string
	Image     string
	Version   string
	Kind      inventory.Kind
	Namespace string
	Replicas  int
	Labels    map[string]string
}

// Manifest is the normalized desired state parsed from one compose file.
type Manifest struct {
	Targets     map[string]Target
	Fingerprint string
}

// Parse loads compose content into update targets. Services labeled
// update-sentinel.ignore=true are dropped; everything else must carry a
// tagged image.
func Parse(ctx context.Context, body []byte) (Manifest, error) {
	if len(body) == 0 {
		return Manifest{}, errors.New("manifest body is empty")
	}

	details := types.ConfigDetails{
		WorkingDir: ".",
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  body,
			},
		},
		Environment: types.Mapping{},
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName("update-sentinel", false)
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("load manifest: %w", err)
	}
	if len(project.Services) == 0 {
		return Manifest{}, errors.New("manifest has no services")
	}

	fingerprint, err := Fingerprint(body)
	if err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		Targets:     make(map[string]Target, len(project.Services)),
		Fingerprint: fingerprint,
	}

	for name, service := range project.Services {
		labels := map[string]string(service.Labels)
		if labels[labelIgnore] == "true" {
			continue
		}
		if service.Image == "" {
			return Manifest{}, fmt.Errorf("service %q missing image", name)
		}

		version := backend.ImageTag(service.Image)
		if version == "" {
			return Manifest{}, fmt.Errorf("service %q image %q has no tag", name, service.Image)
		}

		replicas := defaultServiceScale
		if service.Deploy != nil && service.Deploy.Replicas != nil {
			replicas = *service.Deploy.Replicas
		} else if service.Scale != nil {
			replicas = *service.Scale
		}

		m.Targets[name] = Target{
			Name:      name,
			Image:     backend.NormalizeImage(service.Image),
			Version:   version,
			Kind:      targetKind(labels),
			Namespace: labels[labelNamespace],
			Replicas:  replicas,
			Labels:    labels,
		}
	}

	if len(m.Targets) == 0 {
		return Manifest{}, errors.New("manifest has no tracked services")
	}
	return m, nil
}

func targetKind(labels map[string]string) inventory.Kind {
	switch labels[labelKind] {
	case string(inventory.KindDeployment):
		return inventory.KindDeployment
	case string(inventory.KindStatefulSet):
		return inventory.KindStatefulSet
	case string(inventory.KindDaemonSet):
		return inventory.KindDaemonSet
	case string(inventory.KindHelmRelease):
		return inventory.KindHelmRelease
	default:
		return inventory.KindDockerContainer
	}
}

// Asset converts a target into its inventory representation. Status starts
// unknown until the first reconcile observes the workload.
func (t Target) Asset() inventory.Asset {
	return inventory.Asset{
		Name:           t.Name,
		Kind:           t.Kind,
		Namespace:      t.Namespace,
		CurrentVersion: t.Version,
		Status:         inventory.StatusUnknown,
		Metadata:       map[string]string{"image": t.Image},
	}
}
