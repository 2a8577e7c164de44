package probe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/updatewatch/update-sentinel/internal/inventory"
)

// KubeChecker answers health from orchestrator-native readiness: desired
// vs ready (and, for deployments, updated) replica counts read through the
// Kubernetes API. It never mutates cluster state.
type KubeChecker struct {
	client kubernetes.Interface
	logger zerolog.Logger
}

// NewKubeChecker constructs a Kubernetes-native checker. A nil client is
// allowed; checks then report unknown.
func NewKubeChecker(client kubernetes.Interface, logger zerolog.Logger) *KubeChecker {
	return &KubeChecker{client: client, logger: logger}
}

// Check implements Checker, dispatching on the asset's workload kind.
func (c *KubeChecker) Check(ctx context.Context, asset inventory.Asset) Result {
	if c == nil || c.client == nil {
		return unknownResult("Kubernetes API client not available", "Kubernetes API not configured")
	}

	namespace := asset.Namespace
	if namespace == "" {
		namespace = "default"
	}

	switch asset.Kind {
	case inventory.KindDeployment:
		return c.checkDeployment(ctx, asset.Name, namespace)
	case inventory.KindStatefulSet:
		return c.checkStatefulSet(ctx, asset.Name, namespace)
	case inventory.KindDaemonSet:
		return c.checkDaemonSet(ctx, asset.Name, namespace)
	default:
		return unknownResult(
			"cannot perform Kubernetes health check on this asset kind",
			fmt.Sprintf("unsupported asset kind: %s", asset.Kind),
		)
	}
}

func (c *KubeChecker) checkDeployment(ctx context.Context, name, namespace string) Result {
	deployment, err := c.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return apiErrorResult(err)
	}

	desired := 0
	if deployment.Spec.Replicas != nil {
		desired = int(*deployment.Spec.Replicas)
	}
	ready := int(deployment.Status.ReadyReplicas)
	updated := int(deployment.Status.UpdatedReplicas)
	available := int(deployment.Status.AvailableReplicas)

	var passed, failed []string
	if ready == desired {
		passed = append(passed, fmt.Sprintf("all %d/%d replicas ready", ready, desired))
	} else {
		failed = append(failed, fmt.Sprintf("only %d/%d replicas ready", ready, desired))
	}
	if updated == desired {
		passed = append(passed, fmt.Sprintf("all %d replicas updated", updated))
	} else {
		failed = append(failed, fmt.Sprintf("only %d/%d replicas updated", updated, desired))
	}

	// Deployments need both ready and updated at target to count as
	// healthy; a rollout can have every old pod ready while the new
	// template is crash-looping.
	var status Status
	switch {
	case ready == desired && updated == desired:
		status = StatusHealthy
	case ready > 0:
		status = StatusDegraded
	default:
		status = StatusUnhealthy
	}

	pct := percentage(ready, desired)
	return Result{
		Status:           status,
		Healthy:          status == StatusHealthy,
		ReadyReplicas:    ready,
		TotalReplicas:    desired,
		HealthPercentage: pct,
		ChecksPassed:     passed,
		ChecksFailed:     failed,
		Message:          fmt.Sprintf("deployment: %d/%d replicas ready (%.1f%%)", ready, desired, pct),
		Details: map[string]any{
			"desired":   desired,
			"ready":     ready,
			"updated":   updated,
			"available": available,
		},
	}
}

func (c *KubeChecker) checkStatefulSet(ctx context.Context, name, namespace string) Result {
	statefulSet, err := c.client.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return apiErrorResult(err)
	}

	desired := 0
	if statefulSet.Spec.Replicas != nil {
		desired = int(*statefulSet.Spec.Replicas)
	}
	ready := int(statefulSet.Status.ReadyReplicas)

	return replicaResult("statefulset", ready, desired)
}

func (c *KubeChecker) checkDaemonSet(ctx context.Context, name, namespace string) Result {
	daemonSet, err := c.client.AppsV1().DaemonSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return apiErrorResult(err)
	}

	desired := int(daemonSet.Status.DesiredNumberScheduled)
	ready := int(daemonSet.Status.NumberReady)

	return replicaResult("daemonset", ready, desired)
}

// replicaResult classifies plain ready-vs-desired workloads: ready alone
// is enough for these kinds.
func replicaResult(kind string, ready, desired int) Result {
	var passed, failed []string
	var status Status

	switch {
	case ready == desired:
		passed = append(passed, fmt.Sprintf("all %d/%d replicas ready", ready, desired))
		status = StatusHealthy
	case ready > 0:
		failed = append(failed, fmt.Sprintf("only %d/%d replicas ready", ready, desired))
		status = StatusDegraded
	default:
		failed = append(failed, fmt.Sprintf("no replicas ready (0/%d)", desired))
		status = StatusUnhealthy
	}

	pct := percentage(ready, desired)
	return Result{
		Status:           status,
		Healthy:          status == StatusHealthy,
		ReadyReplicas:    ready,
		TotalReplicas:    desired,
		HealthPercentage: pct,
		ChecksPassed:     passed,
		ChecksFailed:     failed,
		Message:          fmt.Sprintf("%s: %d/%d replicas ready (%.1f%%)", kind, ready, desired, pct),
	}
}

func unknownResult(message, check string) Result {
	return Result{
		Status:           StatusUnknown,
		Healthy:          false,
		ReadyReplicas:    0,
		TotalReplicas:    0,
		HealthPercentage: 0.0,
		ChecksFailed:     []string{check},
		Message:          message,
	}
}

func apiErrorResult(err error) Result {
	return unknownResult(
		fmt.Sprintf("Kubernetes API error: %v", err),
		fmt.Sprintf("API error: %v", err),
	)
}
