package probe

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/updatewatch/update-sentinel/internal/inventory"
)

func int32ptr(v int32) *int32 { return &v }

func deploymentFixture(name, namespace string, desired, ready, updated int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       appsv1.DeploymentSpec{Replicas: int32ptr(desired)},
		Status: appsv1.DeploymentStatus{
			ReadyReplicas:     ready,
			UpdatedReplicas:   updated,
			AvailableReplicas: ready,
		},
	}
}

func TestKubeChecker_DeploymentHealthy(t *testing.T) {
	client := fake.NewSimpleClientset(deploymentFixture("api", "prod", 4, 4, 4))
	checker := NewKubeChecker(client, zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{
		ID: "prod/api", Name: "api", Kind: inventory.KindDeployment, Namespace: "prod",
	})

	if result.Status != StatusHealthy || !result.Healthy {
		t.Fatalf("expected healthy, got %+v", result)
	}
	if result.HealthPercentage != 100.0 {
		t.Fatalf("expected 100%%, got %.1f", result.HealthPercentage)
	}
	if result.ReadyReplicas != 4 || result.TotalReplicas != 4 {
		t.Fatalf("expected 4/4, got %d/%d", result.ReadyReplicas, result.TotalReplicas)
	}
}

func TestKubeChecker_DeploymentDegraded(t *testing.T) {
	client := fake.NewSimpleClientset(deploymentFixture("api", "prod", 4, 2, 2))
	checker := NewKubeChecker(client, zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{
		Name: "api", Kind: inventory.KindDeployment, Namespace: "prod",
	})

	if result.Status != StatusDegraded || result.Healthy {
		t.Fatalf("expected degraded, got %+v", result)
	}
	if result.HealthPercentage != 50.0 {
		t.Fatalf("expected 50%%, got %.1f", result.HealthPercentage)
	}
}

func TestKubeChecker_DeploymentUnhealthy(t *testing.T) {
	client := fake.NewSimpleClientset(deploymentFixture("api", "prod", 4, 0, 0))
	checker := NewKubeChecker(client, zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{
		Name: "api", Kind: inventory.KindDeployment, Namespace: "prod",
	})

	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %+v", result)
	}
	if result.HealthPercentage != 0.0 {
		t.Fatalf("expected 0%%, got %.1f", result.HealthPercentage)
	}
}

func TestKubeChecker_DeploymentStaleRollout(t *testing.T) {
	// All old replicas ready but none updated: degraded, not healthy.
	client := fake.NewSimpleClientset(deploymentFixture("api", "prod", 4, 4, 0))
	checker := NewKubeChecker(client, zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{
		Name: "api", Kind: inventory.KindDeployment, Namespace: "prod",
	})

	if result.Status != StatusDegraded {
		t.Fatalf("expected degraded rollout, got %+v", result)
	}
}

func TestKubeChecker_ZeroDesiredReplicas(t *testing.T) {
	client := fake.NewSimpleClientset(deploymentFixture("api", "prod", 0, 0, 0))
	checker := NewKubeChecker(client, zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{
		Name: "api", Kind: inventory.KindDeployment, Namespace: "prod",
	})

	if result.HealthPercentage != 0.0 {
		t.Fatalf("expected 0%% for zero desired replicas, got %.1f", result.HealthPercentage)
	}
}

func TestKubeChecker_StatefulSetReadySuffices(t *testing.T) {
	statefulSet := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "db", Namespace: "prod"},
		Spec:       appsv1.StatefulSetSpec{Replicas: int32ptr(3)},
		Status:     appsv1.StatefulSetStatus{ReadyReplicas: 3},
	}
	client := fake.NewSimpleClientset(statefulSet)
	checker := NewKubeChecker(client, zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{
		Name: "db", Kind: inventory.KindStatefulSet, Namespace: "prod",
	})

	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy statefulset, got %+v", result)
	}
}

func TestKubeChecker_DaemonSet(t *testing.T) {
	daemonSet := &appsv1.DaemonSet{
		ObjectMeta: metav1.ObjectMeta{Name: "agent", Namespace: "kube-system"},
		Status: appsv1.DaemonSetStatus{
			DesiredNumberScheduled: 5,
			NumberReady:            3,
		},
	}
	client := fake.NewSimpleClientset(daemonSet)
	checker := NewKubeChecker(client, zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{
		Name: "agent", Kind: inventory.KindDaemonSet, Namespace: "kube-system",
	})

	if result.Status != StatusDegraded {
		t.Fatalf("expected degraded daemonset, got %+v", result)
	}
	if result.ReadyReplicas != 3 || result.TotalReplicas != 5 {
		t.Fatalf("expected 3/5, got %d/%d", result.ReadyReplicas, result.TotalReplicas)
	}
}

func TestKubeChecker_NilClient(t *testing.T) {
	checker := NewKubeChecker(nil, zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{Name: "api", Kind: inventory.KindDeployment})
	if result.Status != StatusUnknown {
		t.Fatalf("expected unknown without a client, got %s", result.Status)
	}
}

func TestKubeChecker_UnsupportedKind(t *testing.T) {
	checker := NewKubeChecker(fake.NewSimpleClientset(), zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{Name: "box", Kind: inventory.KindDockerContainer})
	if result.Status != StatusUnknown {
		t.Fatalf("expected unknown for unsupported kind, got %s", result.Status)
	}
}

func TestKubeChecker_MissingResource(t *testing.T) {
	checker := NewKubeChecker(fake.NewSimpleClientset(), zerolog.Nop())

	result := checker.Check(context.Background(), inventory.Asset{Name: "ghost", Kind: inventory.KindDeployment, Namespace: "prod"})
	if result.Status != StatusUnknown {
		t.Fatalf("expected unknown for missing resource, got %s", result.Status)
	}
	if len(result.ChecksFailed) == 0 {
		t.Fatalf("expected the API error recorded in failed checks")
	}
}
