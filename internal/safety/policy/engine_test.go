package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dr-kube/dr-kube/internal/models"
)

func TestValidateAvailabilityCategory(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name     string
		paths    []string
		wantPass bool
		wantRule string
	}{
		{"memory limit only", []string{"resources.limits.memory"}, false, "no_resource_tuning"},
		{"replicas only", []string{"replicas"}, true, ""},
		{"nested replicas", []string{"checkout.replicas"}, true, ""},
		{"replicas and memory, deny wins", []string{"checkout.replicas", "checkout.resources.limits.memory"}, false, "no_resource_tuning"},
		{"unrelated setting", []string{"checkout.image.tag"}, false, "requires_structural_remediation"},
		{"pdb enabled", []string{"checkout.podDisruptionBudget.enabled"}, true, ""},
		{"retry settings", []string{"gateway.retry.attempts"}, true, ""},
		{"case insensitive deny", []string{"checkout.Resources.Requests.CPU"}, false, "no_resource_tuning"},
		{"hyphenated tokens", []string{"checkout.circuit-breaker"}, false, "requires_structural_remediation"},
		{"camel case is a single token", []string{"checkout.circuitBreaker.enabled"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Validate(models.CategoryPodCrash, tt.paths)
			assert.Equal(t, tt.wantPass, v.Pass, v.Reason)
			assert.Equal(t, tt.wantRule, v.Rule)
			if !tt.wantPass {
				assert.NotEmpty(t, v.Reason)
			}
		})
	}
}

func TestValidateAllAvailabilityCategoriesRestricted(t *testing.T) {
	e := NewEngine()
	for _, c := range []models.Category{
		models.CategoryPodCrash,
		models.CategoryServiceError,
		models.CategoryUpstreamError,
		models.CategoryServiceDown,
	} {
		assert.True(t, e.Restricted(c), c)
		assert.Equal(t, ClassAvailability, e.ClassOf(c))
		assert.False(t, e.Validate(c, []string{"svc.resources.limits.cpu"}).Pass, c)
	}
}

func TestValidateUnrestricted(t *testing.T) {
	e := NewEngine()
	for _, c := range []models.Category{models.CategoryOOM, models.CategoryCPUThrottle, models.CategoryUnknown} {
		assert.False(t, e.Restricted(c))
		v := e.Validate(c, []string{"svc.resources.limits.memory"})
		assert.True(t, v.Pass, c)
	}
}

func TestValidateComposite(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name     string
		paths    []string
		wantPass bool
		wantRule string
	}{
		{"single cpu limit", []string{"serviceA.resources.limits.cpu"}, false, "requires_breadth"},
		{"replicas in two services", []string{"serviceA.replicas", "serviceB.replicas"}, true, ""},
		{"two settings in one section", []string{"serviceA.replicas", "serviceA.timeout"}, true, ""},
		{"resource tuning only", []string{"serviceA.resources.limits.cpu", "serviceB.resources.limits.memory"}, false, "not_resource_tuning_only"},
		{"mixed tuning and structure", []string{"serviceA.resources.limits.cpu", "serviceB.replicas"}, true, ""},
		{"single non-resource path", []string{"serviceA.replicas"}, false, "requires_breadth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Validate(models.CategoryComposite, tt.paths)
			assert.Equal(t, tt.wantPass, v.Pass, v.Reason)
			assert.Equal(t, tt.wantRule, v.Rule)
		})
	}
	assert.Equal(t, ClassComposite, e.ClassOf(models.CategoryComposite))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"checkout", "resources", "limits", "memory"}, tokenize("checkout.resources.limits.memory"))
	assert.Equal(t, []string{"a", "b", "c1"}, tokenize("a-b_c1"))
	assert.Empty(t, tokenize("..."))
}
