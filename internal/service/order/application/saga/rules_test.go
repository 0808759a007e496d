package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

func TestCompileRules_RejectsBadExpressions(t *testing.T) {
	_, err := CompileRules([]string{"size(items) <"})
	assert.Error(t, err)

	_, err = CompileRules([]string{"userId + 1"})
	assert.Error(t, err, "non-bool rules are rejected at startup")
}

func TestRuleSet_Check(t *testing.T) {
	rules, err := CompileRules([]string{
		"items.all(i, i.quantity <= 10)",
		`status == "PENDING" || userId > 0`,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rules.Len())

	req := sampleRequest()
	assert.NoError(t, rules.Check(req))

	req.Items[0].Quantity = 11
	err = rules.Check(req)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Contains(t, err.Error(), "i.quantity <= 10")
}

func TestRuleSet_NilIsPermissive(t *testing.T) {
	var rules *RuleSet
	assert.NoError(t, rules.Check(sampleRequest()))
	assert.Zero(t, rules.Len())
}

func TestValidator_ParsesStatus(t *testing.T) {
	v := NewValidator(nil)

	req := sampleRequest()
	req.Status = "COMPLETED"
	status, err := v.Validate(req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, status)

	_, err = v.Validate(nil)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}
