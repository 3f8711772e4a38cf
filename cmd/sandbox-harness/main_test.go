package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyLimitsFromEnv_NoLimitsSet_NoOp(t *testing.T) {
	t.Setenv("SANDBOX_LIMIT_MEM", "")
	t.Setenv("SANDBOX_LIMIT_CPU", "")

	assert.NoError(t, applyLimitsFromEnv())
}

func TestApplyLimitsFromEnv_InvalidMem_Errors(t *testing.T) {
	t.Setenv("SANDBOX_LIMIT_MEM", "not-a-number")
	t.Setenv("SANDBOX_LIMIT_CPU", "10")

	err := applyLimitsFromEnv()
	assert.ErrorContains(t, err, "SANDBOX_LIMIT_MEM")
}

func TestApplyLimitsFromEnv_InvalidCPU_Errors(t *testing.T) {
	t.Setenv("SANDBOX_LIMIT_MEM", "134217728")
	t.Setenv("SANDBOX_LIMIT_CPU", "not-a-number")

	err := applyLimitsFromEnv()
	assert.ErrorContains(t, err, "SANDBOX_LIMIT_CPU")
}
