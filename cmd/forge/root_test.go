package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_FallsBackToDefault(t *testing.T) {
	t.Setenv("FORGE_TEST_VAR", "")
	assert.Equal(t, "fallback", getEnv("FORGE_TEST_VAR", "fallback"))
}

func TestGetEnv_UsesSetValue(t *testing.T) {
	t.Setenv("FORGE_TEST_VAR", "set")
	assert.Equal(t, "set", getEnv("FORGE_TEST_VAR", "fallback"))
}
