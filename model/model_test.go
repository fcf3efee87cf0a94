package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTestCase_EqualityIgnoresSuite(t *testing.T) {
	a := NewTestCase("LoginTests", "testLogin()")
	b := NewTestCase("OtherTests", "testLogin")

	assert.Equal(t, "testLogin", a.Name)
	assert.True(t, a.Equal(b))
	assert.NotEqual(t, a.Identifier(), b.Identifier())
	assert.Equal(t, "LoginTests/testLogin", a.Identifier())
	assert.True(t, ContainsTestCase([]TestCase{b}, a))
}

func TestNode_Identity(t *testing.T) {
	a := Node{Name: "mini-1", Address: "10.0.0.5"}
	b := Node{Name: "renamed", Address: "10.0.0.5", User: "ci"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.IsPrimary())
	assert.True(t, Localhost().IsPrimary())
	assert.True(t, Node{Address: "10.0.0.9", Primary: true}.IsPrimary())
}

func TestConcurrency_YAML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Concurrency
		wantErr bool
	}{
		{name: "auto", input: "concurrent_test_runners: auto", want: Concurrency{}},
		{name: "empty", input: "name: x", want: Concurrency{}},
		{name: "manual", input: "concurrent_test_runners: 3", want: Concurrency{Manual: 3}},
		{name: "zero rejected", input: "concurrent_test_runners: 0", wantErr: true},
		{name: "garbage rejected", input: "concurrent_test_runners: many", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Node
			err := yaml.Unmarshal([]byte(tt.input), &n)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.ConcurrentTestRunners)
		})
	}
}

func TestLatestByTest(t *testing.T) {
	results := []TestCaseResult{
		{Suite: "A", Name: "one", Status: StatusFailed},
		{Suite: "A", Name: "two", Status: StatusPassed},
		{Suite: "A", Name: "one", Status: StatusPassed},
	}

	latest := LatestByTest(results)
	require.Len(t, latest, 2)
	assert.Equal(t, StatusPassed, latest["A/one"].Status)
}

func TestDevice_RuntimeIdentifier(t *testing.T) {
	d := Device{Name: "iPhone 8", OSVersion: "13.5"}
	assert.Equal(t, "com.apple.CoreSimulator.SimRuntime.iOS-13-5", d.RuntimeIdentifier())
	w, h := d.PointSize()
	assert.Equal(t, 375, w)
	assert.Equal(t, 667, h)
}
