package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttemptID(t *testing.T) {
	id, err := parseAttemptID("42")
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	for _, bad := range []string{"", "abc", "0", "-1", "1.5"} {
		_, err := parseAttemptID(bad)
		assert.Error(t, err, bad)
	}
}

func TestAutosubmitRejectsBadArgumentsBeforeLoadingConfig(t *testing.T) {
	cases := [][]string{
		{"autosubmit"},
		{"autosubmit", "abc"},
		{"autosubmit", "1", "2"},
	}
	for _, args := range cases {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		// 不存在的配置目录：若参数校验通过才会报配置错误
		cmd.SetArgs(append(args, "--config", t.TempDir()))

		err := cmd.Execute()
		require.Error(t, err, args)
		assert.NotContains(t, err.Error(), "load config", args)
	}
}

func TestMissingConfigFails(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"sweep", "--config", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
