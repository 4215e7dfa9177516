package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestSplitTargetCmd(t *testing.T) {
	args, err := SplitTargetCmd(`./demo 100 "hello world"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"./demo", "100", "hello world"}, args)
}

func TestSplitTargetCmdEmpty(t *testing.T) {
	args, err := SplitTargetCmd("")
	require.NoError(t, err)
	assert.Nil(t, args)
}

func TestSplitTargetCmdErrors(t *testing.T) {
	_, err := SplitTargetCmd("a | b")
	assert.Error(t, err, "multiple commands should be rejected")
	_, err = SplitTargetCmd("echo `id`")
	assert.Error(t, err, "backtick expansion should be rejected")
}

func TestConfigRoundTrip(t *testing.T) {
	in := Config{
		Module:            "libmylib.so",
		Symbol:            "my_traced_function",
		ResolveAttempts:   20,
		ResolveIntervalMs: 100,
		Sink:              "jsonl",
		Output:            "trace.jsonl",
		SampleEvery:       10,
		TargetCmd:         "./demo 1000",
	}
	data, err := yaml.Marshal(in)
	require.NoError(t, err)

	var out Config
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
