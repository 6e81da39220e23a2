package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdapter_DefaultPlaceholder(t *testing.T) {
	adapter := NewFakeAdapter()

	output, err := adapter.Call(context.Background(), "k8s", "pods.list", map[string]any{"ns": "default"})

	require.NoError(t, err)
	assert.Equal(t, true, output["fake"])
	assert.Equal(t, "k8s", output["tool"])
	assert.Equal(t, "pods.list", output["method"])
	assert.Equal(t, map[string]any{"ns": "default"}, output["args_echo"])
	assert.Nil(t, output["result"])
}

func TestFakeAdapter_SetResponse(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetResponse("k8s", "pods.list", map[string]any{"pods": []any{"web-1", "web-2"}})

	output, err := adapter.Call(context.Background(), "k8s", "pods.list", nil)

	require.NoError(t, err)
	assert.Equal(t, []any{"web-1", "web-2"}, output["pods"])
}

func TestFakeAdapter_SetResponseFunc_UsesArgs(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetResponseFunc("math", "double", func(args map[string]any) (map[string]any, error) {
		value, _ := args["value"].(int)

		return map[string]any{"result": value * 2}, nil
	})

	output, err := adapter.Call(context.Background(), "math", "double", map[string]any{"value": 21})

	require.NoError(t, err)
	assert.Equal(t, 42, output["result"])
}

func TestFakeAdapter_SetDefaultResponse(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetDefaultResponse(map[string]any{"status": "stubbed"})

	output, err := adapter.Call(context.Background(), "anything", "at.all", nil)

	require.NoError(t, err)
	assert.Equal(t, "stubbed", output["status"])
}

func TestFakeAdapter_RegisteredResponseWinsOverDefault(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetDefaultResponse(map[string]any{"source": "default"})
	adapter.SetResponse("k8s", "pods.list", map[string]any{"source": "registered"})

	output, err := adapter.Call(context.Background(), "k8s", "pods.list", nil)

	require.NoError(t, err)
	assert.Equal(t, "registered", output["source"])
}

func TestFakeAdapter_SetOperationalError(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetOperationalError("k8s", "pods.list", CodeTimeout, "simulated timeout")

	_, err := adapter.Call(context.Background(), "k8s", "pods.list", nil)

	opErr, ok := AsOperational(err)
	require.True(t, ok)
	assert.Equal(t, CodeTimeout, opErr.Code)
	assert.Equal(t, "simulated timeout", opErr.Message)
}

func TestFakeAdapter_SetOperationalError_DefaultCode(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetOperationalError("k8s", "pods.list", "", "tool rejected the call")

	_, err := adapter.Call(context.Background(), "k8s", "pods.list", nil)

	opErr, ok := AsOperational(err)
	require.True(t, ok)
	assert.Equal(t, CodeToolError, opErr.Code)
}

func TestFakeAdapter_SetBugError(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetBugError("k8s", "pods.list", "", "adapter state corrupted")

	_, err := adapter.Call(context.Background(), "k8s", "pods.list", nil)

	bugErr, ok := AsBug(err)
	require.True(t, ok)
	assert.Equal(t, CodeAdapterBug, bugErr.Code)
}

func TestFakeAdapter_CallLog(t *testing.T) {
	adapter := NewFakeAdapter()

	_, err := adapter.Call(context.Background(), "k8s", "pods.list", map[string]any{"ns": "a"})
	require.NoError(t, err)
	_, err = adapter.Call(context.Background(), "db", "query", map[string]any{"sql": "select 1"})
	require.NoError(t, err)

	log := adapter.CallLog()
	require.Len(t, log, 2)
	assert.Equal(t, "pods.list", log[0].Method)
	assert.Equal(t, "query", log[1].Method)
	assert.Equal(t, map[string]any{"ns": "a"}, log[0].Args)
}

func TestFakeAdapter_Reset(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.SetResponse("k8s", "pods.list", map[string]any{"source": "registered"})

	_, err := adapter.Call(context.Background(), "k8s", "pods.list", nil)
	require.NoError(t, err)

	adapter.Reset()

	assert.Empty(t, adapter.CallLog())

	output, err := adapter.Call(context.Background(), "k8s", "pods.list", nil)
	require.NoError(t, err)
	assert.Equal(t, true, output["fake"])
}
