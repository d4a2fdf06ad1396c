// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RejectsNonObjectBody(t *testing.T) {
	_, err := Parse([]byte(`[1,2,3]`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestIsNotification(t *testing.T) {
	cases := []struct {
		name string
		id   string
		want bool
	}{
		{"absent id", ``, true},
		{"explicit null", `null`, true},
		{"numeric id", `7`, false},
		{"string id", `"q"`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := &Message{}
			if c.id != "" {
				m.ID = json.RawMessage(c.id)
			}
			assert.Equal(t, c.want, m.IsNotification())
		})
	}
}

func TestIDKey_NormalizesStringAndNumericToTheSameKey(t *testing.T) {
	assert.Equal(t, "1", IDKey(json.RawMessage(`1`)))
	assert.Equal(t, "1", IDKey(json.RawMessage(`"1"`)))
	assert.Equal(t, "q", IDKey(json.RawMessage(`"q"`)))
}

func TestBuildResponseEnvelope_ResultAlwaysPresentErrorOmittedWhenNull(t *testing.T) {
	m, err := Parse([]byte(`{"jsonrpc":"2.0","id":7,"result":{"x":1}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{"x":1},"id":7}`, string(BuildResponseEnvelope(m)))

	m2, err := Parse([]byte(`{"jsonrpc":"2.0","id":"q","error":{"code":-1,"message":"boom"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":null,"error":{"code":-1,"message":"boom"},"id":"q"}`,
		string(BuildResponseEnvelope(m2)))
}

func TestBuildNotificationEnvelope_ParamsOmittedWhenNull(t *testing.T) {
	m, err := Parse([]byte(`{"jsonrpc":"2.0","method":"tick"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"tick"}`, string(BuildNotificationEnvelope(m)))

	m2, err := Parse([]byte(`{"jsonrpc":"2.0","method":"tick","params":{"n":1}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"tick","params":{"n":1}}`, string(BuildNotificationEnvelope(m2)))
}
