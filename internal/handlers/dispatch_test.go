package handlers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsWarmUpRecognizesPing(t *testing.T) {
	require.True(t, IsWarmUp([]byte(`{"warm": true}`)))
}

func TestIsWarmUpRejectsRealEvent(t *testing.T) {
	require.False(t, IsWarmUp([]byte(`{"Records": []}`)))
	require.False(t, IsWarmUp([]byte(`not json`)))
}

func TestNewBatchResponseShapesFailures(t *testing.T) {
	resp := NewBatchResponse([]string{"m1", "m2"})
	require.Equal(t, []BatchItemFailure{{ItemIdentifier: "m1"}, {ItemIdentifier: "m2"}}, resp.BatchItemFailures)
}

func TestNewBatchResponseEmptyOnSuccess(t *testing.T) {
	resp := NewBatchResponse(nil)
	require.Empty(t, resp.BatchItemFailures)
}
