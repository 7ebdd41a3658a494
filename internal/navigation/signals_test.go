package navigation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanscovill/jp-work-automation/internal/browser/browsertest"
)

func TestPageSignalsDrain(t *testing.T) {
	page := browsertest.New()
	page.EvalFunc = func(js string, arg interface{}) (json.RawMessage, error) {
		assert.Equal(t, drainJS, js)
		assert.Nil(t, arg)
		return json.RawMessage(`{"installed":false,"clickedNext":true,"routeChanges":["/contacts"],"contentSize":4210}`), nil
	}
	sig, err := NewPageSignals(page).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Signals{ClickedNext: true, RouteChanges: []string{"/contacts"}, ContentSize: 4210}, sig)
}

func TestPageSignalsErrors(t *testing.T) {
	page := browsertest.New()
	page.EvalFunc = func(string, interface{}) (json.RawMessage, error) {
		return json.RawMessage(`"not an object"`), nil
	}
	_, err := NewPageSignals(page).Drain(context.Background())
	assert.Error(t, err)

	boom := errors.New("execution context was destroyed")
	page.EvalFunc = func(string, interface{}) (json.RawMessage, error) { return nil, boom }
	_, err = NewPageSignals(page).Drain(context.Background())
	assert.ErrorIs(t, err, boom)
}
