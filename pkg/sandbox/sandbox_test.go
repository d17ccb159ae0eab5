package sandbox

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/domain"
)

type fakeBackend struct {
	delay   time.Duration
	fail    error
	calls   int32
	inFlight int32
	maxInFlight int32
}

func (f *fakeBackend) run(ctx context.Context, req Request) (json.RawMessage, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func basePlugin() domain.Plugin {
	return domain.Plugin{ID: "p1", Name: "test-plugin", Mode: domain.SandboxContainer}
}

func TestExecutor_SuccessfulCall(t *testing.T) {
	fb := &fakeBackend{}
	ex := New(fb, nil, nil)

	res, err := ex.Execute(context.Background(), Request{
		Plugin:  basePlugin(),
		Input:   json.RawMessage(`{}`),
		Timeout: time.Second,
	})
	require.Nil(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(res.Output))
}

func TestExecutor_SerializesCallsPerPluginByDefault(t *testing.T) {
	fb := &fakeBackend{delay: 30 * time.Millisecond}
	ex := New(fb, nil, nil)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = ex.Execute(context.Background(), Request{Plugin: basePlugin(), Timeout: time.Second})
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&fb.maxInFlight))
}

func TestExecutor_AllowsConcurrencyWhenMaxConcurrentSet(t *testing.T) {
	fb := &fakeBackend{delay: 30 * time.Millisecond}
	ex := New(fb, nil, nil)

	p := basePlugin()
	p.ResourceLimits.MaxConcurrent = 2

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = ex.Execute(context.Background(), Request{Plugin: p, Timeout: time.Second})
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	assert.Equal(t, int32(2), atomic.LoadInt32(&fb.maxInFlight))
}

func TestExecutor_TimeoutClassifiedAsFailureTimeout(t *testing.T) {
	fb := &fakeBackend{delay: 200 * time.Millisecond}
	ex := New(fb, nil, nil)

	_, err := ex.Execute(context.Background(), Request{
		Plugin:  basePlugin(),
		Timeout: 20 * time.Millisecond,
	})
	require.NotNil(t, err)
	assert.Equal(t, FailureTimeout, err.Kind)
}

func TestExecutor_PluginErrorPropagates(t *testing.T) {
	fb := &fakeBackend{fail: assertError{"boom"}}
	ex := New(fb, nil, nil)

	_, err := ex.Execute(context.Background(), Request{Plugin: basePlugin(), Timeout: time.Second})
	require.NotNil(t, err)
	assert.Equal(t, FailurePluginError, err.Kind)
}

func TestExecutor_InProcessRequiresTrustedPlugin(t *testing.T) {
	ex := New(nil, &fakeBackend{}, nil)
	p := basePlugin()
	p.Mode = domain.SandboxInProcess
	p.Trusted = false

	_, err := ex.Execute(context.Background(), Request{Plugin: p, Timeout: time.Second})
	require.NotNil(t, err)
	assert.Equal(t, FailureInternal, err.Kind)
}

func TestExecutionError_AsRuntimeErrorMapsRetryable(t *testing.T) {
	timeoutErr := &ExecutionError{Kind: FailureTimeout, Message: "x"}
	assert.True(t, timeoutErr.AsRuntimeError().Retryable())

	pluginErr := &ExecutionError{Kind: FailurePluginError, Message: "x"}
	assert.False(t, pluginErr.AsRuntimeError().Retryable())
}

type assertError struct{ msg string }

func (a assertError) Error() string { return a.msg }
