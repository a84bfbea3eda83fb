// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryerOnRestart(t *testing.T) {
	q := Plain()
	retryerObj := Retry(q)

	q.Submit(&Request{Important: true})
	q.Submit(&Request{Important: false})

	// The requests must be retried forever.
	req1 := next(retryerObj)
	req2 := next(retryerObj)
	for i := 0; i < 10; i++ {
		req1.Done(&Result{Status: Restarted})
		req2.Done(&Result{Status: Restarted})
		assert.Equal(t, req1, next(retryerObj))
		assert.Equal(t, req2, next(retryerObj))
	}

	// Once successful, requests should no longer appear.
	req1.Done(&Result{Status: Success})
	req2.Done(&Result{Status: Timeout})

	assert.Equal(t, Success, req1.Wait(context.Background()).Status)
	assert.Equal(t, Timeout, req2.Wait(context.Background()).Status)

	assert.Nil(t, next(retryerObj))
	assert.Nil(t, next(retryerObj))
}

func TestRetryerOnFatal(t *testing.T) {
	q := Plain()
	retryerObj := Retry(q)

	// Unimportant requests will not be retried.
	req := &Request{Important: false}
	q.Submit(req)
	assert.Equal(t, req, next(retryerObj))
	req.Done(&Result{Status: Fatal})
	assert.Nil(t, next(retryerObj))
	assert.Equal(t, Fatal, req.Wait(context.Background()).Status)

	// Important requests will be retried once.
	req = &Request{Important: true}
	q.Submit(req)
	assert.Equal(t, req, next(retryerObj))
	req.Done(&Result{Status: Inconclusive})
	assert.True(t, req.Risky())
	assert.Equal(t, req, next(retryerObj))
	req.Done(&Result{Status: Success})
	assert.Nil(t, next(retryerObj))
	assert.Equal(t, Success, req.Wait(context.Background()).Status)

	// .. but not more than once.
	req = &Request{Important: true}
	q.Submit(req)
	assert.Equal(t, req, next(retryerObj))
	req.Done(&Result{Status: Fatal})
	assert.Equal(t, req, next(retryerObj))
	req.Done(&Result{Status: Fatal})
	assert.Nil(t, next(retryerObj))
	assert.Equal(t, Fatal, req.Wait(context.Background()).Status)
}

func TestRetryerStop(t *testing.T) {
	retryerObj := Retry(Callback(func() (*Request, bool) { return nil, true }))
	req, stop := retryerObj.Next()
	assert.Nil(t, req)
	assert.True(t, stop)
}
