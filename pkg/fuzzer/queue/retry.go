// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package queue

import (
	"fmt"
)

type retryer struct {
	pq   *PlainQueue
	base Source
}

// Retry adds a layer that resends requests with Status=Restarted,
// and important requests once after a worker failure.
func Retry(base Source) Source {
	return &retryer{
		base: base,
		pq:   Plain(),
	}
}

func (r *retryer) Next() (*Request, bool) {
	req, _ := r.pq.Next()
	stop := false
	if req == nil {
		req, stop = r.base.Next()
	}
	if req != nil {
		req.OnDone(r.done)
	}
	return req, stop && r.pq.Len() == 0
}

func (r *retryer) done(req *Request, res *Result) bool {
	switch res.Status {
	case Success, Fault, Timeout:
		return true
	case Restarted:
		// The request never reached the worker.
		r.pq.Submit(req)
		return false
	case Fatal, Inconclusive:
		if req.Important && !req.onceFailed {
			req.onceFailed = true
			r.pq.Submit(req)
			return false
		}
		return true
	default:
		panic(fmt.Sprintf("unhandled status %v", res.Status))
	}
}
