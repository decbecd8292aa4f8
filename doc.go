// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package hopx provides an HTTP client engine that carries one logical
request across every hop it takes: redirects, authentication challenges
and retries of stale connections.

Create a Client to begin making requests.

	client := &hopx.Client{}
	e, err := client.Get("https://www.example.com")
	...
	e, err := client.Post("https://www.example.com/upload",
		"application/json", &buf)
	...
	e, err := client.PostForm("http://example.com/form",
		url.Values{"key": {"Value"}, "id": {"123"}})

For control over a single request, build a plan with package request
and execute it with Do:

	p, err := request.NewPlan("POST", "https://example.com/thing", body)
	p.Redirect.FollowAll = true
	p.Redirect.MaxRedirects = 3
	p.MaxResponseSize = 1 << 20
	p.ParseJSON = true
	e, err := client.Do(p)

Redirect admission is decided by the plan's redirect.Admission, which
may answer synchronously, through a callback, or with a Future:

	p.Redirect.Admission = redirect.Sync(func(resp *http.Response) redirect.Verdict {
		if resp.Header.Get("Location") == "/logout" {
			return redirect.Deny
		}
		return redirect.Allow
	})

Connections are kept in agents shared through a pool.Registry. Clients
use DefaultPool unless their Pool field, or the plan's, names another
registry:

	client := &hopx.Client{
		Pool: pool.NewRegistry(),
	}

For control over hop timeouts and retries of stale connections, set a
timeout policy from package timeout and a decider from package retry:

	client := &hopx.Client{
		TimeoutPolicy: timeout.PerHop(5*time.Second, 2*time.Second),
		RetryDecider:  retry.Never,
	}

To hook into the fine-grained details of an execution, install a
handler into the appropriate handler chain:

	logger := log.New(os.Stdout, "", log.LstdFlags)
	handlers := &hopx.HandlerGroup{}
	handlers.PushBack(hopx.BeforeHop, hopx.HandlerFunc(
		func(_ hopx.Event, e *request.Execution) {
			logger.Printf("Hop %d to %s", e.Hop(), e.State.URL.Redacted())
		})
	)
	client := &hopx.Client{
		Handlers: handlers,
	}

Package hopx also provides basic interfaces for each method of the
client (Doer, Getter, Header, Poster, FormPoster, and IdleCloser); a
combined interface that composes all the basic methods (Executor); and
utility functions for working with a Doer (Inflate, Get, Head, Post,
and PostForm).
*/
package hopx
