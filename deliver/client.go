/*
Copyright 2023 - 2025 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package deliver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/corvidfed/fedcore/apperr"
)

// breakerClient wraps an *http.Client with one circuit breaker per
// destination host, so a host that keeps failing trips a circuit and
// further deliveries to it fail fast (folded into the same retryable
// HttpClient error class the job queue backs off on) instead of paying the
// full per-request timeout for every recipient on that host.
type breakerClient struct {
	HTTP *http.Client

	failThreshold uint32
	openTimeout   time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerClient(httpClient *http.Client, failThreshold uint32, openTimeout time.Duration) *breakerClient {
	return &breakerClient{
		HTTP:          httpClient,
		failThreshold: failThreshold,
		openTimeout:   openTimeout,
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *breakerClient) breakerFor(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[host]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     c.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.failThreshold
		},
	})
	c.breakers[host] = b
	return b
}

// Do sends req through the breaker registered for req.URL.Host, wrapping a
// tripped breaker's error as a retryable apperr.HttpClient error.
func (c *breakerClient) Do(req *http.Request) (*http.Response, error) {
	breaker := c.breakerFor(req.URL.Host)

	resp, err := breaker.Execute(func() (any, error) {
		return c.HTTP.Do(req)
	})
	if err != nil {
		return nil, apperr.New(apperr.HttpClient, fmt.Errorf("request to %s failed: %w", req.URL.Host, err))
	}

	return resp.(*http.Response), nil
}
