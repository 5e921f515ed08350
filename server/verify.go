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

package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/fetch"
	"github.com/corvidfed/fedcore/httpsig"
	"github.com/corvidfed/fedcore/store"
)

// verifySender validates a GET request's Cavage signature and resolves the
// signing actor, the same extract-resolve-verify sequence the inbox
// processor runs for inbound activities, minus the activity-actor
// cross-check since a GET carries no activity to compare against.
func (s *Server) verifySender(r *http.Request) (*store.Actor, error) {
	sig, err := httpsig.Extract(r, nil, s.Domain, time.Now(), s.MaxRequestAge)
	if err != nil {
		return nil, apperr.New(apperr.MissingSignature, err)
	}

	keyOwner, _, _ := strings.Cut(sig.KeyID, "#")

	signer, err := s.Fetcher.FetchActor(r.Context(), fetch.ActorOptions{ID: keyOwner})
	if err != nil {
		return nil, apperr.New(apperr.MissingSignature, fmt.Errorf("failed to resolve signer %s: %w", keyOwner, err))
	}

	pub, err := httpsig.DecodePublicKeyPEM([]byte(signer.PublicKeyPEM))
	if err != nil {
		return nil, apperr.New(apperr.InvalidSignatureHeader, fmt.Errorf("failed to decode signer's key: %w", err))
	}

	if err := sig.Verify(pub); err != nil {
		return nil, apperr.New(apperr.InvalidSignatureHeader, fmt.Errorf("signature verification failed: %w", err))
	}

	return signer, nil
}
