// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/digo9606/Notate-sub000/config"
)

// newStreamingClient builds the HTTP client shared by streaming adapters.
// Connection setup phases are bounded individually; the body read carries no
// overall deadline, since a healthy generation can run for minutes, and is
// cancelled through the request context instead. headerTimeout bounds the
// wait for response headers, which covers slow model loads.
func newStreamingClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
		},
	}
}

// NewDefaultRegistry wires every built-in backend under its canonical name.
// Hosts that only need a subset can build a Registry by hand instead.
func NewDefaultRegistry(cfg *config.Config, resolver CredentialResolver, logger *logrus.Logger) *Registry {
	httpClient := newStreamingClient(cfg.Providers.RequestTimeout)

	r := NewRegistry()
	r.Register(NewOpenAI(resolver, logger))
	r.Register(NewOpenRouter(resolver, cfg.Providers.OpenRouterURL, logger))
	r.Register(NewDeepSeek(resolver, cfg.Providers.DeepSeekURL, logger))
	r.Register(NewXAI(resolver, cfg.Providers.XAIURL, logger))
	r.Register(NewAzureOpenAI(resolver, logger))
	r.Register(NewCustom(resolver, logger))
	r.Register(NewGemini(resolver, logger))
	r.Register(NewAnthropic(resolver, cfg.Providers.AnthropicURL, httpClient, logger))
	r.Register(NewOllama(cfg.Providers.OllamaURL, nil, logger))
	r.Register(NewLocalDaemon(resolver, cfg.Providers.LocalDaemonURL, cfg.Providers.LocalStartupWait, logger))
	return r
}
