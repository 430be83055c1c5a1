// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/depictio/depictio/pkg/extensions"
)

// OAuthLogin issues a single-use state token and hands the browser the
// provider login URL to redirect to. The state round-trips through the
// provider and is consumed exactly once by the callback, which is what
// blocks login CSRF and replayed callbacks.
//
// An empty issuerURL means no external provider is configured; the
// endpoint then reports the state alone so callers can see that login
// is local-only.
func OAuthLogin(states *extensions.StateStore, issuerURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := states.Issue()

		body := gin.H{"state": state}
		if issuerURL != "" {
			redirect := fmt.Sprintf("%s://%s/auth/callback", schemeOf(c.Request), c.Request.Host)
			body["login_url"] = fmt.Sprintf("%s?state=%s&redirect_uri=%s",
				issuerURL, url.QueryEscape(state), url.QueryEscape(redirect))
		}

		slog.Info("oauth login state issued", "pending_states", states.Len())
		c.JSON(http.StatusOK, body)
	}
}

// OAuthCallback validates the state returned by the provider. Token
// exchange happens in the configured AuthProvider; this endpoint only
// closes the state loop opened by OAuthLogin.
func OAuthCallback(states *extensions.StateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := c.Query("state")
		if state == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing state parameter"})
			return
		}

		if !states.Consume(state) {
			slog.Warn("oauth callback with unknown or expired state")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired state"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
