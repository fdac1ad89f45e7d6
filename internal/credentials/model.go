package credentials

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// GmailComposeScope is the only scope the Gmail API transport needs.
	GmailComposeScope = "https://www.googleapis.com/auth/gmail.compose"
	// GmailFullScope is required for XOAUTH2 on smtp.gmail.com.
	GmailFullScope = "https://mail.google.com/"
)

// expiryDelta matches the early expiry applied by golang.org/x/oauth2.
const expiryDelta = 10 * time.Second

type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	Scope        string    `json:"scope"`
}

// Valid reports whether c can authorize requests for scope at now. A zero
// expiry never expires.
func (c *Credential) Valid(scope string, now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if !c.Expiry.IsZero() && !now.Add(expiryDelta).Before(c.Expiry) {
		return false
	}
	return c.HasScope(scope)
}

// HasScope reports whether scope is among the space separated granted scopes.
func (c *Credential) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	if scope == "" {
		return true
	}
	return slices.Contains(strings.Fields(c.Scope), scope)
}

// Refreshable reports whether a refresh token exchange can be attempted.
func (c *Credential) Refreshable(scope string) bool {
	return c != nil && c.RefreshToken != "" && c.HasScope(scope)
}

func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// FromToken converts t into a Credential. The granted scope reported by the
// token endpoint wins over requested.
func FromToken(t *oauth2.Token, requested string) Credential {
	scope := requested
	if granted, ok := t.Extra("scope").(string); ok && granted != "" {
		scope = granted
	}

	return Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
		Scope:        scope,
	}
}
