package policy

import (
	"testing"

	"dispatchd/internal/config"
)

func TestIsAuthorizedOwners(t *testing.T) {
	p := New(&config.Config{AllowedOwners: []string{"Acme"}})

	if !p.IsAuthorized("anyone", "acme") {
		t.Error("owner match should be case insensitive")
	}
	if p.IsAuthorized("anyone", "rivals") {
		t.Error("unknown owner must be rejected")
	}
	if p.IsAuthorized("anyone", "") {
		t.Error("empty owner must be rejected")
	}
}

func TestIsAuthorizedActors(t *testing.T) {
	p := New(&config.Config{
		AllowedOwners: []string{"acme"},
		TriggerActors: []string{"alice", "Bob"},
	})

	if !p.IsAuthorized("alice", "acme") {
		t.Error("listed actor should be authorized")
	}
	if !p.IsAuthorized("BOB", "acme") {
		t.Error("actor match should be case insensitive")
	}
	if p.IsAuthorized("mallory", "acme") {
		t.Error("unlisted actor must be rejected when the set is non-empty")
	}
}

func TestIsAuthorizedEmptyActorSet(t *testing.T) {
	p := New(&config.Config{AllowedOwners: []string{"acme"}})
	if !p.IsAuthorized("anyone-at-all", "acme") {
		t.Error("empty actor set means every actor is allowed")
	}
}

func TestSingleQueue(t *testing.T) {
	p := New(&config.Config{
		AllowedOwners: []string{"acme"},
		Repos: map[string]config.RepoPolicy{
			"acme/widgets": {SingleQueue: true},
		},
	})

	if !p.SingleQueue("acme/widgets") {
		t.Error("configured repo should be single-queue")
	}
	if p.SingleQueue("acme/other") {
		t.Error("unconfigured repo defaults to parallel")
	}
}
