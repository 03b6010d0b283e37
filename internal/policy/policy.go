// Package policy answers the two questions sources ask before building a
// task: is this event authorized, and how should its repository be routed.
package policy

import (
	"strings"

	"dispatchd/internal/config"
)

// Policy evaluates allow-lists and per-repository routing configuration.
type Policy struct {
	owners map[string]bool
	actors map[string]bool
	repos  map[string]config.RepoPolicy
}

// New builds a Policy from configuration.
func New(cfg *config.Config) *Policy {
	p := &Policy{
		owners: make(map[string]bool, len(cfg.AllowedOwners)),
		actors: make(map[string]bool, len(cfg.TriggerActors)),
		repos:  cfg.Repos,
	}
	for _, o := range cfg.AllowedOwners {
		p.owners[strings.ToLower(o)] = true
	}
	for _, a := range cfg.TriggerActors {
		p.actors[strings.ToLower(a)] = true
	}
	return p
}

// IsAuthorized reports whether the actor may trigger work on a repository
// owned by owner. Owners are an explicit allow-set; the actor set is
// optional and empty means allow all.
func (p *Policy) IsAuthorized(actor, owner string) bool {
	if !p.owners[strings.ToLower(owner)] {
		return false
	}
	if len(p.actors) == 0 {
		return true
	}
	return p.actors[strings.ToLower(actor)]
}

// SingleQueue reports whether the repository is configured for strict
// sequential processing.
func (p *Policy) SingleQueue(repo string) bool {
	return p.repos[repo].SingleQueue
}
