// Package simmer is a declarative recipe engine: YAML recipes describe a
// graph of agent and shell steps over a shared context, and the engine runs
// sessions of those recipes with dependency ordering, conditions, foreach
// loops, retries, timeouts and checkpoint/resume.
//
// The root package re-exports the public API from pkg/api, provides engine
// constructors over the built-in stores, and adds a fluent builder for
// constructing recipes in Go. The outer improvement loop lives in
// pkg/converge.
package simmer
