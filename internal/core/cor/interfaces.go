// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor (Chain of Responsibility) provides the building blocks the recipe
// pipeline is assembled from: commands that each perform one stage, chains that
// run commands in order, and a context that carries the state of one analysis
// run (inputs, outputs, errors and the staged files that must be removed when
// the run ends).
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys a BaseChain uses to pipe the output of one
// command into the input of the next.
const (
	// CtxIn holds the primary input of the command about to run.
	CtxIn = "__IN__"
	// CtxOut is where a command places its primary output.
	CtxOut = "__OUT__"
)

// Context is the shared state of a single pipeline execution.
type Context interface {
	// SetContext sets the Go context used for cancellation, deadlines and spans.
	SetContext(context context.Context)

	// GetContext returns the current Go context.
	GetContext() context.Context

	// Add stores a value under key and returns the Context for chaining.
	Add(key string, value interface{}) Context

	// AddError records an error produced by the named command.
	AddError(key string, err error)

	// GetErrors returns all recorded errors keyed by command name.
	GetErrors() map[string]error

	// Err returns the recorded errors joined in the order they were added, or
	// nil when the execution succeeded.
	Err() error

	// Get returns the value stored under key, or nil.
	Get(key string) interface{}

	// Remove deletes the value stored under key.
	Remove(key string)

	// HasErrors reports whether any command recorded an error.
	HasErrors() bool

	// AddTempFile tracks a staged file or directory for removal by Close.
	AddTempFile(file string)

	// GetTempFiles returns the tracked staged paths.
	GetTempFiles() []string

	// Close removes every tracked staged path. Callers defer it as soon as the
	// context is created so staged media never outlives the run.
	Close()
}

// Executable is anything with pipeline logic.
type Executable interface {
	Execute(context Context)
}

// Command is one atomic, instrumented stage of the pipeline.
type Command interface {
	Executable

	GetName() string

	// GetInputParam is the context key the command reads its input from.
	GetInputParam() string

	// GetOutputParam is the context key the command writes its output to.
	GetOutputParam() string

	// IsExecutable is checked by the chain before Execute. A command that is
	// not executable is skipped without recording an error.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain is an ordered sequence of commands. A Chain is itself a Command so
// workflows can nest chains.
type Chain interface {
	Command

	// ContinueOnFailure makes the chain run its remaining commands after one
	// of them records an error.
	ContinueOnFailure(bool) Chain

	AddCommand(command Command) Chain
}
