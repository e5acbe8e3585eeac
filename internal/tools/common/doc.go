// Package common provides shared utilities for tool actions: the action
// and parameter types, argument parsing, the InvalidInput error and the
// instrumentation wrapper applied to every action.
package common
