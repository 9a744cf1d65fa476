/*
Package observability turns controller lifecycle events into Prometheus metrics and
structured log lines.

Both are plain domain.LifecycleHooks, so they can be combined with any other hooks
through controller.WithLifecycleHooks.
*/
package observability
