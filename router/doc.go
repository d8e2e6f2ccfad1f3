// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package router dispatches engine events to services by topic.
//
// [InitAll] initializes the services in order and registers those
// whose Init succeeded. A service that fails to initialize is absent
// for the rest of the session; events for its topic then take the
// same path as events for a topic nobody registered: one WARN
// diagnostic, and the stream continues.
//
// [Router.Route] never returns an error. Handler errors and panics are
// logged and swallowed.
//
// Slide events are the single exception to pure dispatch: when the
// event carries param.slide, the router records the position through
// the connector before the slide service runs, so the position is
// kept even if the handler fails.
package router
