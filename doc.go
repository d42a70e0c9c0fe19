// Package nexus provides an asynchronous orchestration pipeline for AI
// requests.
//
// Callers submit opaque requests and poll for outcomes; in between the
// pipeline moves each request through durable lease queues and a set of
// cooperating services:
//
//   - dispatcher – routes queued requests to per-kind worker queues
//   - approval   – optional human-in-the-loop decision gate
//   - worker     – handler pools producing results
//   - poller     – applies results and answers caller waits
//   - gateway    – optional HTTP surface over the whole pipeline
//
// Nexus is designed to be embedded in host applications.  End-users
// typically interact with the pipeline via the high-level Service façade
// exposed by the root package:
//
//	srv, _ := nexus.New(ctx)
//	rt := srv.Runtime()
//	_ = rt.Start(ctx)
//	id, _ := rt.Submit(ctx, "generate", payload, false)
//	outcome, _ := rt.AwaitResult(ctx, id, time.Minute)
//
// For more details see the individual sub-packages.
package nexus
