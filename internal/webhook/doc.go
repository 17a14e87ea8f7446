// Package webhook receives repository push notifications and decides, before
// any work is scheduled, whether each one is authentic and relevant.
//
// # Request Flow
//
//  1. GET on the webhook path answers 200 (liveness check)
//  2. POST: per-source rate limit (429 when exceeded, if enabled)
//  3. Body size checked (413 if too large)
//  4. Remote address checked against GitHub's published hook ranges
//     (403, if verify_github_ip is set)
//  5. HMAC signature over the raw body, constant-time compare (403, when a
//     secret is configured)
//  6. Classify: JSON body, push event, configured repository, configured
//     branch. Non-JSON is 400; the others answer 202 and queue nothing
//  7. Dispatch one build job (500 if the queue rejects it, else 200)
//
// All responses are short text/plain messages. Signature failures never
// say why.
//
// The handler never waits for a build.
package webhook
