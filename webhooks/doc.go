// Package webhooks receives Shopify webhook deliveries outside the session
// pipeline.
//
// A delivery is verified against the app secret, claimed by its webhook id
// and dispatched by topic. A failed handler releases the claim so Shopify's
// retry is processed rather than deduped.
package webhooks
