// Package service contains the business logic of the experiment
// platform. It sits between the handler and repository layers:
// handlers hand it validated input, it enforces domain rules (chain
// ordering, linking preconditions, match readiness, payout
// idempotency) and calls repositories for persistence.
//
// Services depend on narrow store interfaces rather than concrete
// repositories so they can be tested against in-memory stubs.
package service
