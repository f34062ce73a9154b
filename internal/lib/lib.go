// Package lib groups modules that do not fit strictly into other
// layers: background job processing (Redis/Asynq), the email client
// (Resend), and shared utilities.
package lib
