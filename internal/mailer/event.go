// Package mailer carries account emails over the message broker. The HTTP
// layer only enqueues; a background consumer owns delivery, so a slow or
// dead mail path never blocks registration.
package mailer

// ActivationQueue is the durable queue carrying activation emails.
const ActivationQueue = "user.activation_email"

// ActivationEmail asks the consumer to mail a one-time activation code.
// It carries everything delivery needs so the consumer never hits the
// primary database.
type ActivationEmail struct {
	UserUUID    string `json:"user_uuid"`
	Email       string `json:"email"`
	Code        string `json:"code"`
	RequestedAt string `json:"requested_at"`
}
