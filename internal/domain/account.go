package domain

import "time"

// Provider selects the transport used for an account.
type Provider string

const (
	ProviderSMTP Provider = "smtp"
	ProviderSES  Provider = "ses"
)

// EmailAccount is a sender identity with its transport credentials.
// For ProviderSES, SMTPUsername holds the access key id and the encrypted
// password holds the secret key.
type EmailAccount struct {
	ID                string     `json:"id" db:"id"`
	OwnerID           string     `json:"owner_id" db:"owner_id"`
	Email             string     `json:"email" db:"email"`
	Provider          Provider   `json:"provider" db:"provider"`
	SMTPHost          string     `json:"smtp_host" db:"smtp_host"`
	SMTPPort          int        `json:"smtp_port" db:"smtp_port"`
	SMTPSecure        bool       `json:"smtp_secure" db:"smtp_secure"`
	SMTPUsername      string     `json:"smtp_username" db:"smtp_username"`
	EncryptedPassword string     `json:"-" db:"smtp_password_encrypted"`
	SESRegion         string     `json:"ses_region,omitempty" db:"ses_region"`
	ReplyTo           string     `json:"reply_to,omitempty" db:"reply_to"`
	HourlyLimit       *int       `json:"hourly_limit,omitempty" db:"hourly_limit"`
	DailyLimit        *int       `json:"daily_limit,omitempty" db:"daily_limit"`
	LastSentAt        *time.Time `json:"last_sent_at,omitempty" db:"last_sent_at"`
	LastSMTPError     string     `json:"last_smtp_error,omitempty" db:"last_smtp_error"`
}
