package domain

// EmailMessage is a fully rendered message ready for a transport.
type EmailMessage struct {
	FromName  string            `json:"from_name"`
	FromEmail string            `json:"from_email"`
	To        string            `json:"to"`
	ReplyTo   string            `json:"reply_to,omitempty"`
	Subject   string            `json:"subject"`
	HTMLBody  string            `json:"html_body,omitempty"`
	TextBody  string            `json:"text_body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}
